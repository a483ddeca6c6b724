package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civichub/planengine/pkg/httputil"
	"github.com/civichub/planengine/pkg/observability"
	"github.com/civichub/planengine/pkg/plans"
)

type stubEnforcer struct {
	err      error
	calls    int
	tenantID int64
	action   plans.Action
}

func (s *stubEnforcer) Enforce(ctx context.Context, tenantID int64, action plans.Action) error {
	s.calls++
	s.tenantID = tenantID
	s.action = action
	return s.err
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusCreated)
	})
}

func newRouter(enforcer QuotaEnforcer, called *bool) *mux.Router {
	router := mux.NewRouter()
	router.Use(TenantContext("tenant_id"))
	gate := NewQuotaMiddleware(enforcer).Enforce(plans.ActionCreateOffer)
	router.Handle("/tenants/{tenant_id}/offers", gate(okHandler(called))).Methods(http.MethodPost)
	router.Handle("/public/offers", gate(okHandler(called))).Methods(http.MethodPost)
	return router
}

func withNopLogger(r *http.Request) *http.Request {
	return r.WithContext(observability.WithLogger(r.Context(), observability.NewNopLogger()))
}

func TestQuotaMiddleware_Allows(t *testing.T) {
	enforcer := &stubEnforcer{}
	var called bool
	w := httptest.NewRecorder()

	newRouter(enforcer, &called).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tenants/42/offers", nil))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, called)
	assert.Equal(t, int64(42), enforcer.tenantID)
	assert.Equal(t, plans.ActionCreateOffer, enforcer.action)
}

func TestQuotaMiddleware_Denies(t *testing.T) {
	enforcer := &stubEnforcer{err: &plans.QuotaExceededError{
		Action:   plans.ActionCreateOffer,
		Current:  3,
		Limit:    3,
		PlanName: "Entry",
		Reason:   "Your plan Entry allows up to 3 offers. Upgrade to add more.",
	}}
	var called bool
	w := httptest.NewRecorder()

	newRouter(enforcer, &called).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tenants/42/offers", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, called)

	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Your plan Entry allows up to 3 offers. Upgrade to add more.", resp.Error)
	assert.Equal(t, "3", resp.Details["limit"])
	assert.Equal(t, "Entry", resp.Details["plan"])
}

func TestQuotaMiddleware_EngineFailure(t *testing.T) {
	enforcer := &stubEnforcer{err: errors.Join(plans.ErrCatalogMisconfigured)}
	var called bool
	w := httptest.NewRecorder()

	req := withNopLogger(httptest.NewRequest(http.MethodPost, "/tenants/42/offers", nil))
	newRouter(enforcer, &called).ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, called)
	assert.NotContains(t, w.Body.String(), "catalog")
}

func TestQuotaMiddleware_NoTenantSkipsCheck(t *testing.T) {
	enforcer := &stubEnforcer{err: errors.New("must not be called")}
	var called bool
	w := httptest.NewRecorder()

	req := withNopLogger(httptest.NewRequest(http.MethodPost, "/public/offers", nil))
	newRouter(enforcer, &called).ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, called)
	assert.Zero(t, enforcer.calls)
}

func TestTenantContext_InvalidID(t *testing.T) {
	for _, id := range []string{"abc", "0", "-4"} {
		t.Run(id, func(t *testing.T) {
			enforcer := &stubEnforcer{}
			var called bool
			w := httptest.NewRecorder()

			newRouter(enforcer, &called).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tenants/"+id+"/offers", nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, called)
		})
	}
}

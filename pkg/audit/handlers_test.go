package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSearcher struct {
	events []*Event
	err    error
	filter SearchFilter
}

func (s *stubSearcher) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	s.filter = filter
	return s.events, s.err
}

func serveAudit(t *testing.T, store Searcher, target string) *httptest.ResponseRecorder {
	t.Helper()
	router := mux.NewRouter()
	NewHandlers(store).RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandlers_TenantHistory(t *testing.T) {
	store := &stubSearcher{events: []*Event{upgradeEvent(7)}}

	rec := serveAudit(t, store, "/tenants/7/history?type=plan.upgraded,quota.denied&status=success&since=2026-01-01&limit=20&offset=5")
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, store.filter.TenantID)
	assert.Equal(t, int64(7), *store.filter.TenantID)
	assert.Equal(t, []EventType{EventTypePlanUpgraded, EventTypeQuotaDenied}, store.filter.EventTypes)
	require.NotNil(t, store.filter.Status)
	assert.Equal(t, EventStatusSuccess, *store.filter.Status)
	require.NotNil(t, store.filter.StartTime)
	assert.Equal(t, 2026, store.filter.StartTime.Year())
	assert.Nil(t, store.filter.EndTime)
	assert.Equal(t, 20, store.filter.Limit)
	assert.Equal(t, 5, store.filter.Offset)

	var body struct {
		Events []*Event `json:"events"`
		Count  int      `json:"count"`
		Limit  int      `json:"limit"`
		Offset int      `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, 20, body.Limit)
	assert.Equal(t, "standard", body.Events[0].ToTier)
}

func TestHandlers_ListEvents(t *testing.T) {
	store := &stubSearcher{events: []*Event{}}

	rec := serveAudit(t, store, "/audit/events?type=catalog.published&type=catalog.reloaded")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, store.filter.TenantID)
	assert.Len(t, store.filter.EventTypes, 2)
	assert.Contains(t, rec.Body.String(), `"limit":100`)

	rec = serveAudit(t, store, "/audit/events?tenant_id=3")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.filter.TenantID)
	assert.Equal(t, int64(3), *store.filter.TenantID)

	rec = serveAudit(t, store, "/audit/events?tenant_id=three")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_ExportFormats(t *testing.T) {
	store := &stubSearcher{events: []*Event{upgradeEvent(7)}}

	rec := serveAudit(t, store, "/tenants/7/history?format=csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "ID,Timestamp"))

	rec = serveAudit(t, store, "/tenants/7/history?format=ndjson")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	rec = serveAudit(t, store, "/tenants/7/history?format=xml")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_InvalidQuery(t *testing.T) {
	store := &stubSearcher{}

	for _, target := range []string{
		"/tenants/7/history?limit=-1",
		"/tenants/7/history?offset=many",
		"/tenants/7/history?since=yesterday",
		"/tenants/abc/history",
	} {
		rec := serveAudit(t, store, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHandlers_SearchError(t *testing.T) {
	store := &stubSearcher{err: errors.New("db down")}

	rec := serveAudit(t, store, "/tenants/7/history")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/civichub/planengine/pkg/audit"
	"github.com/civichub/planengine/pkg/httputil"
	"github.com/civichub/planengine/pkg/middleware"
	"github.com/civichub/planengine/pkg/observability"
	"github.com/civichub/planengine/pkg/plans"
	"github.com/civichub/planengine/pkg/webhooks"
)

// maxBodyBytes bounds request bodies; the largest is an upgrade request
const maxBodyBytes = 64 << 10

// Engine is everything the server needs from the plan engine
type Engine interface {
	PlanService
	middleware.QuotaEnforcer
}

// ServerOption customizes NewServer
type ServerOption func(*serverOptions)

type serverOptions struct {
	auditHistory audit.Searcher
	webhooks     *webhooks.Notifier
}

// WithAuditHistory serves the audit trail at /audit/events and /tenants/{tenant_id}/history
func WithAuditHistory(searcher audit.Searcher) ServerOption {
	return func(o *serverOptions) {
		o.auditHistory = searcher
	}
}

// WithWebhooks serves endpoint management for notifier at /webhooks
func WithWebhooks(notifier *webhooks.Notifier) ServerOption {
	return func(o *serverOptions) {
		o.webhooks = notifier
	}
}

// NewServer builds the HTTP handler for the plan engine API under /api/v1
func NewServer(engine Engine, logger *observability.Logger, metrics *observability.Metrics, opts ...ServerOption) http.Handler {
	var options serverOptions
	for _, opt := range opts {
		opt(&options)
	}

	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(middleware.TenantContext("tenant_id"))

	NewPlanHandlers(engine).RegisterRoutes(v1)
	registerAuthorizeRoutes(v1, middleware.NewQuotaMiddleware(engine))
	if options.auditHistory != nil {
		audit.NewHandlers(options.auditHistory).RegisterRoutes(v1)
	}
	if options.webhooks != nil {
		webhooks.NewHandlers(options.webhooks).RegisterRoutes(v1)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "route not found")
	})

	return httputil.Chain(
		httputil.RequestIDMiddleware(logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)(router)
}

// registerAuthorizeRoutes exposes the quota gate to other services: 204 when
// the tenant may perform the action, 403 with the plan's reason when not
func registerAuthorizeRoutes(router *mux.Router, quota *middleware.QuotaMiddleware) {
	allowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	for _, action := range quotaActions {
		router.Handle("/tenants/{tenant_id}/quotas/"+string(action)+"/authorize",
			quota.Enforce(action)(allowed)).Methods(http.MethodPost)
	}
}

var _ Engine = (*plans.Engine)(nil)

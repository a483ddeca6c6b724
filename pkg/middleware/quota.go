package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/civichub/planengine/pkg/httputil"
	"github.com/civichub/planengine/pkg/observability"
	"github.com/civichub/planengine/pkg/plans"
)

// QuotaEnforcer is the part of the engine the gate needs
type QuotaEnforcer interface {
	Enforce(ctx context.Context, tenantID int64, action plans.Action) error
}

// QuotaMiddleware gates tenant actions on their plan limits.
// The check is made before the handler runs; the handler performs the action.
type QuotaMiddleware struct {
	enforcer QuotaEnforcer
}

// NewQuotaMiddleware creates a new QuotaMiddleware
func NewQuotaMiddleware(enforcer QuotaEnforcer) *QuotaMiddleware {
	return &QuotaMiddleware{enforcer: enforcer}
}

// Enforce returns a gate for action.
//
// REQUIRES: TenantContext must run before this middleware
// Returns: 403 Forbidden if the plan limit is reached
func (m *QuotaMiddleware) Enforce(action plans.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tenantID := observability.GetTenantID(ctx)
			if tenantID == 0 {
				observability.FromContext(ctx).WithField("action", string(action)).
					Warn("quota gate reached without tenant context, skipping check")
				next.ServeHTTP(w, r)
				return
			}

			err := m.enforcer.Enforce(ctx, tenantID, action)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			var qe *plans.QuotaExceededError
			if errors.As(err, &qe) {
				httputil.WriteDetailedError(w, http.StatusForbidden, qe.Reason, map[string]string{
					"action":  string(qe.Action),
					"current": strconv.FormatInt(qe.Current, 10),
					"limit":   qe.Limit.String(),
					"plan":    qe.PlanName,
				})
				return
			}

			observability.FromContext(ctx).WithError(err).WithField("action", string(action)).
				Error("quota check failed")
			httputil.WriteInternalError(w)
		})
	}
}

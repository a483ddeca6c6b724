package api

import (
	"errors"
	"net/http"

	"github.com/civichub/planengine/pkg/httputil"
	"github.com/civichub/planengine/pkg/observability"
	"github.com/civichub/planengine/pkg/plans"
)

// writeEngineError maps engine errors onto status codes. Unexpected errors are
// logged and answered with a bare 500.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var te *plans.TransitionError
	switch {
	case errors.As(err, &te):
		status := http.StatusConflict
		if te.Reason == plans.ReasonUnknownTier {
			status = http.StatusUnprocessableEntity
		}
		httputil.WriteDetailedError(w, status, string(te.Reason), map[string]string{
			"from": string(te.From),
			"to":   te.To,
		})
	case errors.Is(err, plans.ErrConflict):
		httputil.WriteConflict(w, "subscription changed concurrently, retry the request")
	case errors.Is(err, plans.ErrInvalidBillingPeriod):
		httputil.WriteUnprocessable(w, err.Error())
	case errors.Is(err, plans.ErrUnknownAction):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, plans.ErrUnknownTier):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, plans.ErrCatalogMisconfigured):
		observability.FromContext(r.Context()).WithError(err).Error("plan catalog misconfigured")
		httputil.WriteInternalError(w)
	default:
		observability.FromContext(r.Context()).WithError(err).Error("plan engine request failed")
		httputil.WriteInternalError(w)
	}
}

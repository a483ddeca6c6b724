package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/civichub/planengine/pkg/httputil"
	"github.com/civichub/planengine/pkg/plans"
)

var quotaActions = []plans.Action{
	plans.ActionCreateOffer,
	plans.ActionActivateOffer,
	plans.ActionAddTeamMember,
	plans.ActionGenerateCoupon,
}

// UpgradeRequest is the body of POST /tenants/{tenant_id}/upgrade
type UpgradeRequest struct {
	Tier string `json:"tier"`
}

// GetEffectivePlan returns the plan a tenant is on
func (h *PlanHandlers) GetEffectivePlan(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}

	plan, err := h.service.EffectivePlan(r.Context(), tenantID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"plan":            plan,
		"virtual_default": plan.IsVirtualDefault(),
	})
}

// GetUsage returns the tenant's current resource counts
func (h *PlanHandlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}

	usage, err := h.service.UsageSnapshot(r.Context(), tenantID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, usage)
}

// ListQuotas runs every quota check for the tenant
func (h *PlanHandlers) ListQuotas(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}

	checks := make([]*plans.QuotaCheck, 0, len(quotaActions))
	for _, action := range quotaActions {
		check, err := h.service.Check(r.Context(), tenantID, action)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		checks = append(checks, check)
	}
	httputil.WriteSuccess(w, map[string]interface{}{"quotas": checks})
}

// GetQuota runs one quota check
func (h *PlanHandlers) GetQuota(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}

	check, err := h.service.Check(r.Context(), tenantID, plans.Action(mux.Vars(r)["action"]))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, check)
}

// GetProration prices moving the tenant from its effective tier to ?tier=
// within the billing period. The period defaults to the current calendar month.
func (h *PlanHandlers) GetProration(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}
	target, ok := parseTier(w, r.URL.Query().Get("tier"))
	if !ok {
		return
	}

	now := h.now()
	start, err := httputil.ParseQueryTime(r, "period_start", plans.MonthStart(now))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	end, err := httputil.ParseQueryTime(r, "period_end", start.AddDate(0, 1, 0))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	plan, err := h.service.EffectivePlan(r.Context(), tenantID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	result, err := h.service.CalculateProration(r.Context(), plan.Tier, target, start, end, now)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"current_tier": plan.Tier,
		"new_tier":     target,
		"period_start": start.Format(time.RFC3339),
		"period_end":   end.Format(time.RFC3339),
		"proration":    result,
	})
}

// CheckUpgrade reports whether the tenant may move to ?tier= without changing anything
func (h *PlanHandlers) CheckUpgrade(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}
	tier := r.URL.Query().Get("tier")
	if !httputil.RequireNonEmpty(w, tier, "tier") {
		return
	}

	decision, err := h.service.CanUpgradeToPlan(r.Context(), tenantID, tier)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, decision)
}

// Upgrade commits a plan change for the tenant
func (h *PlanHandlers) Upgrade(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}

	var req UpgradeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Tier, "tier") {
		return
	}

	sub, err := h.service.UpgradePlan(r.Context(), tenantID, req.Tier)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

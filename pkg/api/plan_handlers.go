package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/civichub/planengine/pkg/httputil"
	"github.com/civichub/planengine/pkg/plans"
)

// PlanService is the engine surface served over HTTP
type PlanService interface {
	Plans(ctx context.Context) ([]*plans.PlanConfig, error)
	ConfigFor(ctx context.Context, tier plans.Tier) (*plans.PlanConfig, error)
	EffectivePlan(ctx context.Context, tenantID int64) (*plans.EffectivePlan, error)
	Check(ctx context.Context, tenantID int64, action plans.Action) (*plans.QuotaCheck, error)
	UsageSnapshot(ctx context.Context, tenantID int64) (*plans.Usage, error)
	CalculateProration(ctx context.Context, currentTier, newTier plans.Tier, periodStart, periodEnd, now time.Time) (*plans.ProrationResult, error)
	ComparePlans(ctx context.Context, currentTier, newTier plans.Tier) (*plans.PlanComparison, error)
	AvailablePlansForUpgrade(ctx context.Context, current plans.Tier) ([]*plans.PlanConfig, error)
	CanUpgradeToPlan(ctx context.Context, tenantID int64, newTier string) (*plans.UpgradeDecision, error)
	UpgradePlan(ctx context.Context, tenantID int64, newTier string) (*plans.Subscription, error)
}

// PlanHandlers handles plan catalog and tenant plan requests
type PlanHandlers struct {
	service PlanService
	now     func() time.Time
}

// NewPlanHandlers creates a new PlanHandlers
func NewPlanHandlers(service PlanService) *PlanHandlers {
	return &PlanHandlers{service: service, now: time.Now}
}

// RegisterRoutes registers plan routes
func (h *PlanHandlers) RegisterRoutes(router *mux.Router) {
	// Catalog
	router.HandleFunc("/plans", h.ListPlans).Methods(http.MethodGet)
	router.HandleFunc("/plans/compare", h.ComparePlans).Methods(http.MethodGet)
	router.HandleFunc("/plans/{tier}", h.GetPlan).Methods(http.MethodGet)
	router.HandleFunc("/plans/{tier}/upgrades", h.ListUpgrades).Methods(http.MethodGet)

	// Tenants
	router.HandleFunc("/tenants/{tenant_id}/plan", h.GetEffectivePlan).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{tenant_id}/usage", h.GetUsage).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{tenant_id}/quotas", h.ListQuotas).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{tenant_id}/quotas/{action}", h.GetQuota).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{tenant_id}/proration", h.GetProration).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{tenant_id}/upgrade", h.CheckUpgrade).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{tenant_id}/upgrade", h.Upgrade).Methods(http.MethodPost)
}

// parseTier rejects anything outside the closed tier set
func parseTier(w http.ResponseWriter, raw string) (plans.Tier, bool) {
	tier, err := plans.ParseTier(raw)
	if err != nil {
		httputil.WriteNotFoundError(w, fmt.Sprintf("unknown tier %q", raw))
		return "", false
	}
	return tier, true
}

// ListPlans returns the visible catalog
func (h *PlanHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	configs, err := h.service.Plans(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"plans": configs})
}

// GetPlan returns the active config of one tier
func (h *PlanHandlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	tier, ok := parseTier(w, mux.Vars(r)["tier"])
	if !ok {
		return
	}

	cfg, err := h.service.ConfigFor(r.Context(), tier)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	// ConfigFor falls back to the default tier; a plan page must not
	if cfg.Tier != tier {
		httputil.WriteNotFoundError(w, fmt.Sprintf("no active plan for tier %s", tier))
		return
	}
	httputil.WriteSuccess(w, cfg)
}

// ListUpgrades returns the plans strictly above a tier
func (h *PlanHandlers) ListUpgrades(w http.ResponseWriter, r *http.Request) {
	tier, ok := parseTier(w, mux.Vars(r)["tier"])
	if !ok {
		return
	}

	configs, err := h.service.AvailablePlansForUpgrade(r.Context(), tier)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if configs == nil {
		configs = []*plans.PlanConfig{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"plans": configs})
}

// ComparePlans lists what moving from one tier to another gains
func (h *PlanHandlers) ComparePlans(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if !httputil.RequireNonEmpty(w, query.Get("from"), "from") || !httputil.RequireNonEmpty(w, query.Get("to"), "to") {
		return
	}
	from, ok := parseTier(w, query.Get("from"))
	if !ok {
		return
	}
	to, ok := parseTier(w, query.Get("to"))
	if !ok {
		return
	}

	comparison, err := h.service.ComparePlans(r.Context(), from, to)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, comparison)
}

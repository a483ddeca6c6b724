package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civichub/planengine/pkg/audit"
	"github.com/civichub/planengine/pkg/httputil"
	"github.com/civichub/planengine/pkg/observability"
	"github.com/civichub/planengine/pkg/plans"
	"github.com/civichub/planengine/pkg/storage"
	"github.com/civichub/planengine/pkg/storage/catalogfile"
)

const testCatalog = `
plans:
  - tier: entry
    name: Entry
    rank: 0
    limits: {max_offers: 3, max_active_offers: 1, max_team_members: 1, max_coupons_per_month: 10}
  - tier: standard
    name: Standard
    base_price: "99.50"
    rank: 1
    limits: {max_offers: 20, max_active_offers: 5, max_team_members: 5, max_coupons_per_month: 100}
    features: [analytics]
  - tier: strategic
    name: Strategic
    base_price: "199.50"
    rank: 2
    limits: {max_offers: unlimited, max_active_offers: 25, max_team_members: 20, max_coupons_per_month: 1000}
    features: [analytics, crm]
  - tier: enterprise
    name: Enterprise
    base_price: "499"
    rank: 3
    limits: {max_offers: unlimited, max_active_offers: unlimited, max_team_members: unlimited, max_coupons_per_month: unlimited}
    features: [analytics, crm, sso]
`

var testNow = time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	engine  *plans.Engine
	usage   *storage.MemoryUsageCounter
	metrics *observability.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newAuditedTestServer(t, nil)
}

// newAuditedTestServer sends engine audit events to trail and serves history from it
func newAuditedTestServer(t *testing.T, trail *memoryAudit) *testServer {
	t.Helper()
	if trail == nil {
		return buildTestServer(t, nil)
	}
	return buildTestServer(t, trail, WithAuditHistory(trail))
}

func buildTestServer(t *testing.T, sink audit.Logger, serverOpts ...ServerOption) *testServer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o644))
	catalog, err := catalogfile.Open(path, nil)
	require.NoError(t, err)

	logger := observability.NewNopLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	usage := storage.NewMemoryUsageCounter()

	engine, err := plans.NewEngine(plans.Options{
		Catalog:       catalog,
		Subscriptions: storage.NewMemorySubscriptionStore(),
		Usage:         usage,
		Audit:         sink,
		Logger:        logger,
		Metrics:       metrics,
		Now:           func() time.Time { return testNow },
	})
	require.NoError(t, err)

	return &testServer{handler: NewServer(engine, logger, metrics, serverOpts...), engine: engine, usage: usage, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

// proration serves the proration route with the handler clock pinned to testNow
func (s *testServer) proration(t *testing.T, query string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewPlanHandlers(s.engine)
	h.now = func() time.Time { return testNow }
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tenants/7/proration"+query, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

func TestListPlans(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/plans", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Plans []plans.PlanConfig `json:"plans"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Plans, 4)
	assert.Equal(t, plans.TierEntry, resp.Plans[0].Tier)
	assert.Equal(t, plans.TierEnterprise, resp.Plans[3].Tier)
	assert.True(t, resp.Plans[2].MaxOffers.IsUnlimited())
	assert.NotEmpty(t, w.Header().Get(httputil.RequestIDHeader))

	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/plans", "200")))
}

func TestGetPlan(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/plans/enterprise", "")
	require.Equal(t, http.StatusOK, w.Code)
	var cfg plans.PlanConfig
	decode(t, w, &cfg)
	assert.Equal(t, "Enterprise", cfg.Name)
	assert.True(t, decimal.NewFromInt(499).Equal(cfg.Price()))

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/plans/gold", "").Code)
}

func TestListUpgrades(t *testing.T) {
	s := newTestServer(t)

	var resp struct {
		Plans []plans.PlanConfig `json:"plans"`
	}
	w := s.do(t, http.MethodGet, "/plans/standard/upgrades", "")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	require.Len(t, resp.Plans, 2)
	assert.Equal(t, plans.TierStrategic, resp.Plans[0].Tier)
	assert.Equal(t, plans.TierEnterprise, resp.Plans[1].Tier)

	w = s.do(t, http.MethodGet, "/plans/enterprise/upgrades", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"plans":[]}`, w.Body.String())
}

func TestComparePlans(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/plans/compare?from=standard&to=strategic", "")
	require.Equal(t, http.StatusOK, w.Code)

	var cmp plans.PlanComparison
	decode(t, w, &cmp)
	assert.Equal(t, []string{"crm"}, cmp.UpgradedFeatures)
	assert.True(t, decimal.NewFromInt(100).Equal(cmp.PriceDifference))

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/plans/compare?from=standard", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/plans/compare?from=standard&to=gold", "").Code)
}

func TestEffectivePlan_VirtualDefault(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/tenants/7/plan", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Plan           plans.EffectivePlan `json:"plan"`
		VirtualDefault bool                `json:"virtual_default"`
	}
	decode(t, w, &resp)
	assert.True(t, resp.VirtualDefault)
	assert.Equal(t, plans.TierEntry, resp.Plan.Tier)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/tenants/abc/plan", "").Code)
}

func TestQuotas(t *testing.T) {
	s := newTestServer(t)
	s.usage.Set(7, storage.TenantUsage{Offers: 3, ActiveOffers: 0, TeamMembers: 1})

	w := s.do(t, http.MethodGet, "/tenants/7/quotas/create_offer", "")
	require.Equal(t, http.StatusOK, w.Code)
	var check plans.QuotaCheck
	decode(t, w, &check)
	assert.False(t, check.Allowed)
	assert.Equal(t, "Your plan Entry allows up to 3 offers. Upgrade to add more.", check.Reason)

	w = s.do(t, http.MethodGet, "/tenants/7/quotas", "")
	require.Equal(t, http.StatusOK, w.Code)
	var all struct {
		Quotas []plans.QuotaCheck `json:"quotas"`
	}
	decode(t, w, &all)
	require.Len(t, all.Quotas, 4)
	assert.True(t, all.Quotas[1].Allowed, "activate offer")
	assert.False(t, all.Quotas[2].Allowed, "team members")
	assert.False(t, all.Quotas[3].Enforced, "coupons")

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/tenants/7/quotas/launch_rocket", "").Code)
}

func TestAuthorize(t *testing.T) {
	s := newTestServer(t)
	s.usage.Set(7, storage.TenantUsage{Offers: 3})

	w := s.do(t, http.MethodPost, "/tenants/7/quotas/create_offer/authorize", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	var resp httputil.ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, "create_offer", resp.Details["action"])

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/tenants/7/quotas/activate_offer/authorize", "").Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/tenants/7/quotas/generate_coupon/authorize", "").Code)
}

func TestUsage(t *testing.T) {
	s := newTestServer(t)
	s.usage.Set(7, storage.TenantUsage{
		Offers:  2,
		Coupons: []time.Time{testNow.AddDate(0, -1, 0), testNow.Add(-time.Hour)},
	})

	w := s.do(t, http.MethodGet, "/tenants/7/usage", "")
	require.Equal(t, http.StatusOK, w.Code)
	var usage plans.Usage
	decode(t, w, &usage)
	assert.Equal(t, int64(2), usage.Offers)
	assert.Equal(t, int64(1), usage.CouponsThisMonth)
}

func TestUpgradeFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/tenants/7/upgrade?tier=standard", "")
	require.Equal(t, http.StatusOK, w.Code)
	var decision plans.UpgradeDecision
	decode(t, w, &decision)
	assert.True(t, decision.Allowed)

	w = s.do(t, http.MethodPost, "/tenants/7/upgrade", `{"tier": "Pro"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sub plans.Subscription
	decode(t, w, &sub)
	assert.Equal(t, "standard", sub.Tier)

	w = s.do(t, http.MethodPost, "/tenants/7/upgrade", `{"tier": "standard"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	var resp httputil.ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, string(plans.ReasonAlreadyOnPlan), resp.Error)

	w = s.do(t, http.MethodPost, "/tenants/7/upgrade", `{"tier": "entry"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, string(plans.ReasonDowngradeNotSupported), resp.Error)

	w = s.do(t, http.MethodPost, "/tenants/7/upgrade", `{"tier": "gold"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/tenants/7/upgrade", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/tenants/7/upgrade", `{"tier":`).Code)
}

func TestProration(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/tenants/7/upgrade", `{"tier": "standard"}`).Code)

	w := s.proration(t, "?tier=strategic&period_start=2026-03-01&period_end=2026-03-31")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		CurrentTier plans.Tier            `json:"current_tier"`
		Proration   plans.ProrationResult `json:"proration"`
	}
	decode(t, w, &resp)
	assert.Equal(t, plans.TierStandard, resp.CurrentTier)
	assert.Equal(t, 15, resp.Proration.DaysRemaining)
	assert.Equal(t, 30, resp.Proration.DaysInPeriod)
	assert.True(t, decimal.RequireFromString("49.75").Equal(resp.Proration.CreditAmount))
	assert.True(t, decimal.RequireFromString("99.75").Equal(resp.Proration.NewPlanCost))
	assert.True(t, decimal.RequireFromString("50.00").Equal(resp.Proration.DueToday))
	assert.True(t, decimal.RequireFromString("199.50").Equal(resp.Proration.NextBillingAmount))

	w = s.proration(t, "?tier=strategic&period_start=2026-03-31&period_end=2026-03-01")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.proration(t, "?tier=strategic&period_start=soon")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.proration(t, "?tier=gold")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProration_DefaultsToCurrentMonth(t *testing.T) {
	s := newTestServer(t)

	w := s.proration(t, "?tier=standard")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		PeriodStart string                `json:"period_start"`
		PeriodEnd   string                `json:"period_end"`
		Proration   plans.ProrationResult `json:"proration"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "2026-03-01T00:00:00Z", resp.PeriodStart)
	assert.Equal(t, "2026-04-01T00:00:00Z", resp.PeriodEnd)
	assert.Equal(t, 31, resp.Proration.DaysInPeriod)
	assert.Equal(t, 16, resp.Proration.DaysRemaining)
	assert.True(t, resp.Proration.CreditAmount.IsZero(), "entry is free")
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

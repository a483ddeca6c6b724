package plans

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/civichub/planengine/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewNopLogger()
}

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

func plan(tier Tier, rank int, price string, limits Limits, features ...string) *PlanConfig {
	f := make(map[string]bool, len(features))
	for _, k := range features {
		f[k] = true
	}
	return &PlanConfig{
		ID:             int64(rank + 1),
		Tier:           tier,
		Name:           string(tier) + " plan",
		BasePrice:      decimal.RequireFromString(price),
		EffectivePrice: decimal.RequireFromString(price),
		Limits:         limits,
		FeatureOrder:   features,
		Features:       f,
		IsActive:       true,
		IsVisible:      true,
		Rank:           rank,
		Version:        1,
	}
}

func defaultCatalog() []*PlanConfig {
	return []*PlanConfig{
		plan(TierEntry, 0, "0", Limits{MaxOffers: 3, MaxActiveOffers: 1, MaxTeamMembers: 1, MaxCouponsPerMonth: 10}),
		plan(TierStandard, 1, "99.50", Limits{MaxOffers: 20, MaxActiveOffers: 5, MaxTeamMembers: 5, MaxCouponsPerMonth: 100}, "analytics"),
		plan(TierStrategic, 2, "199.50", Limits{MaxOffers: Unlimited, MaxActiveOffers: 25, MaxTeamMembers: 20, MaxCouponsPerMonth: 1000}, "analytics", "crm", "priority_support"),
		plan(TierEnterprise, 3, "499", Limits{MaxOffers: Unlimited, MaxActiveOffers: Unlimited, MaxTeamMembers: Unlimited, MaxCouponsPerMonth: Unlimited}, "analytics", "crm", "priority_support", "sso"),
	}
}

type fakeCatalog struct {
	mu        sync.Mutex
	configs   []*PlanConfig
	err       error
	listCalls atomic.Int32
}

func newFakeCatalog(configs ...*PlanConfig) *fakeCatalog {
	if len(configs) == 0 {
		configs = defaultCatalog()
	}
	return &fakeCatalog{configs: configs}
}

func (f *fakeCatalog) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeCatalog) ListActiveVisible(ctx context.Context) ([]*PlanConfig, error) {
	f.listCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*PlanConfig
	for _, c := range f.configs {
		if c.IsActive && c.IsVisible {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetActiveByTier(ctx context.Context, tier Tier) (*PlanConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, c := range f.configs {
		if c.IsActive && c.Tier == tier {
			return c, nil
		}
	}
	return nil, ErrPlanNotFound
}

// fakeSubscriptions serializes WithTenantTx per tenant, like a row lock would
type fakeSubscriptions struct {
	mu        sync.Mutex
	rows      map[int64]*Subscription
	locks     map[int64]*sync.Mutex
	nextID    int64
	conflicts int
	getErr    error
	creates   int
	repoints  int
}

func newFakeSubscriptions() *fakeSubscriptions {
	return &fakeSubscriptions{
		rows:  make(map[int64]*Subscription),
		locks: make(map[int64]*sync.Mutex),
	}
}

func (f *fakeSubscriptions) put(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sub.ID = f.nextID
	f.rows[sub.TenantID] = sub
}

func (f *fakeSubscriptions) GetByTenant(ctx context.Context, tenantID int64) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	sub, ok := f.rows[tenantID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeSubscriptions) WithTenantTx(ctx context.Context, tenantID int64, fn func(tx SubscriptionTx) error) error {
	f.mu.Lock()
	if f.conflicts > 0 {
		f.conflicts--
		f.mu.Unlock()
		return ErrConflict
	}
	lock, ok := f.locks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		f.locks[tenantID] = lock
	}
	f.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(&fakeTx{store: f, tenantID: tenantID})
}

type fakeTx struct {
	store    *fakeSubscriptions
	tenantID int64
}

func (tx *fakeTx) Current(ctx context.Context) (*Subscription, error) {
	sub, err := tx.store.GetByTenant(ctx, tx.tenantID)
	if err == ErrSubscriptionNotFound {
		return nil, nil
	}
	return sub, err
}

func (tx *fakeTx) Create(ctx context.Context, sub *Subscription) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if _, exists := tx.store.rows[sub.TenantID]; exists {
		return ErrConflict
	}
	tx.store.nextID++
	sub.ID = tx.store.nextID
	cp := *sub
	tx.store.rows[sub.TenantID] = &cp
	tx.store.creates++
	return nil
}

func (tx *fakeTx) Repoint(ctx context.Context, sub *Subscription) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	cp := *sub
	tx.store.rows[sub.TenantID] = &cp
	tx.store.repoints++
	return nil
}

type fakeUsage struct {
	offers, activeOffers, teamMembers, coupons int64
	err                                        error
	couponsSince                               time.Time
}

func (f *fakeUsage) CountOffers(ctx context.Context, tenantID int64) (int64, error) {
	return f.offers, f.err
}

func (f *fakeUsage) CountActiveOffers(ctx context.Context, tenantID int64) (int64, error) {
	return f.activeOffers, f.err
}

func (f *fakeUsage) CountTeamMembers(ctx context.Context, tenantID int64) (int64, error) {
	return f.teamMembers, f.err
}

func (f *fakeUsage) CountCouponsSince(ctx context.Context, tenantID int64, since time.Time) (int64, error) {
	f.couponsSince = since
	return f.coupons, f.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

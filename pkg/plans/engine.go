package plans

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/civichub/planengine/pkg/audit"
	"github.com/civichub/planengine/pkg/observability"
)

// DefaultCacheTTL is how long catalog reads are reused
const DefaultCacheTTL = 5 * time.Minute

// Options configures an Engine
type Options struct {
	Catalog       CatalogStore
	Subscriptions SubscriptionStore
	Usage         UsageCounter
	// Locker serializes upgrades across processes, optional
	Locker TenantLocker
	// Audit receives upgrade and quota-denial events, optional
	Audit audit.Logger

	Logger  *observability.Logger
	Metrics *observability.Metrics

	CacheTTL           time.Duration
	EnforceCouponQuota bool
	UpgradeAttempts    int
	// Now overrides the clock, for tests
	Now func() time.Time
}

// Engine is the plan and proration engine
type Engine struct {
	normalizer  *Normalizer
	hierarchy   *HierarchyProvider
	resolver    *Resolver
	quotas      *QuotaEnforcer
	transitions *Transitioner
	logger      *observability.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewEngine wires every component over the given stores
func NewEngine(opts Options) (*Engine, error) {
	if opts.Catalog == nil || opts.Subscriptions == nil || opts.Usage == nil {
		return nil, errors.New("catalog, subscription and usage stores are required")
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger, metrics := opts.Logger, opts.Metrics
	normalizer := NewNormalizer(logger, metrics)
	hierarchy := NewHierarchyProvider(opts.Catalog, opts.CacheTTL, logger, metrics)
	resolver := NewResolver(opts.Catalog, opts.Subscriptions, normalizer, opts.CacheTTL, logger, metrics)

	quotas := NewQuotaEnforcer(resolver, opts.Usage, opts.EnforceCouponQuota, opts.Now, logger, metrics)
	transitions := NewTransitioner(hierarchy, resolver, normalizer, opts.Subscriptions, opts.Locker, opts.UpgradeAttempts, opts.Now, logger, metrics)
	if opts.Audit != nil {
		quotas.trail.sink = opts.Audit
		transitions.trail.sink = opts.Audit
	}

	return &Engine{
		normalizer:  normalizer,
		hierarchy:   hierarchy,
		resolver:    resolver,
		quotas:      quotas,
		transitions: transitions,
		logger:      logger,
		metrics:     metrics,
		now:         opts.Now,
	}, nil
}

// NormalizeTier maps any raw tier string onto the closed tier set
func (e *Engine) NormalizeTier(raw string) Tier {
	return e.normalizer.NormalizeTier(raw)
}

// Hierarchy returns the tiers in ascending rank
func (e *Engine) Hierarchy(ctx context.Context) ([]Tier, error) {
	return e.hierarchy.Hierarchy(ctx)
}

// Plans returns the visible catalog in ascending rank
func (e *Engine) Plans(ctx context.Context) ([]*PlanConfig, error) {
	return e.hierarchy.Plans(ctx)
}

// Invalidate drops cached catalog reads after the catalog changed
func (e *Engine) Invalidate() {
	e.hierarchy.Invalidate()
	e.resolver.Invalidate()
	e.logger.Debug("plan catalog caches invalidated")
}

func (e *Engine) ConfigFor(ctx context.Context, tier Tier) (*PlanConfig, error) {
	return e.resolver.ConfigFor(ctx, tier)
}

func (e *Engine) EffectivePlan(ctx context.Context, tenantID int64) (plan *EffectivePlan, err error) {
	ctx, span := observability.StartSpan(ctx, "plans.EffectivePlan", tenantID)
	defer func() { observability.EndSpan(span, err) }()
	return e.resolver.EffectivePlan(ctx, tenantID)
}

func (e *Engine) CheckCreateOffer(ctx context.Context, tenantID int64) (*QuotaCheck, error) {
	return e.Check(ctx, tenantID, ActionCreateOffer)
}

func (e *Engine) CheckActivateOffer(ctx context.Context, tenantID int64) (*QuotaCheck, error) {
	return e.Check(ctx, tenantID, ActionActivateOffer)
}

func (e *Engine) CheckGenerateCoupon(ctx context.Context, tenantID int64) (*QuotaCheck, error) {
	return e.Check(ctx, tenantID, ActionGenerateCoupon)
}

func (e *Engine) CheckAddTeamMember(ctx context.Context, tenantID int64) (*QuotaCheck, error) {
	return e.Check(ctx, tenantID, ActionAddTeamMember)
}

// Check runs the quota check for any action
func (e *Engine) Check(ctx context.Context, tenantID int64, action Action) (check *QuotaCheck, err error) {
	ctx, span := observability.StartSpan(ctx, "plans.CheckQuota", tenantID, attribute.String("quota.action", string(action)))
	defer func() {
		if check != nil {
			span.SetAttributes(attribute.Bool("quota.allowed", check.Allowed))
		}
		observability.EndSpan(span, err)
	}()
	return e.quotas.Check(ctx, tenantID, action)
}

// Enforce returns a *QuotaExceededError when action is denied
func (e *Engine) Enforce(ctx context.Context, tenantID int64, action Action) error {
	return e.quotas.Enforce(ctx, tenantID, action)
}

// UsageSnapshot counts every quota-bounded resource for a tenant
func (e *Engine) UsageSnapshot(ctx context.Context, tenantID int64) (*Usage, error) {
	return e.quotas.UsageSnapshot(ctx, tenantID)
}

// CalculateProration prices a change between two tiers over the given period.
// A zero now means the engine clock. The next billing amount is the new
// tier's base price.
func (e *Engine) CalculateProration(ctx context.Context, currentTier, newTier Tier, periodStart, periodEnd, now time.Time) (result *ProrationResult, err error) {
	ctx, span := observability.StartSpan(ctx, "plans.CalculateProration", 0,
		attribute.String("plan.current_tier", string(currentTier)),
		attribute.String("plan.new_tier", string(newTier)))
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.ProrationsTotal.WithLabelValues(status).Inc()
		observability.EndSpan(span, err)
	}()

	current, err := e.resolver.ConfigFor(ctx, currentTier)
	if err != nil {
		return nil, err
	}
	next, err := e.resolver.ConfigFor(ctx, newTier)
	if err != nil {
		return nil, err
	}
	if now.IsZero() {
		now = e.now()
	}
	res, err := CalculateProration(current.Price(), next.Price(), periodStart, periodEnd, now)
	if err != nil {
		return nil, err
	}
	// The first-period discount never applies to the renewal
	res.NextBillingAmount = next.BasePrice
	return res, nil
}

// ComparePlans resolves both tiers and diffs their configs
func (e *Engine) ComparePlans(ctx context.Context, currentTier, newTier Tier) (*PlanComparison, error) {
	current, err := e.resolver.ConfigFor(ctx, currentTier)
	if err != nil {
		return nil, err
	}
	next, err := e.resolver.ConfigFor(ctx, newTier)
	if err != nil {
		return nil, err
	}
	return ComparePlans(current, next), nil
}

func (e *Engine) IsUpgrade(ctx context.Context, current, next Tier) (bool, error) {
	return e.hierarchy.IsUpgrade(ctx, current, next)
}

func (e *Engine) AvailablePlansForUpgrade(ctx context.Context, current Tier) ([]*PlanConfig, error) {
	return e.hierarchy.AvailablePlansForUpgrade(ctx, current)
}

func (e *Engine) CanUpgradeToPlan(ctx context.Context, tenantID int64, newTier string) (*UpgradeDecision, error) {
	return e.transitions.CanUpgradeToPlan(ctx, tenantID, newTier)
}

// UpgradePlan commits a forward transition for the tenant
func (e *Engine) UpgradePlan(ctx context.Context, tenantID int64, newTier string) (sub *Subscription, err error) {
	ctx, span := observability.StartSpan(ctx, "plans.UpgradePlan", tenantID, attribute.String("plan.new_tier", newTier))
	defer func() { observability.EndSpan(span, err) }()
	return e.transitions.UpgradePlan(ctx, tenantID, newTier)
}

package plans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/civichub/planengine/pkg/observability"
)

// Resolver maps tiers and tenants onto plan configs
type Resolver struct {
	catalog       CatalogStore
	subscriptions SubscriptionStore
	normalizer    *Normalizer
	cache         *expirable.LRU[Tier, *PlanConfig]
	logger        *observability.Logger
	metrics       *observability.Metrics
}

// NewResolver creates a Resolver caching per-tier configs for ttl
func NewResolver(catalog CatalogStore, subscriptions SubscriptionStore, normalizer *Normalizer, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		catalog:       catalog,
		subscriptions: subscriptions,
		normalizer:    normalizer,
		cache:         expirable.NewLRU[Tier, *PlanConfig](len(tierRanks), nil, ttl),
		logger:        logger,
		metrics:       metrics,
	}
}

// ConfigFor returns the active config for tier, falling back to the default
// tier's config. ErrCatalogMisconfigured is returned when neither exists.
func (r *Resolver) ConfigFor(ctx context.Context, tier Tier) (*PlanConfig, error) {
	cfg, err := r.lookup(ctx, tier)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, ErrPlanNotFound) {
		return nil, err
	}

	if tier != DefaultTier {
		r.logger.WithField("tier", tier).Warnf("no active config for tier %s, using %s", tier, DefaultTier)
		cfg, err = r.lookup(ctx, DefaultTier)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, ErrPlanNotFound) {
			return nil, err
		}
	}

	r.logger.Error("no active config for the default tier")
	return nil, ErrCatalogMisconfigured
}

func (r *Resolver) lookup(ctx context.Context, tier Tier) (*PlanConfig, error) {
	if cfg, ok := r.cache.Get(tier); ok {
		r.metrics.CacheHitsTotal.WithLabelValues("plan_config").Inc()
		return cfg, nil
	}
	r.metrics.CacheMissesTotal.WithLabelValues("plan_config").Inc()

	cfg, err := r.catalog.GetActiveByTier(ctx, tier)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get plan config for %s: %w", tier, err)
	}
	r.cache.Add(tier, cfg)
	return cfg, nil
}

// EffectivePlan resolves the plan a tenant is on right now.
// Tenants without a subscription get the default tier's config and a nil Subscription.
func (r *Resolver) EffectivePlan(ctx context.Context, tenantID int64) (*EffectivePlan, error) {
	sub, err := r.subscriptions.GetByTenant(ctx, tenantID)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		sub = nil
	case err != nil:
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	tier := DefaultTier
	if sub != nil {
		tier = r.normalizer.NormalizeTier(sub.Tier)
	}

	cfg, err := r.ConfigFor(ctx, tier)
	if err != nil {
		return nil, err
	}

	return &EffectivePlan{
		TenantID:     tenantID,
		Tier:         tier,
		Subscription: sub,
		Config:       cfg,
	}, nil
}

// Invalidate drops every cached config
func (r *Resolver) Invalidate() {
	r.cache.Purge()
}

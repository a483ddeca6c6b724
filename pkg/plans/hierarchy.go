package plans

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/civichub/planengine/pkg/observability"
)

const catalogKey = "catalog"

// HierarchyProvider serves the tier order derived from the persisted catalog.
//
// The order comes only from active, visible configs sorted by rank. Fresh reads
// are cached for the configured TTL. When the catalog cannot be read, the last
// order that was read successfully is served instead, so there is no second
// hand-maintained ordering to drift from the persisted one.
type HierarchyProvider struct {
	catalog CatalogStore
	cache   *expirable.LRU[string, []*PlanConfig]
	group   singleflight.Group
	logger  *observability.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	lastGood []*PlanConfig
}

// NewHierarchyProvider creates a provider caching the catalog for ttl
func NewHierarchyProvider(catalog CatalogStore, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *HierarchyProvider {
	return &HierarchyProvider{
		catalog: catalog,
		cache:   expirable.NewLRU[string, []*PlanConfig](1, nil, ttl),
		logger:  logger,
		metrics: metrics,
	}
}

// Hierarchy returns the tiers in ascending rank
func (h *HierarchyProvider) Hierarchy(ctx context.Context) ([]Tier, error) {
	configs, err := h.Plans(ctx)
	if err != nil {
		return nil, err
	}
	tiers := make([]Tier, len(configs))
	for i, cfg := range configs {
		tiers[i] = cfg.Tier
	}
	return tiers, nil
}

// Plans returns the active, visible configs in hierarchy order, one per tier
func (h *HierarchyProvider) Plans(ctx context.Context) ([]*PlanConfig, error) {
	if configs, ok := h.cache.Get(catalogKey); ok {
		h.metrics.CacheHitsTotal.WithLabelValues("hierarchy").Inc()
		return configs, nil
	}
	h.metrics.CacheMissesTotal.WithLabelValues("hierarchy").Inc()

	v, err, _ := h.group.Do(catalogKey, func() (interface{}, error) {
		return h.load(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.([]*PlanConfig), nil
}

// Index returns the position of tier in the hierarchy, -1 if absent
func (h *HierarchyProvider) Index(ctx context.Context, tier Tier) (int, error) {
	tiers, err := h.Hierarchy(ctx)
	if err != nil {
		return -1, err
	}
	return indexOf(tiers, tier), nil
}

// Invalidate drops the cached order so the next read goes to the catalog.
// The last good order is kept as the failure fallback.
func (h *HierarchyProvider) Invalidate() {
	h.cache.Purge()
}

func (h *HierarchyProvider) load(ctx context.Context) ([]*PlanConfig, error) {
	configs, err := h.catalog.ListActiveVisible(ctx)
	if err == nil && len(configs) == 0 {
		err = fmt.Errorf("%w: no active visible plans", ErrCatalogMisconfigured)
	}
	if err != nil {
		h.mu.RLock()
		fallback := h.lastGood
		h.mu.RUnlock()

		if fallback == nil {
			return nil, fmt.Errorf("failed to load plan hierarchy: %w", err)
		}
		h.metrics.HierarchyFallbacksTotal.Inc()
		h.logger.WithError(err).Warn("plan catalog unavailable, serving last good hierarchy")
		return fallback, nil
	}

	ordered := orderCatalog(configs)

	h.mu.Lock()
	h.lastGood = ordered
	h.mu.Unlock()
	h.cache.Add(catalogKey, ordered)

	return ordered, nil
}

// orderCatalog sorts by persisted rank, breaking ties by built-in tier rank,
// and keeps the first config seen per tier. Unknown tiers are dropped.
func orderCatalog(configs []*PlanConfig) []*PlanConfig {
	sorted := make([]*PlanConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg != nil && cfg.Tier.IsValid() {
			sorted = append(sorted, cfg)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Rank != sorted[j].Rank {
			return sorted[i].Rank < sorted[j].Rank
		}
		return sorted[i].Tier.Rank() < sorted[j].Tier.Rank()
	})

	seen := make(map[Tier]bool, len(sorted))
	out := sorted[:0]
	for _, cfg := range sorted {
		if seen[cfg.Tier] {
			continue
		}
		seen[cfg.Tier] = true
		out = append(out, cfg)
	}
	return out
}

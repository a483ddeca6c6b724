package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/civichub/planengine/pkg/observability"
	"github.com/civichub/planengine/pkg/plans"
)

const planColumns = `id, tier, name, base_price, effective_price,
	max_offers, max_active_offers, max_team_members, max_coupons_per_month,
	feature_order, features, is_active, is_visible, rank, version, created_at, updated_at`

// CatalogStore reads plan configs. Reads go to a replica when one is configured.
type CatalogStore struct {
	conns   *ConnectionManager
	metrics *observability.Metrics
}

// NewCatalogStore creates a CatalogStore
func NewCatalogStore(conns *ConnectionManager, metrics *observability.Metrics) *CatalogStore {
	return &CatalogStore{conns: conns, metrics: metrics}
}

// ListActiveVisible returns active, visible configs ascending by rank
func (s *CatalogStore) ListActiveVisible(ctx context.Context) (configs []*plans.PlanConfig, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveStoreOperation("list_plans", start, err) }()

	query := `SELECT ` + planColumns + `
		FROM plan_configs
		WHERE is_active AND is_visible
		ORDER BY rank ASC, id ASC`

	rows, err := s.conns.Replica().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan configs: %w", translate(err))
	}
	defer rows.Close()

	for rows.Next() {
		cfg, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list plan configs: %w", translate(err))
	}
	return configs, nil
}

// GetActiveByTier returns the active config for tier or plans.ErrPlanNotFound
func (s *CatalogStore) GetActiveByTier(ctx context.Context, tier plans.Tier) (cfg *plans.PlanConfig, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveStoreOperation("get_plan", start, err) }()

	query := `SELECT ` + planColumns + `
		FROM plan_configs
		WHERE tier = $1 AND is_active
		ORDER BY version DESC
		LIMIT 1`

	cfg, err = scanPlan(s.conns.Replica().QueryRowContext(ctx, query, string(tier)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, plans.ErrPlanNotFound
	}
	return cfg, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanPlan reads one row and validates it, so invalid reference data never leaves the store
func scanPlan(row rowScanner) (*plans.PlanConfig, error) {
	var (
		cfg      plans.PlanConfig
		tier     string
		order    pq.StringArray
		features []byte
	)
	err := row.Scan(
		&cfg.ID, &tier, &cfg.Name, &cfg.BasePrice, &cfg.EffectivePrice,
		&cfg.MaxOffers, &cfg.MaxActiveOffers, &cfg.MaxTeamMembers, &cfg.MaxCouponsPerMonth,
		&order, &features, &cfg.IsActive, &cfg.IsVisible, &cfg.Rank, &cfg.Version,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan plan config: %w", translate(err))
	}

	cfg.Tier = plans.Tier(tier)
	cfg.FeatureOrder = []string(order)
	cfg.Features = map[string]bool{}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &cfg.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features of plan %d: %w", cfg.ID, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("plan config %d: %w", cfg.ID, err)
	}
	return &cfg, nil
}

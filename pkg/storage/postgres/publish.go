package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/civichub/planengine/pkg/plans"
)

// Publish makes cfg the active config of its tier.
//
// The previous active version is retired and cfg is inserted with the next
// version number, in one transaction. Existing subscriptions keep pointing at
// the retired row and keep their snapshot. ID, Version and the timestamps of
// the returned config are assigned by the store.
func (s *CatalogStore) Publish(ctx context.Context, cfg *plans.PlanConfig) (published *plans.PlanConfig, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveStoreOperation("publish_plan", start, err) }()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	features, err := json.Marshal(cfg.Features)
	if err != nil {
		return nil, fmt.Errorf("failed to encode features: %w", err)
	}

	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", translate(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Serializes publishers of one tier; the partial unique index backs it up
	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('plan_configs:' || $1))`, string(cfg.Tier)); err != nil {
		return nil, fmt.Errorf("failed to lock tier %s: %w", cfg.Tier, translate(err))
	}

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM plan_configs WHERE tier = $1`,
		string(cfg.Tier)).Scan(&version)
	if err != nil {
		return nil, fmt.Errorf("failed to read version of tier %s: %w", cfg.Tier, translate(err))
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE plan_configs SET is_active = FALSE, updated_at = NOW() WHERE tier = $1 AND is_active`,
		string(cfg.Tier)); err != nil {
		return nil, fmt.Errorf("failed to retire tier %s: %w", cfg.Tier, translate(err))
	}

	out := *cfg
	out.Version = version
	out.IsActive = true

	query := `
		INSERT INTO plan_configs (tier, name, base_price, effective_price,
			max_offers, max_active_offers, max_team_members, max_coupons_per_month,
			feature_order, features, is_active, is_visible, rank, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, $11, $12, $13)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowContext(ctx, query,
		string(out.Tier), out.Name, out.BasePrice, out.EffectivePrice,
		int64(out.MaxOffers), int64(out.MaxActiveOffers), int64(out.MaxTeamMembers), int64(out.MaxCouponsPerMonth),
		pq.Array(out.FeatureOrder), features, out.IsVisible, out.Rank, out.Version,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert plan config for %s: %w", out.Tier, translate(err))
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit plan config for %s: %w", out.Tier, translate(err))
	}
	return &out, nil
}

// ListAll returns every config, retired versions included, by tier rank then version
func (s *CatalogStore) ListAll(ctx context.Context) (configs []*plans.PlanConfig, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveStoreOperation("list_all_plans", start, err) }()

	query := `SELECT ` + planColumns + `
		FROM plan_configs
		ORDER BY rank ASC, version DESC`

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

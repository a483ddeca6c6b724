package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/civichub/planengine/pkg/observability"
	"github.com/civichub/planengine/pkg/plans"
)

const subscriptionColumns = `id, tenant_id, plan_config_id, tier, status,
	snapshot_price, snapshot_limits, start_date, created_at, updated_at`

// SubscriptionStore persists subscriptions on the primary
type SubscriptionStore struct {
	conns   *ConnectionManager
	metrics *observability.Metrics
}

// NewSubscriptionStore creates a SubscriptionStore
func NewSubscriptionStore(conns *ConnectionManager, metrics *observability.Metrics) *SubscriptionStore {
	return &SubscriptionStore{conns: conns, metrics: metrics}
}

// GetByTenant returns the tenant's active subscription or plans.ErrSubscriptionNotFound.
// It reads the primary so a committed upgrade is visible immediately.
func (s *SubscriptionStore) GetByTenant(ctx context.Context, tenantID int64) (sub *plans.Subscription, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveStoreOperation("get_subscription", start, err) }()

	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1 AND status = 'active'`

	sub, err = scanSubscription(s.conns.Primary().QueryRowContext(ctx, query, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, plans.ErrSubscriptionNotFound
	}
	return sub, err
}

// WithTenantTx runs fn in a transaction holding a transaction-scoped advisory
// lock on the tenant, so even the first insert for a tenant is serialized.
// Unique violations and serialization failures surface as plans.ErrConflict.
func (s *SubscriptionStore) WithTenantTx(ctx context.Context, tenantID int64, fn func(tx plans.SubscriptionTx) error) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveStoreOperation("upgrade_tx", start, err) }()

	tx, err := s.conns.Primary().BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", translate(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, tenantID); err != nil {
		return fmt.Errorf("failed to lock tenant %d: %w", tenantID, translate(err))
	}

	if err = fn(&subscriptionTx{tx: tx, tenantID: tenantID}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit subscription change: %w", translate(err))
	}
	return nil
}

type subscriptionTx struct {
	tx       *sql.Tx
	tenantID int64
}

// Current re-reads the active subscription with a row lock
func (t *subscriptionTx) Current(ctx context.Context) (*plans.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1 AND status = 'active'
		FOR UPDATE`

	sub, err := scanSubscription(t.tx.QueryRowContext(ctx, query, t.tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

func (t *subscriptionTx) Create(ctx context.Context, sub *plans.Subscription) error {
	limits, err := json.Marshal(sub.SnapshotLimits)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot limits: %w", err)
	}

	query := `
		INSERT INTO subscriptions (tenant_id, plan_config_id, tier, status,
			snapshot_price, snapshot_limits, start_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err = t.tx.QueryRowContext(ctx, query,
		sub.TenantID, sub.PlanConfigID, sub.Tier, string(sub.Status),
		sub.SnapshotPrice, limits, sub.StartDate, sub.CreatedAt, sub.UpdatedAt,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", translate(err))
	}
	return nil
}

// Repoint moves the row to a new plan config and refreshes the snapshot
func (t *subscriptionTx) Repoint(ctx context.Context, sub *plans.Subscription) error {
	limits, err := json.Marshal(sub.SnapshotLimits)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot limits: %w", err)
	}

	query := `
		UPDATE subscriptions
		SET plan_config_id = $2, tier = $3, status = $4,
			snapshot_price = $5, snapshot_limits = $6, updated_at = $7
		WHERE id = $1`

	result, err := t.tx.ExecContext(ctx, query,
		sub.ID, sub.PlanConfigID, sub.Tier, string(sub.Status),
		sub.SnapshotPrice, limits, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to repoint subscription %d: %w", sub.ID, translate(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to repoint subscription %d: %w", sub.ID, err)
	}
	if n != 1 {
		return fmt.Errorf("subscription %d disappeared: %w", sub.ID, plans.ErrConflict)
	}
	return nil
}

func scanSubscription(row rowScanner) (*plans.Subscription, error) {
	var (
		sub    plans.Subscription
		status string
		limits []byte
	)
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.PlanConfigID, &sub.Tier, &status,
		&sub.SnapshotPrice, &limits, &sub.StartDate, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", translate(err))
	}
	sub.Status = plans.SubscriptionStatus(status)
	if err := json.Unmarshal(limits, &sub.SnapshotLimits); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot limits of subscription %d: %w", sub.ID, err)
	}
	return &sub, nil
}

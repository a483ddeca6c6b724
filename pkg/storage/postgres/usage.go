package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/civichub/planengine/pkg/observability"
)

// UsageTables names the tables owned by other subsystems that usage is counted from
type UsageTables struct {
	Offers  string
	Tenants string
	Members string
	Coupons string
}

// DefaultUsageTables matches the community application's schema
func DefaultUsageTables() UsageTables {
	return UsageTables{
		Offers:  "offers",
		Tenants: "companies",
		Members: "company_members",
		Coupons: "coupons",
	}
}

// UsageCounter counts tenant resources on demand. A table that does not exist
// yet surfaces as plans.ErrResourceNotProvisioned.
type UsageCounter struct {
	conns   *ConnectionManager
	metrics *observability.Metrics
	queries usageQueries
}

type usageQueries struct {
	offers, activeOffers, teamMembers, couponsSince string
}

// NewUsageCounter creates a UsageCounter over the given tables.
// Table names are identifiers from configuration, never user input.
func NewUsageCounter(conns *ConnectionManager, tables UsageTables, metrics *observability.Metrics) *UsageCounter {
	return &UsageCounter{
		conns:   conns,
		metrics: metrics,
		queries: usageQueries{
			offers: fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE company_id = $1`, tables.Offers),
			activeOffers: fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE company_id = $1 AND status = 'active'`,
				tables.Offers),
			teamMembers: fmt.Sprintf(`SELECT COUNT(*) FROM (
				SELECT owner_user_id AS user_id FROM %s WHERE id = $1 AND owner_user_id IS NOT NULL
				UNION
				SELECT user_id FROM %s WHERE company_id = $1
			) AS team`, tables.Tenants, tables.Members),
			couponsSince: fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE company_id = $1 AND created_at >= $2`,
				tables.Coupons),
		},
	}
}

func (u *UsageCounter) CountOffers(ctx context.Context, tenantID int64) (int64, error) {
	return u.count(ctx, "count_offers", u.queries.offers, tenantID)
}

func (u *UsageCounter) CountActiveOffers(ctx context.Context, tenantID int64) (int64, error) {
	return u.count(ctx, "count_active_offers", u.queries.activeOffers, tenantID)
}

// CountTeamMembers counts the owner and members once each
func (u *UsageCounter) CountTeamMembers(ctx context.Context, tenantID int64) (int64, error) {
	return u.count(ctx, "count_team_members", u.queries.teamMembers, tenantID)
}

func (u *UsageCounter) CountCouponsSince(ctx context.Context, tenantID int64, since time.Time) (int64, error) {
	return u.count(ctx, "count_coupons", u.queries.couponsSince, tenantID, since)
}

// count reads the replica; quota checks are best-effort so replica lag is acceptable
func (u *UsageCounter) count(ctx context.Context, op, query string, args ...interface{}) (n int64, err error) {
	start := time.Now()
	defer func() { u.metrics.ObserveStoreOperation(op, start, err) }()

	if err := u.conns.Replica().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, translate(err))
	}
	return n, nil
}

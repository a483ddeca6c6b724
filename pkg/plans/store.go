package plans

import (
	"context"
	"time"
)

// CatalogStore provides read access to administrator-managed plan configs
type CatalogStore interface {
	// ListActiveVisible returns configs with is_active and is_visible set, ascending by rank
	ListActiveVisible(ctx context.Context) ([]*PlanConfig, error)
	// GetActiveByTier returns the active config for a tier or ErrPlanNotFound
	GetActiveByTier(ctx context.Context, tier Tier) (*PlanConfig, error)
}

// SubscriptionStore persists tenant subscriptions
type SubscriptionStore interface {
	// GetByTenant returns the tenant's non-terminal subscription or ErrSubscriptionNotFound
	GetByTenant(ctx context.Context, tenantID int64) (*Subscription, error)
	// WithTenantTx runs fn in a transaction holding a row lock on the tenant's subscription.
	// Implementations return ErrConflict when a concurrent writer wins.
	WithTenantTx(ctx context.Context, tenantID int64, fn func(tx SubscriptionTx) error) error
}

// SubscriptionTx is the write view of SubscriptionStore inside WithTenantTx
type SubscriptionTx interface {
	// Current re-reads the tenant's subscription under lock, nil when none exists
	Current(ctx context.Context) (*Subscription, error)
	Create(ctx context.Context, sub *Subscription) error
	// Repoint moves an existing subscription to a new plan config and refreshes its snapshot
	Repoint(ctx context.Context, sub *Subscription) error
}

// UsageCounter counts tenant-scoped resources owned by other subsystems.
// Counts must be computed on demand and never cached across a decision.
type UsageCounter interface {
	CountOffers(ctx context.Context, tenantID int64) (int64, error)
	CountActiveOffers(ctx context.Context, tenantID int64) (int64, error)
	// CountTeamMembers counts the union of owner and member users
	CountTeamMembers(ctx context.Context, tenantID int64) (int64, error)
	CountCouponsSince(ctx context.Context, tenantID int64, since time.Time) (int64, error)
}

// TenantLocker serializes upgrades for one tenant across processes
type TenantLocker interface {
	Lock(ctx context.Context, tenantID int64) (unlock func(), err error)
}

// noopLocker relies on the store's row lock alone
type noopLocker struct{}

func (noopLocker) Lock(context.Context, int64) (func(), error) {
	return func() {}, nil
}

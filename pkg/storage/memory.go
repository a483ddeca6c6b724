package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/civichub/planengine/pkg/plans"
)

// MemorySubscriptionStore keeps subscriptions in process memory.
// Writes made inside WithTenantTx become visible only when fn succeeds.
type MemorySubscriptionStore struct {
	mu      sync.Mutex
	nextID  int64
	active  map[int64]*plans.Subscription
	tenants map[int64]*sync.Mutex
}

// NewMemorySubscriptionStore creates an empty store
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{
		active:  make(map[int64]*plans.Subscription),
		tenants: make(map[int64]*sync.Mutex),
	}
}

// GetByTenant implements plans.SubscriptionStore
func (s *MemorySubscriptionStore) GetByTenant(ctx context.Context, tenantID int64) (*plans.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.active[tenantID]
	if !ok {
		return nil, plans.ErrSubscriptionNotFound
	}
	clone := *sub
	return &clone, nil
}

// WithTenantTx implements plans.SubscriptionStore with a per-tenant mutex
func (s *MemorySubscriptionStore) WithTenantTx(ctx context.Context, tenantID int64, fn func(tx plans.SubscriptionTx) error) error {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{store: s, tenantID: tenantID}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// Len returns the number of active subscriptions
func (s *MemorySubscriptionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *MemorySubscriptionStore) tenantLock(tenantID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.tenants[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		s.tenants[tenantID] = lock
	}
	return lock
}

type memoryTx struct {
	store    *MemorySubscriptionStore
	tenantID int64
	created  *plans.Subscription
	updated  *plans.Subscription
}

func (t *memoryTx) Current(ctx context.Context) (*plans.Subscription, error) {
	sub, err := t.store.GetByTenant(ctx, t.tenantID)
	if errors.Is(err, plans.ErrSubscriptionNotFound) {
		return nil, nil
	}
	return sub, err
}

func (t *memoryTx) Create(ctx context.Context, sub *plans.Subscription) error {
	if sub.TenantID != t.tenantID {
		return fmt.Errorf("subscription for tenant %d created in transaction of tenant %d", sub.TenantID, t.tenantID)
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, exists := t.store.active[t.tenantID]; exists || t.created != nil {
		return fmt.Errorf("tenant %d already has an active subscription: %w", t.tenantID, plans.ErrConflict)
	}
	t.store.nextID++
	sub.ID = t.store.nextID
	clone := *sub
	t.created = &clone
	return nil
}

func (t *memoryTx) Repoint(ctx context.Context, sub *plans.Subscription) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	current, ok := t.store.active[t.tenantID]
	if !ok || current.ID != sub.ID {
		return fmt.Errorf("subscription %d disappeared: %w", sub.ID, plans.ErrConflict)
	}
	clone := *sub
	t.updated = &clone
	return nil
}

func (t *memoryTx) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	switch {
	case t.created != nil:
		if _, exists := t.store.active[t.tenantID]; exists {
			return plans.ErrConflict
		}
		t.store.active[t.tenantID] = t.created
	case t.updated != nil:
		t.store.active[t.tenantID] = t.updated
	}
	return nil
}

// TenantUsage is the resource usage of one tenant in MemoryUsageCounter
type TenantUsage struct {
	Offers       int64
	ActiveOffers int64
	TeamMembers  int64
	Coupons      []time.Time
}

// MemoryUsageCounter counts from usage recorded with Set.
// Tenants never recorded have no resources.
type MemoryUsageCounter struct {
	mu    sync.RWMutex
	usage map[int64]TenantUsage
	// Unprovisioned makes every count fail with plans.ErrResourceNotProvisioned
	Unprovisioned bool
}

// NewMemoryUsageCounter creates an empty counter
func NewMemoryUsageCounter() *MemoryUsageCounter {
	return &MemoryUsageCounter{usage: make(map[int64]TenantUsage)}
}

// Set replaces the recorded usage of a tenant
func (u *MemoryUsageCounter) Set(tenantID int64, usage TenantUsage) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage[tenantID] = usage
}

func (u *MemoryUsageCounter) get(tenantID int64) (TenantUsage, error) {
	if u.Unprovisioned {
		return TenantUsage{}, plans.ErrResourceNotProvisioned
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.usage[tenantID], nil
}

func (u *MemoryUsageCounter) CountOffers(ctx context.Context, tenantID int64) (int64, error) {
	usage, err := u.get(tenantID)
	return usage.Offers, err
}

func (u *MemoryUsageCounter) CountActiveOffers(ctx context.Context, tenantID int64) (int64, error) {
	usage, err := u.get(tenantID)
	return usage.ActiveOffers, err
}

func (u *MemoryUsageCounter) CountTeamMembers(ctx context.Context, tenantID int64) (int64, error) {
	usage, err := u.get(tenantID)
	return usage.TeamMembers, err
}

func (u *MemoryUsageCounter) CountCouponsSince(ctx context.Context, tenantID int64, since time.Time) (int64, error) {
	usage, err := u.get(tenantID)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, at := range usage.Coupons {
		if !at.Before(since) {
			n++
		}
	}
	return n, nil
}

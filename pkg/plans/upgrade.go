package plans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civichub/planengine/pkg/observability"
)

// DefaultUpgradeAttempts bounds UpgradePlan retries on ErrConflict
const DefaultUpgradeAttempts = 3

// Transitioner moves tenants forward through the hierarchy.
//
// A tenant is either without a subscription or active on one tier. The first
// assignment may target any tier in the hierarchy; afterwards only strictly
// higher tiers are accepted.
type Transitioner struct {
	hierarchy     *HierarchyProvider
	resolver      *Resolver
	normalizer    *Normalizer
	subscriptions SubscriptionStore
	locker        TenantLocker
	attempts      int
	now           func() time.Time
	logger        *observability.Logger
	metrics       *observability.Metrics
	trail         auditTrail
}

// NewTransitioner creates a Transitioner. A nil locker relies on the store's row lock alone.
func NewTransitioner(hierarchy *HierarchyProvider, resolver *Resolver, normalizer *Normalizer, subscriptions SubscriptionStore, locker TenantLocker, attempts int, now func() time.Time, logger *observability.Logger, metrics *observability.Metrics) *Transitioner {
	if locker == nil {
		locker = noopLocker{}
	}
	if attempts <= 0 {
		attempts = DefaultUpgradeAttempts
	}
	if now == nil {
		now = time.Now
	}
	return &Transitioner{
		hierarchy:     hierarchy,
		resolver:      resolver,
		normalizer:    normalizer,
		subscriptions: subscriptions,
		locker:        locker,
		attempts:      attempts,
		now:           now,
		logger:        logger,
		metrics:       metrics,
		trail:         newAuditTrail(logger),
	}
}

// CanUpgradeToPlan validates a transition without committing it
func (t *Transitioner) CanUpgradeToPlan(ctx context.Context, tenantID int64, newTier string) (*UpgradeDecision, error) {
	plan, err := t.resolver.EffectivePlan(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	decision := &UpgradeDecision{CurrentTier: plan.Tier, Current: plan}

	target, err := ParseTier(newTier)
	if err != nil {
		decision.Reason = ReasonUnknownTier
		return decision, nil
	}
	decision.NewTier = target

	reason, err := t.decide(ctx, plan.Tier, !plan.IsVirtualDefault(), target)
	if err != nil {
		return nil, err
	}
	decision.Reason = reason
	decision.Allowed = reason == ""
	return decision, nil
}

func (t *Transitioner) decide(ctx context.Context, current Tier, subscribed bool, target Tier) (RejectReason, error) {
	idx, err := t.hierarchy.Index(ctx, target)
	if err != nil {
		return "", err
	}
	if idx < 0 {
		return ReasonUnknownTier, nil
	}
	if !subscribed {
		return "", nil
	}
	if current == target {
		return ReasonAlreadyOnPlan, nil
	}
	up, err := t.hierarchy.IsUpgrade(ctx, current, target)
	if err != nil {
		return "", err
	}
	if !up {
		return ReasonDowngradeNotSupported, nil
	}
	return "", nil
}

// UpgradePlan commits a transition to newTier.
//
// The decision is re-made inside a transaction holding the tenant's row lock,
// so concurrent calls for one tenant commit exactly one subscription state.
// The existing row is repointed to the new config and its snapshot refreshed.
// Rejections are returned as *TransitionError.
func (t *Transitioner) UpgradePlan(ctx context.Context, tenantID int64, newTier string) (*Subscription, error) {
	target, err := ParseTier(newTier)
	if err != nil {
		return nil, t.reject(ctx, &TransitionError{TenantID: tenantID, To: newTier, Reason: ReasonUnknownTier})
	}

	cfg, err := t.resolver.ConfigFor(ctx, target)
	if err != nil {
		return nil, err
	}
	if cfg.Tier != target {
		return nil, t.reject(ctx, &TransitionError{TenantID: tenantID, To: newTier, Reason: ReasonUnknownTier})
	}

	unlock, err := t.locker.Lock(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock tenant %d: %w", tenantID, err)
	}
	defer unlock()

	var (
		committed *Subscription
		from      string
	)
	for attempt := 1; attempt <= t.attempts; attempt++ {
		err = t.subscriptions.WithTenantTx(ctx, tenantID, func(tx SubscriptionTx) error {
			var txErr error
			committed, from, txErr = t.apply(ctx, tx, tenantID, target, cfg)
			return txErr
		})
		if !errors.Is(err, ErrConflict) || attempt == t.attempts {
			break
		}
		t.metrics.UpgradeConflictsTotal.Inc()
		t.logger.WithTenant(tenantID).Debugf("upgrade conflict on attempt %d, retrying", attempt)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}
	if err != nil {
		var te *TransitionError
		if errors.As(err, &te) {
			return nil, t.reject(ctx, te)
		}
		return nil, fmt.Errorf("failed to upgrade tenant %d to %s: %w", tenantID, target, err)
	}

	t.metrics.UpgradesTotal.WithLabelValues(from, string(target)).Inc()
	t.logger.WithTenant(tenantID).WithFields(map[string]interface{}{
		"from":           from,
		"to":             string(target),
		"plan_config_id": cfg.ID,
	}).Info("plan upgrade committed")
	t.trail.upgraded(ctx, committed, from)

	return committed, nil
}

func (t *Transitioner) reject(ctx context.Context, te *TransitionError) *TransitionError {
	t.trail.upgradeRejected(ctx, te)
	return te
}

// apply runs inside the tenant transaction and returns the committed row and the previous tier label
func (t *Transitioner) apply(ctx context.Context, tx SubscriptionTx, tenantID int64, target Tier, cfg *PlanConfig) (*Subscription, string, error) {
	current, err := tx.Current(ctx)
	if err != nil {
		return nil, "", err
	}

	from := DefaultTier
	if current != nil {
		from = t.normalizer.NormalizeTier(current.Tier)
	}

	reason, err := t.decide(ctx, from, current != nil, target)
	if err != nil {
		return nil, "", err
	}
	if reason != "" {
		return nil, "", &TransitionError{TenantID: tenantID, From: from, To: string(target), Reason: reason}
	}

	now := t.now()
	if current == nil {
		sub := &Subscription{
			TenantID:       tenantID,
			PlanConfigID:   cfg.ID,
			Tier:           string(target),
			Status:         SubscriptionStatusActive,
			SnapshotPrice:  cfg.Price(),
			SnapshotLimits: cfg.Limits,
			StartDate:      now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(ctx, sub); err != nil {
			return nil, "", err
		}
		return sub, "none", nil
	}

	next := *current
	next.PlanConfigID = cfg.ID
	next.Tier = string(target)
	next.Status = SubscriptionStatusActive
	next.SnapshotPrice = cfg.Price()
	next.SnapshotLimits = cfg.Limits
	next.UpdatedAt = now
	if err := tx.Repoint(ctx, &next); err != nil {
		return nil, "", err
	}
	return &next, string(from), nil
}

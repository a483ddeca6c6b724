package plans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/civichub/planengine/pkg/observability"
)

// CouponQuotaNotEnforced is the reason reported while coupon quotas are switched off
const CouponQuotaNotEnforced = "coupon quota not yet enforced"

// quotaRule binds an action to the limit it is measured against
type quotaRule struct {
	action Action
	noun   string
	limit  func(*PlanConfig) Limit
	count  func(ctx context.Context, u UsageCounter, tenantID int64, now time.Time) (int64, error)
}

var quotaRules = map[Action]quotaRule{
	ActionCreateOffer: {
		action: ActionCreateOffer,
		noun:   "offers",
		limit:  func(p *PlanConfig) Limit { return p.MaxOffers },
		count: func(ctx context.Context, u UsageCounter, id int64, _ time.Time) (int64, error) {
			return u.CountOffers(ctx, id)
		},
	},
	ActionActivateOffer: {
		action: ActionActivateOffer,
		noun:   "active offers",
		limit:  func(p *PlanConfig) Limit { return p.MaxActiveOffers },
		count: func(ctx context.Context, u UsageCounter, id int64, _ time.Time) (int64, error) {
			return u.CountActiveOffers(ctx, id)
		},
	},
	ActionAddTeamMember: {
		action: ActionAddTeamMember,
		noun:   "team members",
		limit:  func(p *PlanConfig) Limit { return p.MaxTeamMembers },
		count: func(ctx context.Context, u UsageCounter, id int64, _ time.Time) (int64, error) {
			return u.CountTeamMembers(ctx, id)
		},
	},
	ActionGenerateCoupon: {
		action: ActionGenerateCoupon,
		noun:   "coupons per month",
		limit:  func(p *PlanConfig) Limit { return p.MaxCouponsPerMonth },
		count: func(ctx context.Context, u UsageCounter, id int64, now time.Time) (int64, error) {
			return u.CountCouponsSince(ctx, id, MonthStart(now))
		},
	},
}

// MonthStart returns the first instant of now's calendar month in now's location
func MonthStart(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
}

// QuotaEnforcer decides whether a tenant may perform a quota-bounded action.
// Checks are best-effort: counts can change between the check and the action.
type QuotaEnforcer struct {
	resolver       *Resolver
	usage          UsageCounter
	enforceCoupons bool
	now            func() time.Time
	logger         *observability.Logger
	metrics        *observability.Metrics
	trail          auditTrail
}

// NewQuotaEnforcer creates a QuotaEnforcer
func NewQuotaEnforcer(resolver *Resolver, usage UsageCounter, enforceCoupons bool, now func() time.Time, logger *observability.Logger, metrics *observability.Metrics) *QuotaEnforcer {
	if now == nil {
		now = time.Now
	}
	return &QuotaEnforcer{
		resolver:       resolver,
		usage:          usage,
		enforceCoupons: enforceCoupons,
		now:            now,
		logger:         logger,
		metrics:        metrics,
		trail:          newAuditTrail(logger),
	}
}

func (q *QuotaEnforcer) CheckCreateOffer(ctx context.Context, tenantID int64) (*QuotaCheck, error) {
	return q.Check(ctx, tenantID, ActionCreateOffer)
}

func (q *QuotaEnforcer) CheckActivateOffer(ctx context.Context, tenantID int64) (*QuotaCheck, error) {
	return q.Check(ctx, tenantID, ActionActivateOffer)
}

func (q *QuotaEnforcer) CheckAddTeamMember(ctx context.Context, tenantID int64) (*QuotaCheck, error) {
	return q.Check(ctx, tenantID, ActionAddTeamMember)
}

// CheckGenerateCoupon always allows while coupon quotas are not enforced,
// and says so through Enforced=false.
func (q *QuotaEnforcer) CheckGenerateCoupon(ctx context.Context, tenantID int64) (*QuotaCheck, error) {
	return q.Check(ctx, tenantID, ActionGenerateCoupon)
}

// Check runs the quota check for action
func (q *QuotaEnforcer) Check(ctx context.Context, tenantID int64, action Action) (*QuotaCheck, error) {
	rule, ok := quotaRules[action]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownAction, action)
	}

	plan, err := q.resolver.EffectivePlan(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	limit := rule.limit(plan.Config)
	check := &QuotaCheck{
		Action:    action,
		Limit:     limit,
		Unlimited: limit.IsUnlimited(),
		Enforced:  true,
		PlanName:  plan.Config.Name,
	}

	if action == ActionGenerateCoupon && !q.enforceCoupons {
		check.Allowed = true
		check.Enforced = false
		check.Reason = CouponQuotaNotEnforced
		q.record(check)
		return check, nil
	}

	current, err := q.count(ctx, rule, tenantID)
	if err != nil {
		return nil, err
	}
	check.Current = current

	check.Allowed = Allows(limit, current)
	if !check.Allowed {
		check.Reason = fmt.Sprintf("Your plan %s allows up to %d %s. Upgrade to add more.", plan.Config.Name, int64(limit), rule.noun)
	}

	q.record(check)
	return check, nil
}

// Allows reports whether one more unit fits under limit given current usage
func Allows(limit Limit, current int64) bool {
	if limit.IsUnlimited() {
		return true
	}
	return current < int64(limit)
}

// Enforce returns a *QuotaExceededError when the check denies the action
func (q *QuotaEnforcer) Enforce(ctx context.Context, tenantID int64, action Action) error {
	check, err := q.Check(ctx, tenantID, action)
	if err != nil {
		return err
	}
	if check.Allowed {
		return nil
	}
	q.trail.quotaDenied(ctx, tenantID, check)
	return &QuotaExceededError{
		Action:   action,
		Current:  check.Current,
		Limit:    check.Limit,
		PlanName: check.PlanName,
		Reason:   check.Reason,
	}
}

// UsageSnapshot counts every quota-bounded resource concurrently
func (q *QuotaEnforcer) UsageSnapshot(ctx context.Context, tenantID int64) (*Usage, error) {
	usage := &Usage{TenantID: tenantID, MeasuredAt: q.now()}

	g, gctx := errgroup.WithContext(ctx)
	targets := map[Action]*int64{
		ActionCreateOffer:    &usage.Offers,
		ActionActivateOffer:  &usage.ActiveOffers,
		ActionAddTeamMember:  &usage.TeamMembers,
		ActionGenerateCoupon: &usage.CouponsThisMonth,
	}
	for action, dst := range targets {
		rule := quotaRules[action]
		g.Go(func() error {
			n, err := q.count(gctx, rule, tenantID)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return usage, nil
}

// count treats a not-yet-provisioned resource as zero usage
func (q *QuotaEnforcer) count(ctx context.Context, rule quotaRule, tenantID int64) (int64, error) {
	n, err := rule.count(ctx, q.usage, tenantID, q.now())
	if err == nil {
		return n, nil
	}
	if errors.Is(err, ErrResourceNotProvisioned) {
		q.logger.WithTenant(tenantID).WithError(err).
			Warnf("counting %s failed, treating as zero", rule.noun)
		return 0, nil
	}
	return 0, fmt.Errorf("failed to count %s: %w", rule.noun, err)
}

func (q *QuotaEnforcer) record(check *QuotaCheck) {
	result := "allowed"
	switch {
	case !check.Enforced:
		result = "not_enforced"
	case !check.Allowed:
		result = "denied"
	}
	q.metrics.QuotaChecksTotal.WithLabelValues(string(check.Action), result).Inc()
}

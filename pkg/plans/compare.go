package plans

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// LimitLabel names one comparable limit of a plan
type LimitLabel struct {
	Label string
	Value func(Limits) Limit
}

var limitLabels = []LimitLabel{
	{Label: "offers", Value: func(l Limits) Limit { return l.MaxOffers }},
	{Label: "active offers", Value: func(l Limits) Limit { return l.MaxActiveOffers }},
	{Label: "team members", Value: func(l Limits) Limit { return l.MaxTeamMembers }},
	{Label: "coupons per month", Value: func(l Limits) Limit { return l.MaxCouponsPerMonth }},
}

// LimitLabels returns a copy of the labelled limits in display order
func LimitLabels() []LimitLabel {
	return append([]LimitLabel(nil), limitLabels...)
}

// IsLimitIncrease reports whether moving from one limit to another is a genuine improvement
func IsLimitIncrease(from, to Limit) bool {
	switch {
	case to.IsUnlimited():
		return !from.IsUnlimited()
	case from.IsUnlimited():
		return false
	default:
		return to > from
	}
}

// ComparePlans lists what moving from current to next gains.
// Features keep next's declaration order. PriceDifference is signed.
func ComparePlans(current, next *PlanConfig) *PlanComparison {
	cmp := &PlanComparison{
		UpgradedFeatures: []string{},
		IncreasedLimits:  []LimitChange{},
		PriceDifference:  next.Price().Sub(current.Price()),
	}

	for _, key := range next.OrderedFeatures() {
		if next.HasFeature(key) && !current.HasFeature(key) {
			cmp.UpgradedFeatures = append(cmp.UpgradedFeatures, key)
		}
	}

	for _, ll := range limitLabels {
		from, to := ll.Value(current.Limits), ll.Value(next.Limits)
		if IsLimitIncrease(from, to) {
			cmp.IncreasedLimits = append(cmp.IncreasedLimits, LimitChange{Label: ll.Label, From: from, To: to})
		}
	}

	return cmp
}

// IsUpgrade reports whether next has a strictly higher persisted rank than
// current. Tiers missing from the hierarchy are never an upgrade target.
func (h *HierarchyProvider) IsUpgrade(ctx context.Context, current, next Tier) (bool, error) {
	configs, err := h.Plans(ctx)
	if err != nil {
		return false, err
	}
	var target *PlanConfig
	for _, cfg := range configs {
		if cfg.Tier == next {
			target = cfg
			break
		}
	}
	if target == nil {
		return false, nil
	}
	rank, err := h.rankOf(ctx, configs, current)
	if err != nil {
		return false, err
	}
	return target.Rank > rank, nil
}

// AvailablePlansForUpgrade returns configs ranked strictly above current, in
// hierarchy order
func (h *HierarchyProvider) AvailablePlansForUpgrade(ctx context.Context, current Tier) ([]*PlanConfig, error) {
	configs, err := h.Plans(ctx)
	if err != nil {
		return nil, err
	}
	rank, err := h.rankOf(ctx, configs, current)
	if err != nil {
		return nil, err
	}
	out := []*PlanConfig{}
	for _, cfg := range configs {
		if cfg.Rank > rank {
			out = append(out, cfg)
		}
	}
	return out, nil
}

// rankOf is the persisted rank of tier. A tier hidden from the hierarchy is
// ranked by its active config; one with no active config ranks below all.
func (h *HierarchyProvider) rankOf(ctx context.Context, visible []*PlanConfig, tier Tier) (int, error) {
	for _, cfg := range visible {
		if cfg.Tier == tier {
			return cfg.Rank, nil
		}
	}
	cfg, err := h.catalog.GetActiveByTier(ctx, tier)
	switch {
	case errors.Is(err, ErrPlanNotFound):
		return math.MinInt, nil
	case err != nil:
		return 0, fmt.Errorf("failed to load %s plan: %w", tier, err)
	}
	return cfg.Rank, nil
}

func indexOf(tiers []Tier, tier Tier) int {
	for i, t := range tiers {
		if t == tier {
			return i
		}
	}
	return -1
}

package plans

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tier is one rung of the ordered plan hierarchy
type Tier string

const (
	TierEntry      Tier = "entry"
	TierStandard   Tier = "standard"
	TierStrategic  Tier = "strategic"
	TierEnterprise Tier = "enterprise"
)

// DefaultTier is assigned to tenants without a subscription and to unrecognized tier input
const DefaultTier = TierEntry

// tierRanks is the built-in rank of every tier in the closed set.
// Persisted PlanConfig.Rank values take precedence when ordering the hierarchy.
var tierRanks = map[Tier]int{
	TierEntry:      0,
	TierStandard:   1,
	TierStrategic:  2,
	TierEnterprise: 3,
}

// AllTiers returns the closed tier set in ascending built-in rank
func AllTiers() []Tier {
	return []Tier{TierEntry, TierStandard, TierStrategic, TierEnterprise}
}

// Rank returns the built-in rank of the tier, -1 for values outside the closed set
func (t Tier) Rank() int {
	if r, ok := tierRanks[t]; ok {
		return r
	}
	return -1
}

// IsValid reports whether t belongs to the closed tier set
func (t Tier) IsValid() bool {
	_, ok := tierRanks[t]
	return ok
}

func (t Tier) String() string {
	return string(t)
}

// Limit is a resource cap. Unlimited (-1) means no cap.
type Limit int64

// Unlimited is the sentinel for "no cap"
const Unlimited Limit = -1

// IsUnlimited reports whether the limit is the unlimited sentinel
func (l Limit) IsUnlimited() bool {
	return l == Unlimited
}

// Valid reports whether the limit is non-negative or the unlimited sentinel
func (l Limit) Valid() bool {
	return l >= 0 || l == Unlimited
}

func (l Limit) String() string {
	if l.IsUnlimited() {
		return "unlimited"
	}
	return strconv.FormatInt(int64(l), 10)
}

// MarshalJSON renders unlimited as "unlimited" and finite limits as numbers
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.IsUnlimited() {
		return []byte(`"unlimited"`), nil
	}
	return []byte(strconv.FormatInt(int64(l), 10)), nil
}

// UnmarshalJSON accepts "unlimited", -1 or a non-negative integer
func (l *Limit) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "unlimited" {
		*l = Unlimited
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid limit %s: %w", data, err)
	}
	*l = Limit(v)
	return nil
}

// Limits groups the quota-bounded resources of a plan
type Limits struct {
	MaxOffers          Limit `json:"max_offers"`
	MaxActiveOffers    Limit `json:"max_active_offers"`
	MaxTeamMembers     Limit `json:"max_team_members"`
	MaxCouponsPerMonth Limit `json:"max_coupons_per_month"`
}

// PlanConfig is one version of a plan as managed by administrators
type PlanConfig struct {
	ID             int64           `json:"id"`
	Tier           Tier            `json:"tier"`
	Name           string          `json:"name"`
	BasePrice      decimal.Decimal `json:"base_price"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
	Limits
	FeatureOrder []string        `json:"feature_order,omitempty"`
	Features     map[string]bool `json:"features"`
	IsActive     bool            `json:"is_active"`
	IsVisible    bool            `json:"is_visible"`
	Rank         int             `json:"rank"`
	Version      int             `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Price is the amount charged per billing period after any first-period discount
func (p *PlanConfig) Price() decimal.Decimal {
	return p.EffectivePrice
}

// HasFeature reports whether the feature is enabled on the plan
func (p *PlanConfig) HasFeature(key string) bool {
	return p.Features[key]
}

// OrderedFeatures returns feature keys in declaration order.
// Keys missing from FeatureOrder are appended sorted so the result is deterministic.
func (p *PlanConfig) OrderedFeatures() []string {
	seen := make(map[string]bool, len(p.Features))
	keys := make([]string, 0, len(p.Features))
	for _, k := range p.FeatureOrder {
		if _, ok := p.Features[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range p.Features {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// Validate checks the config once at the persistence boundary
func (p *PlanConfig) Validate() error {
	if !p.Tier.IsValid() {
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidPlanConfig, p.Tier)
	}
	if p.BasePrice.IsNegative() || p.EffectivePrice.IsNegative() {
		return fmt.Errorf("%w: negative price on %s", ErrInvalidPlanConfig, p.Tier)
	}
	for label, l := range map[string]Limit{
		"max_offers":            p.MaxOffers,
		"max_active_offers":     p.MaxActiveOffers,
		"max_team_members":      p.MaxTeamMembers,
		"max_coupons_per_month": p.MaxCouponsPerMonth,
	} {
		if !l.Valid() {
			return fmt.Errorf("%w: %s on %s must be >= 0 or -1, got %d", ErrInvalidPlanConfig, label, p.Tier, l)
		}
	}
	return nil
}

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive SubscriptionStatus = "active"
)

// Subscription links one tenant to one PlanConfig version
type Subscription struct {
	ID             int64              `json:"id"`
	TenantID       int64              `json:"tenant_id"`
	PlanConfigID   int64              `json:"plan_config_id"`
	Tier           string             `json:"tier"`
	Status         SubscriptionStatus `json:"status"`
	SnapshotPrice  decimal.Decimal    `json:"snapshot_price"`
	SnapshotLimits Limits             `json:"snapshot_limits"`
	StartDate      time.Time          `json:"start_date"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// EffectivePlan is the plan a tenant is on right now.
// Subscription is nil when the tenant is on the virtual default tier.
type EffectivePlan struct {
	TenantID     int64         `json:"tenant_id"`
	Tier         Tier          `json:"tier"`
	Subscription *Subscription `json:"subscription,omitempty"`
	Config       *PlanConfig   `json:"config"`
}

// IsVirtualDefault reports whether the tenant has no persisted subscription
func (e *EffectivePlan) IsVirtualDefault() bool {
	return e.Subscription == nil
}

// Action is a quota-bounded tenant action
type Action string

const (
	ActionCreateOffer    Action = "create_offer"
	ActionActivateOffer  Action = "activate_offer"
	ActionGenerateCoupon Action = "generate_coupon"
	ActionAddTeamMember  Action = "add_team_member"
)

// QuotaCheck is the outcome of a quota check
type QuotaCheck struct {
	Action    Action `json:"action"`
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Current   int64  `json:"current"`
	Limit     Limit  `json:"limit"`
	Unlimited bool   `json:"unlimited"`
	// Enforced is false when the action is not yet quota-enforced
	Enforced bool   `json:"enforced"`
	PlanName string `json:"plan_name"`
}

// Usage is a point-in-time count of every quota-bounded resource
type Usage struct {
	TenantID         int64     `json:"tenant_id"`
	Offers           int64     `json:"offers"`
	ActiveOffers     int64     `json:"active_offers"`
	TeamMembers      int64     `json:"team_members"`
	CouponsThisMonth int64     `json:"coupons_this_month"`
	MeasuredAt       time.Time `json:"measured_at"`
}

// ProrationResult is the cost split of a mid-cycle plan change
type ProrationResult struct {
	DaysRemaining     int             `json:"days_remaining"`
	DaysInPeriod      int             `json:"days_in_period"`
	CreditAmount      decimal.Decimal `json:"credit_amount"`
	NewPlanCost       decimal.Decimal `json:"new_plan_cost"`
	DueToday          decimal.Decimal `json:"due_today"`
	NextBillingAmount decimal.Decimal `json:"next_billing_amount"`
}

// LimitChange is one improved limit between two plans
type LimitChange struct {
	Label string `json:"label"`
	From  Limit  `json:"from"`
	To    Limit  `json:"to"`
}

// PlanComparison lists what a tenant gains by moving between two plans
type PlanComparison struct {
	UpgradedFeatures []string        `json:"upgraded_features"`
	IncreasedLimits  []LimitChange   `json:"increased_limits"`
	PriceDifference  decimal.Decimal `json:"price_difference"`
}

// UpgradeDecision is the result of validating a plan transition
type UpgradeDecision struct {
	Allowed     bool           `json:"allowed"`
	Reason      RejectReason   `json:"reason,omitempty"`
	CurrentTier Tier           `json:"current_tier"`
	NewTier     Tier           `json:"new_tier"`
	Current     *EffectivePlan `json:"-"`
}

package plans

import (
	"errors"
	"fmt"
)

var (
	// ErrCatalogMisconfigured means not even the default tier has an active config.
	// This is an operator error in the reference data, never a user mistake.
	ErrCatalogMisconfigured = errors.New("plan catalog misconfigured: no active config for default tier")

	ErrInvalidPlanConfig    = errors.New("invalid plan config")
	ErrPlanNotFound         = errors.New("plan config not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrResourceNotProvisioned is returned by usage counters when the counted
	// resource does not exist yet (for example a table that was never migrated)
	ErrResourceNotProvisioned = errors.New("resource not provisioned")

	ErrInvalidBillingPeriod = errors.New("billing period must span at least one day")
	ErrUnknownTier          = errors.New("unknown tier")
	ErrUnknownAction        = errors.New("unknown quota action")
	ErrUpgradeRejected      = errors.New("upgrade rejected")

	// ErrConflict is returned by stores when a concurrent writer won the race.
	// UpgradePlan retries on it.
	ErrConflict = errors.New("concurrent subscription update")
)

// RejectReason describes why a plan transition is not allowed
type RejectReason string

const (
	ReasonAlreadyOnPlan         RejectReason = "already on this plan"
	ReasonDowngradeNotSupported RejectReason = "downgrade not supported"
	ReasonUnknownTier           RejectReason = "unknown tier"
)

// TransitionError represents a rejected plan transition
type TransitionError struct {
	TenantID int64
	From     Tier
	To       string
	Reason   RejectReason
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move tenant %d from %s to %s: %s", e.TenantID, e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrUpgradeRejected
}

// IsTransitionRejected checks if an error is a rejected plan transition
func IsTransitionRejected(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// QuotaExceededError represents a denied quota check
type QuotaExceededError struct {
	Action   Action
	Current  int64
	Limit    Limit
	PlanName string
	Reason   string
}

func (e *QuotaExceededError) Error() string {
	return "quota exceeded for " + string(e.Action) + ": " + e.Reason
}

// IsQuotaExceeded checks if an error is a quota exceeded error
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

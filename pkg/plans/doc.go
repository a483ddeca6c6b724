// Package plans resolves which plan a tenant is on, enforces resource quotas
// against it, prices mid-cycle plan changes and commits forward upgrades
// through the ordered tier hierarchy.
//
// # Tiers
//
// The tier set is closed: entry (the default), standard, strategic and
// enterprise. Raw tier strings from storage or requests go through
// NormalizeTier, which never fails; unknown input becomes the default tier and
// is logged. Requested upgrade targets use ParseTier, which rejects unknown input.
//
// # Limits
//
// A Limit of Unlimited (-1) means no cap. Check IsUnlimited before doing
// arithmetic on a limit.
//
// # Usage
//
//	engine, err := plans.NewEngine(plans.Options{
//		Catalog:       catalog,
//		Subscriptions: subscriptions,
//		Usage:         usage,
//		Logger:        logger,
//		Metrics:       metrics,
//	})
//
//	check, err := engine.CheckCreateOffer(ctx, tenantID)
//	if !check.Allowed {
//		// show check.Reason
//	}
//
//	sub, err := engine.UpgradePlan(ctx, tenantID, "strategic")
//	if plans.IsTransitionRejected(err) {
//		// already on plan, downgrade, or unknown tier
//	}
//
// Quota checks are best-effort. Callers needing a hard guarantee must re-check
// immediately before the guarded action.
package plans

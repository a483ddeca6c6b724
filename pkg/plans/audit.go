package plans

import (
	"context"
	"strconv"

	"github.com/civichub/planengine/pkg/audit"
	"github.com/civichub/planengine/pkg/observability"
)

// auditTrail writes plan events to an audit.Logger. Sink failures are logged, never returned.
type auditTrail struct {
	sink   audit.Logger
	logger *observability.Logger
}

func newAuditTrail(logger *observability.Logger) auditTrail {
	return auditTrail{sink: audit.NoOpLogger{}, logger: logger}
}

func (a auditTrail) record(ctx context.Context, event *audit.Event) {
	if err := a.sink.Log(ctx, event); err != nil {
		a.logger.WithTenant(event.TenantID).WithError(err).
			Warnf("failed to record %s audit event", event.EventType)
	}
}

func (a auditTrail) upgraded(ctx context.Context, sub *Subscription, from string) {
	event := audit.NewEvent(ctx, audit.EventTypePlanUpgraded, audit.EventStatusSuccess, sub.TenantID)
	event.FromTier = from
	event.ToTier = sub.Tier
	subID, configID := sub.ID, sub.PlanConfigID
	event.SubscriptionID = &subID
	event.PlanConfigID = &configID
	event.Metadata["snapshot_price"] = sub.SnapshotPrice.StringFixed(2)
	a.record(ctx, event)
}

func (a auditTrail) upgradeRejected(ctx context.Context, te *TransitionError) {
	event := audit.NewEvent(ctx, audit.EventTypePlanUpgradeRejected, audit.EventStatusDenied, te.TenantID)
	event.FromTier = string(te.From)
	event.ToTier = te.To
	event.Message = string(te.Reason)
	a.record(ctx, event)
}

func (a auditTrail) quotaDenied(ctx context.Context, tenantID int64, check *QuotaCheck) {
	event := audit.NewEvent(ctx, audit.EventTypeQuotaDenied, audit.EventStatusDenied, tenantID)
	event.Action = string(check.Action)
	event.Message = check.Reason
	event.Metadata["plan"] = check.PlanName
	event.Metadata["current"] = strconv.FormatInt(check.Current, 10)
	event.Metadata["limit"] = check.Limit.String()
	a.record(ctx, event)
}

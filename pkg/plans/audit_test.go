package plans

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civichub/planengine/pkg/audit"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
	err    error
}

func (r *recordingAudit) Log(ctx context.Context, event *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingAudit) Close() error { return nil }

func (r *recordingAudit) byType(eventType audit.EventType) []*audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*audit.Event
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestTransitioner_AuditsUpgrades(t *testing.T) {
	f := newTransitionFixture(nil)
	trail := &recordingAudit{}
	f.t.trail.sink = trail

	ctx := audit.WithActor(context.Background(), "ops@example.com")
	sub, err := f.t.UpgradePlan(ctx, 7, "standard")
	require.NoError(t, err)

	upgraded := trail.byType(audit.EventTypePlanUpgraded)
	require.Len(t, upgraded, 1)
	event := upgraded[0]
	assert.Equal(t, audit.EventStatusSuccess, event.Status)
	assert.Equal(t, int64(7), event.TenantID)
	assert.Equal(t, "none", event.FromTier)
	assert.Equal(t, "standard", event.ToTier)
	assert.Equal(t, "ops@example.com", event.Actor)
	require.NotNil(t, event.SubscriptionID)
	assert.Equal(t, sub.ID, *event.SubscriptionID)
	require.NotNil(t, event.PlanConfigID)
	assert.Equal(t, int64(2), *event.PlanConfigID)
	assert.Equal(t, "99.50", event.Metadata["snapshot_price"])

	_, err = f.t.UpgradePlan(ctx, 7, "entry")
	require.Error(t, err)
	_, err = f.t.UpgradePlan(ctx, 7, "gold")
	require.Error(t, err)

	rejected := trail.byType(audit.EventTypePlanUpgradeRejected)
	require.Len(t, rejected, 2)
	assert.Equal(t, audit.EventStatusDenied, rejected[0].Status)
	assert.Equal(t, "standard", rejected[0].FromTier)
	assert.Equal(t, "entry", rejected[0].ToTier)
	assert.Equal(t, string(ReasonDowngradeNotSupported), rejected[0].Message)
	assert.Equal(t, string(ReasonUnknownTier), rejected[1].Message)
}

func TestTransitioner_AuditFailureDoesNotFailUpgrade(t *testing.T) {
	f := newTransitionFixture(nil)
	f.t.trail.sink = &recordingAudit{err: errors.New("audit sink down")}

	sub, err := f.t.UpgradePlan(context.Background(), 9, "strategic")
	require.NoError(t, err)
	assert.Equal(t, "strategic", sub.Tier)
}

func TestQuotaEnforcer_AuditsDenials(t *testing.T) {
	q, _ := newTestQuotas(TierStandard, &fakeUsage{offers: 20, teamMembers: 1}, false)
	trail := &recordingAudit{}
	q.trail.sink = trail

	require.Error(t, q.Enforce(context.Background(), 1, ActionCreateOffer))
	require.NoError(t, q.Enforce(context.Background(), 1, ActionAddTeamMember))

	_, err := q.Check(context.Background(), 1, ActionCreateOffer)
	require.NoError(t, err)

	denied := trail.byType(audit.EventTypeQuotaDenied)
	require.Len(t, denied, 1, "only Enforce denials are recorded")
	assert.Equal(t, "create_offer", denied[0].Action)
	assert.Equal(t, "20", denied[0].Metadata["current"])
	assert.Equal(t, "20", denied[0].Metadata["limit"])
	assert.NotEmpty(t, denied[0].Message)
}

func TestNewEngine_WiresAudit(t *testing.T) {
	trail := &recordingAudit{}
	engine, err := NewEngine(Options{
		Catalog:       newFakeCatalog(),
		Subscriptions: newFakeSubscriptions(),
		Usage:         &fakeUsage{},
		Audit:         trail,
		Now:           fixedClock(upgradeNow),
	})
	require.NoError(t, err)

	_, err = engine.UpgradePlan(context.Background(), 5, "enterprise")
	require.NoError(t, err)
	assert.Len(t, trail.byType(audit.EventTypePlanUpgraded), 1)
}

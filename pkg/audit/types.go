package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Subscription events
	EventTypePlanUpgraded        EventType = "plan.upgraded"
	EventTypePlanUpgradeRejected EventType = "plan.upgrade_rejected"

	// Enforcement events
	EventTypeQuotaDenied EventType = "quota.denied"

	// Catalog events
	EventTypeCatalogPublished EventType = "catalog.published"
	EventTypeCatalogReloaded  EventType = "catalog.reloaded"
)

// EventTypes lists every event type, in a stable order
func EventTypes() []EventType {
	return []EventType{
		EventTypePlanUpgraded,
		EventTypePlanUpgradeRejected,
		EventTypeQuotaDenied,
		EventTypeCatalogPublished,
		EventTypeCatalogReloaded,
	}
}

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	for _, known := range EventTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit log entry. TenantID is zero for catalog events.
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	TenantID  int64  `json:"tenant_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Actor     string `json:"actor,omitempty"`

	FromTier       string `json:"from_tier,omitempty"`
	ToTier         string `json:"to_tier,omitempty"`
	SubscriptionID *int64 `json:"subscription_id,omitempty"`
	PlanConfigID   *int64 `json:"plan_config_id,omitempty"`
	Action         string `json:"action,omitempty"`

	Message  string            `json:"message,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	TenantID   *int64
	EventTypes []EventType
	Status     *EventStatus
	StartTime  *time.Time
	EndTime    *time.Time

	// Pagination; Limit 0 means DefaultSearchLimit
	Limit  int
	Offset int
}

// DefaultSearchLimit and MaxSearchLimit bound one page of search results
const (
	DefaultSearchLimit = 100
	MaxSearchLimit     = 1000
)

// EffectiveLimit clamps Limit into [1, MaxSearchLimit]
func (f SearchFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultSearchLimit
	case f.Limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return f.Limit
	}
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// RetentionPolicy defines how long audit logs should be kept
type RetentionPolicy struct {
	// RetentionDays is the number of days to keep audit logs, 0 keeps them forever
	RetentionDays int
}

// Cutoff returns the instant before which events may be removed
func (p RetentionPolicy) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.RetentionDays)
}

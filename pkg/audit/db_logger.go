package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const tableDDL = `
CREATE TABLE IF NOT EXISTS plan_audit_events (
	id              BIGSERIAL PRIMARY KEY,
	timestamp       TIMESTAMPTZ NOT NULL,
	event_type      TEXT NOT NULL,
	status          TEXT NOT NULL,
	tenant_id       BIGINT NOT NULL DEFAULT 0,
	request_id      TEXT NOT NULL DEFAULT '',
	actor           TEXT NOT NULL DEFAULT '',
	from_tier       TEXT NOT NULL DEFAULT '',
	to_tier         TEXT NOT NULL DEFAULT '',
	subscription_id BIGINT,
	plan_config_id  BIGINT,
	action          TEXT NOT NULL DEFAULT '',
	message         TEXT NOT NULL DEFAULT '',
	metadata        JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_plan_audit_events_tenant ON plan_audit_events (tenant_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_plan_audit_events_timestamp ON plan_audit_events (timestamp);
`

const eventColumns = `id, timestamp, event_type, status, tenant_id, request_id, actor,
	from_tier, to_tier, subscription_id, plan_config_id, action, message, metadata`

// DBLogger implements audit logging to PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// EnsureTable creates the audit table and its indexes if they don't exist
func (l *DBLogger) EnsureTable(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, tableDDL); err != nil {
		return fmt.Errorf("failed to ensure plan_audit_events table: %w", err)
	}
	return nil
}

// Log logs an audit event to the database and sets its ID
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	metadata := []byte(`{}`)
	if len(event.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(event.Metadata); err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO plan_audit_events (
			timestamp, event_type, status, tenant_id, request_id, actor,
			from_tier, to_tier, subscription_id, plan_config_id, action, message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.EventType), string(event.Status), event.TenantID,
		event.RequestID, event.Actor, event.FromTier, event.ToTier,
		nullInt64(event.SubscriptionID), nullInt64(event.PlanConfigID),
		event.Action, event.Message, metadata,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns events matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.TenantID != nil {
		where = append(where, "tenant_id = "+arg(*filter.TenantID))
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			types[i] = string(et)
		}
		where = append(where, "event_type = ANY("+arg(pq.Array(types))+")")
	}
	if filter.Status != nil {
		where = append(where, "status = "+arg(string(*filter.Status)))
	}
	if filter.StartTime != nil {
		where = append(where, "timestamp >= "+arg(*filter.StartTime))
	}
	if filter.EndTime != nil {
		where = append(where, "timestamp <= "+arg(*filter.EndTime))
	}

	query := `SELECT ` + eventColumns + ` FROM plan_audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT " + arg(filter.EffectiveLimit())
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	return events, nil
}

// Cleanup removes events older than the retention period and returns how many were removed
func (l *DBLogger) Cleanup(ctx context.Context, policy RetentionPolicy, now time.Time) (int64, error) {
	if policy.RetentionDays <= 0 {
		return 0, nil
	}
	result, err := l.db.ExecContext(ctx, `DELETE FROM plan_audit_events WHERE timestamp < $1`, policy.Cutoff(now))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit events: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the connection pool belongs to the caller
func (l *DBLogger) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		event          Event
		eventType      string
		status         string
		subscriptionID sql.NullInt64
		planConfigID   sql.NullInt64
		metadata       []byte
	)
	err := row.Scan(
		&event.ID, &event.Timestamp, &eventType, &status, &event.TenantID, &event.RequestID, &event.Actor,
		&event.FromTier, &event.ToTier, &subscriptionID, &planConfigID, &event.Action, &event.Message, &metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	event.EventType = EventType(eventType)
	event.Status = EventStatus(status)
	if subscriptionID.Valid {
		event.SubscriptionID = &subscriptionID.Int64
	}
	if planConfigID.Valid {
		event.PlanConfigID = &planConfigID.Int64
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of audit event %d: %w", event.ID, err)
		}
	}
	return &event, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

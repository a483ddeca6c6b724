package audit

import (
	"context"
	"errors"
	"time"

	"github.com/civichub/planengine/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// Searcher reads back logged events
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)
}

// NewEvent starts an event stamped with the current time and the request ID on ctx
func NewEvent(ctx context.Context, eventType EventType, status EventStatus, tenantID int64) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		TenantID:  tenantID,
		RequestID: observability.GetRequestID(ctx),
		Actor:     ActorFromContext(ctx),
		Metadata:  map[string]string{},
	}
}

// NoOpLogger discards every event
type NoOpLogger struct{}

func (NoOpLogger) Log(context.Context, *Event) error { return nil }
func (NoOpLogger) Close() error                      { return nil }

// MultiLogger logs to multiple audit loggers.
// Every logger sees every event; errors are joined.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log logs an audit event to all configured loggers
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Searcher returns the first logger that can search, or nil
func (m *MultiLogger) Searcher() Searcher {
	for _, logger := range m.loggers {
		if s, ok := logger.(Searcher); ok {
			return s
		}
	}
	return nil
}

type actorKey struct{}

// WithActor attaches the acting principal to ctx; NewEvent copies it onto events
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor set by WithActor, or ""
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

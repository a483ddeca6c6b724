package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/civichub/planengine/pkg/async"
	"github.com/civichub/planengine/pkg/observability"
)

// AsyncLoggerConfig configures an AsyncLogger
type AsyncLoggerConfig struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
	// EnqueueTimeout bounds how long Log waits for queue space before dropping the event
	EnqueueTimeout time.Duration
	CloseTimeout   time.Duration
}

// DefaultAsyncLoggerConfig returns default configuration
func DefaultAsyncLoggerConfig() AsyncLoggerConfig {
	return AsyncLoggerConfig{
		Workers:        2,
		QueueSize:      256,
		WriteTimeout:   5 * time.Second,
		EnqueueTimeout: 50 * time.Millisecond,
		CloseTimeout:   10 * time.Second,
	}
}

// AsyncLogger hands events to a worker pool so callers never wait on the sink.
// Events that cannot be queued in time are dropped and counted.
type AsyncLogger struct {
	inner   Logger
	pool    *async.WorkerPool
	config  AsyncLoggerConfig
	logger  *observability.Logger
	metrics *observability.Metrics
	drained chan struct{}
}

// NewAsyncLogger wraps inner. Close flushes the queue and closes inner.
func NewAsyncLogger(inner Logger, config AsyncLoggerConfig, logger *observability.Logger, metrics *observability.Metrics) *AsyncLogger {
	if config.EnqueueTimeout <= 0 {
		config.EnqueueTimeout = DefaultAsyncLoggerConfig().EnqueueTimeout
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = DefaultAsyncLoggerConfig().CloseTimeout
	}

	a := &AsyncLogger{
		inner:   inner,
		pool:    async.NewWorkerPool(context.Background(), config.Workers, config.QueueSize, "audit", config.WriteTimeout, logger),
		config:  config,
		logger:  logger,
		metrics: metrics,
		drained: make(chan struct{}),
	}
	go a.drainErrors()
	return a
}

// Log queues event. It returns an error only when the event was dropped.
func (a *AsyncLogger) Log(ctx context.Context, event *Event) error {
	copied := *event
	if event.Metadata != nil {
		copied.Metadata = make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			copied.Metadata[k] = v
		}
	}

	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.EnqueueTimeout)
	defer cancel()

	err := a.pool.Submit(enqueueCtx, func(ctx context.Context) error {
		if err := a.inner.Log(ctx, &copied); err != nil {
			a.record(copied.EventType, "failed")
			return fmt.Errorf("audit %s for tenant %d: %w", copied.EventType, copied.TenantID, err)
		}
		a.record(copied.EventType, "written")
		return nil
	})
	if err != nil {
		a.record(event.EventType, "dropped")
		return fmt.Errorf("audit event dropped: %w", err)
	}
	return nil
}

// Close flushes queued events and closes the wrapped logger
func (a *AsyncLogger) Close() error {
	shutdownErr := a.pool.Shutdown(a.config.CloseTimeout)
	<-a.drained
	if err := a.inner.Close(); err != nil {
		return err
	}
	return shutdownErr
}

// Searcher exposes the wrapped logger's search, if any
func (a *AsyncLogger) Searcher() Searcher {
	if s, ok := a.inner.(Searcher); ok {
		return s
	}
	if m, ok := a.inner.(*MultiLogger); ok {
		return m.Searcher()
	}
	return nil
}

func (a *AsyncLogger) drainErrors() {
	defer close(a.drained)
	for {
		select {
		case err := <-a.pool.Errors():
			a.logger.WithError(err).Warn("failed to write audit event")
		case <-a.pool.Done():
			for {
				select {
				case err := <-a.pool.Errors():
					a.logger.WithError(err).Warn("failed to write audit event")
				default:
					return
				}
			}
		}
	}
}

func (a *AsyncLogger) record(eventType EventType, outcome string) {
	if a.metrics != nil {
		a.metrics.AuditEventsTotal.WithLabelValues(string(eventType), outcome).Inc()
	}
}

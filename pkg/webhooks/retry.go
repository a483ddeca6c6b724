package webhooks

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/civichub/planengine/pkg/async"
	"github.com/civichub/planengine/pkg/observability"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy implements exponential backoff
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy, filling unset fields with defaults
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether a delivery that failed with err after attempts tries gets another
func (p *RetryPolicy) ShouldRetry(attempts int, err error) bool {
	return err != nil && attempts < p.config.MaxAttempts
}

// NextRetryDelay is InitialDelay * BackoffMultiplier^(attempts-1), capped at
// MaxDelay. No jitter is applied.
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval: p.config.InitialDelay,
		Multiplier:      p.config.BackoffMultiplier,
		MaxInterval:     p.config.MaxDelay,
	}
	b.Reset()
	delay := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// RetryWorker resends deliveries whose retry is due
type RetryWorker struct {
	notifier *Notifier
	logger   *observability.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRetryWorker creates a retry worker for notifier
func NewRetryWorker(notifier *Notifier, logger *observability.Logger) *RetryWorker {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RetryWorker{
		notifier: notifier,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start checks for due retries every interval until ctx ends or Stop is called
func (w *RetryWorker) Start(ctx context.Context, interval time.Duration) {
	async.SafeGoNoError(ctx, w.logger, 0, "webhook retries", func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.ProcessRetries(ctx)
			}
		}
	})
}

// Stop ends the worker. It is safe to call more than once.
func (w *RetryWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// ProcessRetries attempts every due retry once
func (w *RetryWorker) ProcessRetries(ctx context.Context) {
	n := w.notifier
	for _, delivery := range n.deliveries.GetPendingRetries(n.now()) {
		endpoint, err := n.Get(delivery.EndpointID)
		if err != nil || !endpoint.Active {
			now := n.now()
			delivery.Status = DeliveryStatusFailed
			delivery.ErrorMessage = "endpoint was removed or deactivated"
			delivery.NextRetryAt = nil
			delivery.CompletedAt = &now
			n.deliveries.Update(delivery)
			continue
		}
		n.attempt(ctx, endpoint, delivery)
	}
}

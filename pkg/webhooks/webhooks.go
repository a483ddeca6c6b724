package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civichub/planengine/pkg/audit"
	"github.com/civichub/planengine/pkg/observability"
)

// Delivery headers
const (
	EventHeader     = "X-Planengine-Event"
	DeliveryHeader  = "X-Planengine-Delivery"
	SignatureHeader = "X-Planengine-Signature"
)

// maxResponseBody bounds how much of a receiver's response is kept in the delivery log
const maxResponseBody = 1024

var (
	ErrEndpointNotFound = errors.New("webhook endpoint not found")
	ErrInvalidEndpoint  = errors.New("invalid webhook endpoint")
)

// Notification is the json payload delivered to endpoints
type Notification struct {
	ID        string          `json:"id"`
	Type      audit.EventType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Event     *audit.Event    `json:"event"`
}

// Endpoint is a registered receiver
type Endpoint struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Events      []audit.EventType `json:"events"`
	Format      Format            `json:"format"`
	Secret      string            `json:"-"`
	HasSecret   bool              `json:"has_secret"`
	Active      bool              `json:"active"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (e *Endpoint) validate() error {
	u, err := url.Parse(e.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url %q must be absolute http(s)", ErrInvalidEndpoint, e.URL)
	}
	if len(e.Events) == 0 {
		return fmt.Errorf("%w: at least one event type is required", ErrInvalidEndpoint)
	}
	for _, t := range e.Events {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown event type %q", ErrInvalidEndpoint, t)
		}
	}
	if _, err := ParseFormat(string(e.Format)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	return nil
}

func (e *Endpoint) wants(t audit.EventType) bool {
	if !e.Active {
		return false
	}
	for _, want := range e.Events {
		if want == t {
			return true
		}
	}
	return false
}

// NotifierConfig configures a Notifier
type NotifierConfig struct {
	Timeout         time.Duration
	Retry           RetryConfig
	RateLimit       int
	RatePeriod      time.Duration
	MaxDeliveryLogs int
}

// DefaultNotifierConfig returns default configuration
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		Timeout:         10 * time.Second,
		Retry:           DefaultRetryConfig(),
		RateLimit:       100,
		RatePeriod:      time.Minute,
		MaxDeliveryLogs: 1000,
	}
}

// Notifier delivers audit events to registered endpoints
type Notifier struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint

	client     *http.Client
	deliveries *DeliveryLogStore
	retry      *RetryPolicy
	limiter    *RateLimiter
	logger     *observability.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewNotifier creates a Notifier without endpoints
func NewNotifier(config NotifierConfig, logger *observability.Logger, metrics *observability.Metrics) *Notifier {
	defaults := DefaultNotifierConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.RateLimit <= 0 || config.RatePeriod <= 0 {
		config.RateLimit, config.RatePeriod = defaults.RateLimit, defaults.RatePeriod
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &Notifier{
		endpoints:  make(map[string]*Endpoint),
		client:     &http.Client{Timeout: config.Timeout},
		deliveries: NewDeliveryLogStore(config.MaxDeliveryLogs),
		retry:      NewRetryPolicy(config.Retry),
		limiter:    NewRateLimiter(config.RateLimit, config.RatePeriod),
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Register validates and adds an endpoint, assigning its ID
func (n *Notifier) Register(endpoint *Endpoint) error {
	if endpoint.Format == "" {
		endpoint.Format = FormatJSON
	}
	if err := endpoint.validate(); err != nil {
		return err
	}

	now := n.now()
	endpoint.ID = uuid.NewString()
	endpoint.Active = true
	endpoint.HasSecret = endpoint.Secret != ""
	endpoint.CreatedAt = now
	endpoint.UpdatedAt = now

	n.mu.Lock()
	defer n.mu.Unlock()
	stored := *endpoint
	n.endpoints[endpoint.ID] = &stored
	return nil
}

// Unregister removes an endpoint. Pending retries for it fail on their next attempt.
func (n *Notifier) Unregister(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[id]; !ok {
		return ErrEndpointNotFound
	}
	delete(n.endpoints, id)
	return nil
}

// Update replaces the non-empty fields of updates on endpoint id
func (n *Notifier) Update(id string, updates *Endpoint) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	current, ok := n.endpoints[id]
	if !ok {
		return nil, ErrEndpointNotFound
	}

	next := *current
	if updates.URL != "" {
		next.URL = updates.URL
	}
	if len(updates.Events) > 0 {
		next.Events = updates.Events
	}
	if updates.Format != "" {
		next.Format = updates.Format
	}
	if updates.Secret != "" {
		next.Secret = updates.Secret
		next.HasSecret = true
	}
	if updates.Description != "" {
		next.Description = updates.Description
	}
	if err := next.validate(); err != nil {
		return nil, err
	}
	next.UpdatedAt = n.now()

	n.endpoints[id] = &next
	out := next
	return &out, nil
}

// SetActive pauses or resumes deliveries to an endpoint
func (n *Notifier) SetActive(id string, active bool) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	endpoint, ok := n.endpoints[id]
	if !ok {
		return nil, ErrEndpointNotFound
	}
	endpoint.Active = active
	endpoint.UpdatedAt = n.now()
	out := *endpoint
	return &out, nil
}

// Get returns a copy of endpoint id
func (n *Notifier) Get(id string) (*Endpoint, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	endpoint, ok := n.endpoints[id]
	if !ok {
		return nil, ErrEndpointNotFound
	}
	out := *endpoint
	return &out, nil
}

// List returns copies of every endpoint, oldest first
func (n *Notifier) List() []*Endpoint {
	n.mu.RLock()
	out := make([]*Endpoint, 0, len(n.endpoints))
	for _, endpoint := range n.endpoints {
		copied := *endpoint
		out = append(out, &copied)
	}
	n.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Deliveries returns the most recent delivery logs of an endpoint
func (n *Notifier) Deliveries(endpointID string, limit int) []*DeliveryLog {
	return n.deliveries.GetByEndpoint(endpointID, limit)
}

// Stats summarizes deliveries to an endpoint
func (n *Notifier) Stats(endpointID string) DeliveryStats {
	return n.deliveries.GetStats(endpointID)
}

// Log delivers event to every active endpoint subscribed to its type.
// It returns an error only for deliveries that failed without a retry left.
func (n *Notifier) Log(ctx context.Context, event *audit.Event) error {
	n.mu.RLock()
	var targets []Endpoint
	for _, endpoint := range n.endpoints {
		if endpoint.wants(event.EventType) {
			targets = append(targets, *endpoint)
		}
	}
	n.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	notification := Notification{
		ID:        uuid.NewString(),
		Type:      event.EventType,
		Timestamp: event.Timestamp,
		Event:     event,
	}

	var errs []error
	for i := range targets {
		endpoint := &targets[i]
		payload, err := render(endpoint.Format, &notification)
		if err != nil {
			errs = append(errs, fmt.Errorf("endpoint %s: %w", endpoint.ID, err))
			continue
		}

		delivery := &DeliveryLog{
			ID:             uuid.NewString(),
			EndpointID:     endpoint.ID,
			NotificationID: notification.ID,
			EventType:      event.EventType,
			TenantID:       event.TenantID,
			URL:            endpoint.URL,
			Status:         DeliveryStatusPending,
			CreatedAt:      n.now(),
			payload:        payload,
		}
		n.deliveries.Add(delivery)

		n.attempt(ctx, endpoint, delivery)
		if delivery.Status == DeliveryStatusFailed {
			errs = append(errs, fmt.Errorf("endpoint %s: %s", endpoint.ID, delivery.ErrorMessage))
		}
	}
	return errors.Join(errs...)
}

// Close is a no-op; stop the RetryWorker to end retries
func (n *Notifier) Close() error {
	return nil
}

// attempt sends delivery once and records the outcome
func (n *Notifier) attempt(ctx context.Context, endpoint *Endpoint, delivery *DeliveryLog) {
	delivery.Attempts++
	start := time.Now()
	err := n.send(ctx, endpoint, delivery)
	delivery.Duration = time.Since(start)

	now := n.now()
	switch {
	case err == nil:
		delivery.Status = DeliveryStatusSuccess
		delivery.ErrorMessage = ""
		delivery.NextRetryAt = nil
		delivery.CompletedAt = &now
	case n.retry.ShouldRetry(delivery.Attempts, err):
		delivery.Status = DeliveryStatusRetrying
		delivery.ErrorMessage = err.Error()
		next := now.Add(n.retry.NextRetryDelay(delivery.Attempts))
		delivery.NextRetryAt = &next
	default:
		delivery.Status = DeliveryStatusFailed
		delivery.ErrorMessage = err.Error()
		delivery.NextRetryAt = nil
		delivery.CompletedAt = &now
	}

	if delivery.Status != DeliveryStatusSuccess {
		n.logger.WithTenant(delivery.TenantID).WithError(err).WithFields(map[string]interface{}{
			"endpoint": delivery.EndpointID,
			"attempt":  delivery.Attempts,
			"status":   string(delivery.Status),
		}).Warn("webhook delivery failed")
	}
	if n.metrics != nil {
		n.metrics.WebhookDeliveriesTotal.WithLabelValues(string(delivery.EventType), string(delivery.Status)).Inc()
	}
	n.deliveries.Update(delivery)
}

// send POSTs the rendered payload to the endpoint
func (n *Notifier) send(ctx context.Context, endpoint *Endpoint, delivery *DeliveryLog) error {
	if !n.limiter.Allow(endpoint.ID) {
		return fmt.Errorf("rate limit exceeded for endpoint %s", endpoint.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(delivery.payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, string(delivery.EventType))
	req.Header.Set(DeliveryHeader, delivery.ID)
	if endpoint.Secret != "" {
		req.Header.Set(SignatureHeader, sign(delivery.payload, endpoint.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	delivery.StatusCode = resp.StatusCode
	delivery.ResponseBody = string(body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// VerifySignature checks an X-Planengine-Signature value against payload
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(sign(payload, secret)), []byte(signature))
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

package webhooks

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/civichub/planengine/pkg/audit"
)

// DeliveryStatus represents the status of a webhook delivery
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
)

// DeliveryLog tracks one notification to one endpoint across attempts
type DeliveryLog struct {
	ID             string          `json:"id"`
	EndpointID     string          `json:"endpoint_id"`
	NotificationID string          `json:"notification_id"`
	EventType      audit.EventType `json:"event_type"`
	TenantID       int64           `json:"tenant_id,omitempty"`
	URL            string          `json:"url"`
	Status         DeliveryStatus  `json:"status"`
	StatusCode     int             `json:"status_code,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Attempts       int             `json:"attempts"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Duration       time.Duration   `json:"duration,omitempty"`
	ResponseBody   string          `json:"response_body,omitempty"`

	// payload is the rendered body, resent as-is on retry
	payload []byte
}

// DeliveryLogStore keeps the most recently written delivery logs in an LRU.
// Logs are held by value, so callers never share state with the store.
type DeliveryLogStore struct {
	// mu serializes writers so Update cannot race an eviction.
	mu   sync.Mutex
	logs *lru.Cache[string, DeliveryLog]
}

// NewDeliveryLogStore creates a store holding at most maxLogs entries
func NewDeliveryLogStore(maxLogs int) *DeliveryLogStore {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	logs, _ := lru.New[string, DeliveryLog](maxLogs)
	return &DeliveryLogStore{logs: logs}
}

// Add stores log, evicting the least recently written entry when full.
func (s *DeliveryLogStore) Add(log *DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs.Add(log.ID, *log)
}

// Update replaces a stored log. Evicted logs are not re-added.
func (s *DeliveryLogStore) Update(log *DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logs.Contains(log.ID) {
		s.logs.Add(log.ID, *log)
	}
}

func (s *DeliveryLogStore) Get(id string) (*DeliveryLog, bool) {
	log, ok := s.logs.Peek(id)
	if !ok {
		return nil, false
	}
	return &log, true
}

// GetByEndpoint returns an endpoint's logs, newest first
func (s *DeliveryLogStore) GetByEndpoint(endpointID string, limit int) []*DeliveryLog {
	return s.collect(limit, func(log *DeliveryLog) bool { return log.EndpointID == endpointID })
}

// GetByNotification returns every delivery of one notification
func (s *DeliveryLogStore) GetByNotification(notificationID string) []*DeliveryLog {
	return s.collect(0, func(log *DeliveryLog) bool { return log.NotificationID == notificationID })
}

// GetPendingRetries returns retrying logs whose next attempt is due at now
func (s *DeliveryLogStore) GetPendingRetries(now time.Time) []*DeliveryLog {
	return s.collect(0, func(log *DeliveryLog) bool {
		return log.Status == DeliveryStatusRetrying && log.NextRetryAt != nil && !log.NextRetryAt.After(now)
	})
}

// collect returns matching logs newest first, at most limit when limit > 0.
func (s *DeliveryLogStore) collect(limit int, match func(*DeliveryLog) bool) []*DeliveryLog {
	out := []*DeliveryLog{}
	for _, log := range s.logs.Values() {
		if match(&log) {
			out = append(out, &log)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// DeliveryStats summarizes an endpoint's deliveries
type DeliveryStats struct {
	EndpointID      string        `json:"endpoint_id"`
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Retrying        int           `json:"retrying"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
}

// GetStats summarizes the retained deliveries to endpointID.
func (s *DeliveryLogStore) GetStats(endpointID string) DeliveryStats {
	stats := DeliveryStats{EndpointID: endpointID}
	var spent time.Duration
	for _, log := range s.logs.Values() {
		if log.EndpointID != endpointID {
			continue
		}
		stats.Total++
		switch log.Status {
		case DeliveryStatusSuccess:
			stats.Successful++
			spent += log.Duration
		case DeliveryStatusFailed:
			stats.Failed++
		case DeliveryStatusRetrying:
			stats.Retrying++
		}
	}
	if stats.Total == 0 {
		return stats
	}
	stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	if stats.Successful > 0 {
		stats.AverageDuration = spent / time.Duration(stats.Successful)
	}
	return stats
}

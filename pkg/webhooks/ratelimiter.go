package webhooks

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter gives every endpoint its own token bucket holding up to
// maxRequests tokens and refilling at maxRequests per period.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// NewRateLimiter allows maxRequests per period for each endpoint
func NewRateLimiter(maxRequests int, period time.Duration) *RateLimiter {
	maxRequests = max(maxRequests, 1)
	return &RateLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Every(period / time.Duration(maxRequests)),
		burst:   maxRequests,
		now:     time.Now,
	}
}

func (rl *RateLimiter) bucket(endpointID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[endpointID]
	if !ok {
		b = rate.NewLimiter(rl.limit, rl.burst)
		rl.buckets[endpointID] = b
	}
	return b
}

// Allow takes a token for endpointID
func (rl *RateLimiter) Allow(endpointID string) bool {
	return rl.bucket(endpointID).AllowN(rl.now(), 1)
}

// Remaining is the whole tokens endpointID has left.
func (rl *RateLimiter) Remaining(endpointID string) int {
	return int(rl.bucket(endpointID).TokensAt(rl.now()))
}

// Reset gives endpointID a full bucket
func (rl *RateLimiter) Reset(endpointID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, endpointID)
}

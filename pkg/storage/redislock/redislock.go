// Package redislock serializes plan upgrades for a tenant across processes
// with a Redis lease.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/civichub/planengine/pkg/observability"
)

const (
	keyPrefix = "planengine:upgrade-lock:"

	DefaultTTL           = 10 * time.Second
	DefaultRetryInterval = 25 * time.Millisecond
)

// ErrLockTimeout is returned when the lease could not be taken before the wait budget ran out
var ErrLockTimeout = errors.New("timed out waiting for tenant lock")

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewClient connects to Redis at url and verifies the connection
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Locker implements plans.TenantLocker with SET NX leases
type Locker struct {
	client *redis.Client
	logger *observability.Logger

	// TTL bounds how long a crashed holder blocks the tenant
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts
	RetryInterval time.Duration
	// MaxWait bounds how long Lock waits for a busy lease; zero means TTL
	MaxWait time.Duration
}

// New creates a Locker. A zero ttl selects DefaultTTL.
func New(client *redis.Client, ttl time.Duration, logger *observability.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Locker{
		client:        client,
		logger:        logger,
		TTL:           ttl,
		RetryInterval: DefaultRetryInterval,
	}
}

func lockKey(tenantID int64) string {
	return keyPrefix + strconv.FormatInt(tenantID, 10)
}

// Lock takes the tenant's lease, waiting while another holder has it
func (l *Locker) Lock(ctx context.Context, tenantID int64) (func(), error) {
	key := lockKey(tenantID)
	token := uuid.NewString()

	maxWait := l.MaxWait
	if maxWait <= 0 {
		maxWait = l.TTL
	}
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock for tenant %d: %w", tenantID, err)
		}
		if ok {
			return func() { l.release(key, token, tenantID) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("tenant %d: %w", tenantID, ErrLockTimeout)
		case <-time.After(l.RetryInterval):
		}
	}
}

// release runs on its own context so a cancelled request still frees the lease
func (l *Locker) release(key, token string, tenantID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	released, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		l.logger.WithTenant(tenantID).WithError(err).Warn("Failed to release tenant lock, it will expire")
		return
	}
	if released == 0 {
		l.logger.WithTenant(tenantID).Warn("Tenant lock expired before release")
	}
}

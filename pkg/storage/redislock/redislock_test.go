package redislock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := NewClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return New(client, time.Second, nil), mr
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(context.Background(), "://nope")
	assert.Error(t, err)
}

func TestLocker_LockAndRelease(t *testing.T) {
	locker, mr := setupLocker(t)

	unlock, err := locker.Lock(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, mr.Exists(lockKey(42)))
	assert.Equal(t, time.Second, mr.TTL(lockKey(42)))

	unlock()
	assert.False(t, mr.Exists(lockKey(42)))
}

func TestLocker_TenantsAreIndependent(t *testing.T) {
	locker, _ := setupLocker(t)

	unlockA, err := locker.Lock(context.Background(), 1)
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := locker.Lock(context.Background(), 2)
	require.NoError(t, err)
	unlockB()
}

func TestLocker_WaitTimesOut(t *testing.T) {
	locker, _ := setupLocker(t)
	locker.MaxWait = 100 * time.Millisecond

	unlock, err := locker.Lock(context.Background(), 7)
	require.NoError(t, err)
	defer unlock()

	_, err = locker.Lock(context.Background(), 7)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestLocker_ContextCancelled(t *testing.T) {
	locker, _ := setupLocker(t)

	unlock, err := locker.Lock(context.Background(), 7)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, 7)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocker_StaleUnlockKeepsNewHolder(t *testing.T) {
	locker, mr := setupLocker(t)

	unlock, err := locker.Lock(context.Background(), 9)
	require.NoError(t, err)

	// lease expires and another process takes it
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(lockKey(9), "other-holder"))

	unlock()
	value, err := mr.Get(lockKey(9))
	require.NoError(t, err)
	assert.Equal(t, "other-holder", value)
}

func TestLocker_MutualExclusion(t *testing.T) {
	locker, _ := setupLocker(t)
	locker.RetryInterval = time.Millisecond

	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), 5)
			if !assert.NoError(t, err) {
				return
			}
			n := holders.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
			holders.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLocker_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err = New(client, 0, nil).Lock(context.Background(), 1)
	assert.Error(t, err)
}

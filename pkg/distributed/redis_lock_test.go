package distributed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLock_AcquireAndRelease(t *testing.T) {
	_, client := setupRedis(t)
	manager := NewRedisLockManager(client, "test:")
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "janitor", "instance1", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock)

	lock2, err := manager.AcquireLock(ctx, "janitor", "instance2", 5*time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.Nil(t, lock2)

	require.NoError(t, lock.Release(ctx))

	lock3, err := manager.AcquireLock(ctx, "janitor", "instance3", 5*time.Second)
	require.NoError(t, err)
	assert.NoError(t, lock3.Release(ctx))
}

func TestRedisLock_AutoExpire(t *testing.T) {
	mr, client := setupRedis(t)
	manager := NewRedisLockManager(client, "test:")
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "expire", "instance1", time.Second)
	require.NoError(t, err)

	held, err := lock.IsHeld(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	mr.FastForward(1500 * time.Millisecond)

	held, err = lock.IsHeld(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	_, err = manager.AcquireLock(ctx, "expire", "instance2", 5*time.Second)
	assert.NoError(t, err)
}

func TestRedisLock_ExtendTTL(t *testing.T) {
	mr, client := setupRedis(t)
	manager := NewRedisLockManager(client, "test:")
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "extend", "instance1", 2*time.Second)
	require.NoError(t, err)

	mr.FastForward(time.Second)
	require.NoError(t, lock.Extend(ctx, 10*time.Second))
	mr.FastForward(2 * time.Second)

	held, err := lock.IsHeld(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestRedisLock_SafeRelease(t *testing.T) {
	mr, client := setupRedis(t)
	manager := NewRedisLockManager(client, "test:")
	ctx := context.Background()

	lock1, err := manager.AcquireLock(ctx, "safe", "instance1", time.Second)
	require.NoError(t, err)

	mr.FastForward(1100 * time.Millisecond)

	lock2, err := manager.AcquireLock(ctx, "safe", "instance2", 5*time.Second)
	require.NoError(t, err)

	assert.ErrorIs(t, lock1.Release(ctx), ErrLockNotHeld)
	assert.ErrorIs(t, lock1.Extend(ctx, time.Minute), ErrLockNotHeld)

	held, err := lock2.IsHeld(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestRedisLock_TryLockWithRetry(t *testing.T) {
	_, client := setupRedis(t)
	manager := NewRedisLockManager(client, "test:")
	ctx := context.Background()

	lock1, err := manager.AcquireLock(ctx, "retry", "instance1", 5*time.Second)
	require.NoError(t, err)

	_, err = manager.TryLockWithRetry(ctx, "retry", "instance2", 5*time.Second, 2, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, lock1.Release(ctx))

	lock2, err := manager.TryLockWithRetry(ctx, "retry", "instance2", 5*time.Second, 2, 10*time.Millisecond)
	require.NoError(t, err)
	assert.NotNil(t, lock2)
}

func TestRedisLock_ConcurrentAcquire(t *testing.T) {
	_, client := setupRedis(t)
	manager := NewRedisLockManager(client, "test:")

	const numGoroutines = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			instanceID := fmt.Sprintf("instance%d", id)
			if _, err := manager.AcquireLock(context.Background(), "concurrent", instanceID, 2*time.Second); err == nil {
				mu.Lock()
				winners = append(winners, instanceID)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, winners, 1, "Only one instance should acquire the lock")
}

func TestRedisLockManager_Once(t *testing.T) {
	mr, client := setupRedis(t)
	manager := NewRedisLockManager(client, "test:")
	ctx := context.Background()

	first, err := manager.Once(ctx, "voice:m1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := manager.Once(ctx, "voice:m1", time.Hour)
	require.NoError(t, err)
	assert.False(t, again)

	other, err := manager.Once(ctx, "voice:m2", time.Hour)
	require.NoError(t, err)
	assert.True(t, other)

	mr.FastForward(2 * time.Hour)
	expired, err := manager.Once(ctx, "voice:m1", time.Hour)
	require.NoError(t, err)
	assert.True(t, expired)
}

package distributed

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLock a lock held by one owner value until released or expired.
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// RedisLockManager hands out SET NX locks and one-shot guards.
type RedisLockManager struct {
	client *redis.Client
	prefix string
}

func NewRedisLockManager(client *redis.Client, prefix string) *RedisLockManager {
	return &RedisLockManager{
		client: client,
		prefix: prefix,
	}
}

// AcquireLock takes key for ttl, or fails with ErrLockNotAcquired.
func (m *RedisLockManager) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (*RedisLock, error) {
	key = m.prefix + key
	success, err := m.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, err
	}

	if !success {
		return nil, ErrLockNotAcquired
	}

	return &RedisLock{
		client: m.client,
		key:    key,
		value:  value,
		ttl:    ttl,
	}, nil
}

// TryLockWithRetry AcquireLock retried up to maxRetries times.
func (m *RedisLockManager) TryLockWithRetry(
	ctx context.Context,
	key, value string,
	ttl time.Duration,
	maxRetries int,
	retryInterval time.Duration,
) (*RedisLock, error) {
	for i := 0; i < maxRetries; i++ {
		lock, err := m.AcquireLock(ctx, key, value, ttl)
		if err == nil {
			return lock, nil
		}

		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}

		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryInterval):
			}
		}
	}

	return nil, ErrLockNotAcquired
}

// Once reports true for the first caller of key until ttl elapses. The key is
// never released, so later callers across all instances get false.
func (m *RedisLockManager) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.client.SetNX(ctx, m.prefix+"once:"+key, time.Now().Unix(), ttl).Result()
}

// Release deletes the lock only if this owner still holds it.
func (l *RedisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}

	if result == 0 {
		return ErrLockNotHeld
	}

	return nil
}

// Extend resets the TTL if this owner still holds the lock.
func (l *RedisLock) Extend(ctx context.Context, extension time.Duration) error {
	ttlMs := extension.Milliseconds()
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, ttlMs).Int()
	if err != nil {
		return err
	}

	if result == 0 {
		return ErrLockNotHeld
	}

	l.ttl = extension
	return nil
}

func (l *RedisLock) IsHeld(ctx context.Context) (bool, error) {
	value, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return value == l.value, nil
}

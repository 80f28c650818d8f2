package distributed

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const campaignRetries = 5

// Leader keeps one instance in charge of a named lock. The holder extends the
// lock every ttl/3; others keep campaigning until it lapses.
type Leader struct {
	locks  *RedisLockManager
	key    string
	id     string
	ttl    time.Duration
	logger *zap.Logger

	mu   sync.Mutex
	lock *RedisLock
}

func NewLeader(locks *RedisLockManager, key, id string, ttl time.Duration, logger *zap.Logger) *Leader {
	return &Leader{
		locks:  locks,
		key:    key,
		id:     id,
		ttl:    ttl,
		logger: logger.Named("leader"),
	}
}

func (l *Leader) retryInterval() time.Duration {
	return l.ttl / 3
}

// Campaign blocks until this instance holds the lock or ctx is done.
func (l *Leader) Campaign(ctx context.Context) error {
	for {
		lock, err := l.locks.TryLockWithRetry(ctx, l.key, l.id, l.ttl, campaignRetries, l.retryInterval())
		if err == nil {
			l.mu.Lock()
			l.lock = lock
			l.mu.Unlock()
			l.logger.Info("Acquired leadership", zap.String("key", l.key), zap.String("id", l.id))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			l.logger.Warn("Leadership campaign failed", zap.String("key", l.key), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryInterval()):
		}
	}
}

// Hold extends the lock until ctx is done. Returns ErrLockNotHeld once another
// owner has the key or Redis could not confirm ownership for a whole ttl.
func (l *Leader) Hold(ctx context.Context) error {
	l.mu.Lock()
	lock := l.lock
	l.mu.Unlock()
	if lock == nil {
		return ErrLockNotHeld
	}

	ticker := time.NewTicker(l.retryInterval())
	defer ticker.Stop()

	confirmed := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		err := lock.Extend(ctx, l.ttl)
		if err == nil {
			confirmed = time.Now()
			continue
		}
		if errors.Is(err, ErrLockNotHeld) {
			l.lost()
			return ErrLockNotHeld
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		held, checkErr := lock.IsHeld(ctx)
		if checkErr == nil && !held {
			l.lost()
			return ErrLockNotHeld
		}
		if time.Since(confirmed) >= l.ttl {
			l.lost()
			return ErrLockNotHeld
		}
		l.logger.Warn("Failed to extend leadership", zap.String("key", l.key), zap.Error(err))
	}
}

func (l *Leader) lost() {
	l.mu.Lock()
	l.lock = nil
	l.mu.Unlock()
	l.logger.Error("Lost leadership", zap.String("key", l.key), zap.String("id", l.id))
}

// IsLeader reports whether Redis still records this instance as the holder.
func (l *Leader) IsLeader(ctx context.Context) bool {
	l.mu.Lock()
	lock := l.lock
	l.mu.Unlock()
	if lock == nil {
		return false
	}
	held, err := lock.IsHeld(ctx)
	return err == nil && held
}

// Resign releases the lock if held.
func (l *Leader) Resign(ctx context.Context) error {
	l.mu.Lock()
	lock := l.lock
	l.lock = nil
	l.mu.Unlock()
	if lock == nil {
		return nil
	}
	err := lock.Release(ctx)
	if errors.Is(err, ErrLockNotHeld) {
		return nil
	}
	return err
}

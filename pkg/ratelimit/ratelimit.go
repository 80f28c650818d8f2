package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Result outcome of one rate limit check.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
}

// Limiter per-key rate limiting, local or shared.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// TokenBucket implements the token bucket algorithm for rate limiting
type TokenBucket struct {
	mu         sync.Mutex
	clock      clock.Clock
	capacity   int64     // Maximum number of tokens
	tokens     int64     // Current number of tokens
	refillRate int64     // Tokens added per second
	lastRefill time.Time // Last refill timestamp
	lastUsed   time.Time
}

func NewTokenBucket(clk clock.Clock, capacity, refillRate int64) *TokenBucket {
	now := clk.Now()
	return &TokenBucket{
		clock:      clk,
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN consumes n tokens if that many are available.
func (tb *TokenBucket) AllowN(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	tb.lastUsed = tb.clock.Now()

	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}

	return false
}

func (tb *TokenBucket) Remaining() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}

// refill adds tokens for every whole second elapsed
func (tb *TokenBucket) refill() {
	now := tb.clock.Now()
	seconds := int64(now.Sub(tb.lastRefill) / time.Second)
	if seconds <= 0 {
		return
	}

	tb.tokens += seconds * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = tb.lastRefill.Add(time.Duration(seconds) * time.Second)
}

// RateLimiter manages in-process token buckets per key (e.g. user ids).
type RateLimiter struct {
	mu              sync.RWMutex
	clock           clock.Clock
	buckets         map[string]*TokenBucket
	capacity        int64
	refillRate      int64
	cleanupInterval time.Duration
}

func NewRateLimiter(clk clock.Clock, capacity, refillRate int64) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		clock:           clk,
		buckets:         make(map[string]*TokenBucket),
		capacity:        capacity,
		refillRate:      refillRate,
		cleanupInterval: 10 * time.Minute,
	}
}

func (rl *RateLimiter) Allow(_ context.Context, key string) (Result, error) {
	bucket := rl.getBucket(key)
	allowed := bucket.Allow()
	return Result{Allowed: allowed, Limit: rl.capacity, Remaining: bucket.Remaining()}, nil
}

// getBucket gets or creates a token bucket for the given key
func (rl *RateLimiter) getBucket(key string) *TokenBucket {
	rl.mu.RLock()
	bucket, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if exists {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	bucket, exists = rl.buckets[key]
	if exists {
		return bucket
	}

	bucket = NewTokenBucket(rl.clock, rl.capacity, rl.refillRate)
	rl.buckets[key] = bucket
	return bucket
}

// Run removes idle buckets periodically until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := rl.clock.Ticker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// Cleanup drops buckets that are full and unused for a cleanup interval.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for key, bucket := range rl.buckets {
		bucket.mu.Lock()
		bucket.refill()
		if bucket.tokens == bucket.capacity && now.Sub(bucket.lastUsed) > rl.cleanupInterval {
			delete(rl.buckets, key)
		}
		bucket.mu.Unlock()
	}
}

// Reset forgets key's bucket.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.buckets)
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills limit tokens per window, consumes one if possible
// and returns {allowed, remaining}.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])

	local tokens_key = key .. ":tokens"
	local timestamp_key = key .. ":timestamp"

	local tokens = tonumber(redis.call('GET', tokens_key))
	local last_update = tonumber(redis.call('GET', timestamp_key))

	if tokens == nil or last_update == nil then
		tokens = limit
		last_update = now
	end

	local elapsed = math.max(0, now - last_update)
	local refill_rate = limit / window
	local new_tokens = math.min(limit, tokens + (elapsed * refill_rate))

	local allowed = 0
	if new_tokens >= 1 then
		new_tokens = new_tokens - 1
		allowed = 1
	end

	redis.call('SET', tokens_key, new_tokens, 'EX', window * 2)
	redis.call('SET', timestamp_key, now, 'EX', window * 2)

	return {allowed, math.floor(new_tokens)}
`)

// RedisRateLimiter token bucket shared by every instance.
type RedisRateLimiter struct {
	client    *redis.Client
	clock     clock.Clock
	keyPrefix string
	limit     int64
	window    time.Duration
}

// NewRedisRateLimiter allows limit requests per window per key.
func NewRedisRateLimiter(client *redis.Client, clk clock.Clock, keyPrefix string, limit int64, window time.Duration) *RedisRateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	if limit <= 0 {
		limit = 60
	}
	if window < time.Second {
		window = time.Minute
	}
	return &RedisRateLimiter{
		client:    client,
		clock:     clk,
		keyPrefix: keyPrefix,
		limit:     limit,
		window:    window,
	}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := r.clock.Now().Unix()
	res, err := tokenBucketScript.Run(ctx, r.client, []string{r.keyPrefix + key},
		r.limit, int64(r.window/time.Second), now).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis script execution failed: %w", err)
	}
	if len(res) < 2 {
		return Result{}, fmt.Errorf("invalid script result")
	}

	return Result{Allowed: res[0] == 1, Limit: r.limit, Remaining: res[1]}, nil
}

// Reset clears key's bucket.
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	redisKey := r.keyPrefix + key
	return r.client.Del(ctx, redisKey+":tokens", redisKey+":timestamp").Err()
}

package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecentLog a bounded, time-windowed log per key kept in a sorted set scored by
// the record time. Items are stored as JSON.
type RecentLog struct {
	client *redis.Client
	prefix string
	size   int64
	window time.Duration
}

func NewRecentLog(client *redis.Client, prefix string, size int, window time.Duration) *RecentLog {
	return &RecentLog{
		client: client,
		prefix: prefix,
		size:   int64(size),
		window: window,
	}
}

func (l *RecentLog) key(name string) string {
	return l.prefix + name
}

type logEntry struct {
	Seq  string          `json:"seq"`
	Item json.RawMessage `json:"item"`
}

// Append adds item at time at, then drops entries outside the window and
// beyond the size cap.
func (l *RecentLog) Append(ctx context.Context, name string, item any, at time.Time) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal log item: %w", err)
	}
	// seq keeps identical items recorded at the same time distinct
	member, err := json.Marshal(logEntry{Seq: strconv.FormatInt(at.UnixNano(), 36), Item: data})
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	key := l.key(name)
	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(at.Add(-l.window).UnixMilli(), 10))
	if l.size > 0 {
		pipe.ZRemRangeByRank(ctx, key, 0, -l.size-1)
	}
	pipe.PExpire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append log item: %w", err)
	}
	return nil
}

// Since raw items recorded after cutoff, oldest first.
func (l *RecentLog) Since(ctx context.Context, name string, cutoff time.Time) ([]json.RawMessage, error) {
	members, err := l.client.ZRangeByScore(ctx, l.key(name), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}

	items := make([]json.RawMessage, 0, len(members))
	for _, m := range members {
		var e logEntry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log entry: %w", err)
		}
		items = append(items, e.Item)
	}
	return items, nil
}

// Window configured retention.
func (l *RecentLog) Window() time.Duration {
	return l.window
}

package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Delivery one payload relayed between instances.
type Delivery struct {
	Origin   string          `json:"origin"`
	Target   string          `json:"target"` // "user" or "match"
	TargetID string          `json:"targetId"`
	Data     json.RawMessage `json:"data"`
	SentAt   time.Time       `json:"sentAt"`
}

const (
	TargetUser  = "user"
	TargetMatch = "match"
)

// Broadcaster relays deliveries to every other instance over Redis Pub/Sub.
// Publishing is asynchronous through a bounded outbox so callers never wait
// on Redis.
type Broadcaster struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *zap.Logger

	outbox chan Delivery
	wg     sync.WaitGroup
}

func NewBroadcaster(client *redis.Client, channel string, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		client:     client,
		channel:    channel,
		instanceID: uuid.New().String(),
		logger:     logger.Named("broadcaster"),
		outbox:     make(chan Delivery, 1024),
	}
}

func (b *Broadcaster) InstanceID() string {
	return b.instanceID
}

// Publish queues a delivery for other instances. Drops it if the outbox is full.
func (b *Broadcaster) Publish(target, targetID string, data []byte) {
	d := Delivery{
		Origin:   b.instanceID,
		Target:   target,
		TargetID: targetID,
		Data:     data,
		SentAt:   time.Now(),
	}
	select {
	case b.outbox <- d:
	default:
		b.logger.Warn("Broadcast outbox full, dropping delivery",
			zap.String("target", target),
			zap.String("targetId", targetID))
	}
}

// Run subscribes and relays until ctx is done. handler receives deliveries
// published by other instances only.
func (b *Broadcaster) Run(ctx context.Context, handler func(Delivery)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	b.logger.Info("Broadcaster started",
		zap.String("instance_id", b.instanceID),
		zap.String("channel", b.channel))

	b.wg.Add(1)
	go b.publishLoop(ctx)
	defer b.wg.Wait()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var d Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				b.logger.Error("Failed to unmarshal delivery", zap.Error(err))
				continue
			}
			if d.Origin == b.instanceID {
				continue
			}
			handler(d)

		case <-ctx.Done():
			b.logger.Info("Broadcaster stopped")
			return nil
		}
	}
}

func (b *Broadcaster) publishLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case d := <-b.outbox:
			data, err := json.Marshal(d)
			if err != nil {
				b.logger.Error("Failed to marshal delivery", zap.Error(err))
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err = b.client.Publish(pubCtx, b.channel, data).Err()
			cancel()
			if err != nil {
				b.logger.Warn("Failed to publish delivery",
					zap.String("target", d.Target),
					zap.String("targetId", d.TargetID),
					zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// OnlineSet cluster-wide view of connected user ids. Each instance owns one
// set that expires unless its lease is refreshed, so users of a crashed
// instance drop out after ttl. A registry sorted set scored by heartbeat time
// lists the instances whose sets are still worth checking.
type OnlineSet struct {
	client   *redis.Client
	prefix   string
	instance string
	ttl      time.Duration
}

func NewOnlineSet(client *redis.Client, prefix, instanceID string, ttl time.Duration) *OnlineSet {
	return &OnlineSet{client: client, prefix: prefix, instance: instanceID, ttl: ttl}
}

// TTL lease length; refresh with Sync well within it.
func (s *OnlineSet) TTL() time.Duration {
	return s.ttl
}

func (s *OnlineSet) instanceKey(id string) string {
	return s.prefix + ":" + id
}

func (s *OnlineSet) registryKey() string {
	return s.prefix + ":instances"
}

func (s *OnlineSet) touch(ctx context.Context, pipe redis.Pipeliner) {
	now := time.Now()
	pipe.PExpire(ctx, s.instanceKey(s.instance), s.ttl)
	pipe.ZAdd(ctx, s.registryKey(), redis.Z{Score: float64(now.UnixMilli()), Member: s.instance})
	pipe.ZRemRangeByScore(ctx, s.registryKey(), "-inf", fmt.Sprintf("(%d", now.Add(-s.ttl).UnixMilli()))
}

// Add marks userID online on this instance.
func (s *OnlineSet) Add(ctx context.Context, userID string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.instanceKey(s.instance), userID)
	s.touch(ctx, pipe)
	_, err := pipe.Exec(ctx)
	return err
}

// Remove marks userID offline on this instance only.
func (s *OnlineSet) Remove(ctx context.Context, userID string) error {
	return s.client.SRem(ctx, s.instanceKey(s.instance), userID).Err()
}

// Sync replaces this instance's members with users and renews its lease.
func (s *OnlineSet) Sync(ctx context.Context, users []string) error {
	key := s.instanceKey(s.instance)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(users) > 0 {
		members := make([]interface{}, len(users))
		for i, u := range users {
			members[i] = u
		}
		pipe.SAdd(ctx, key, members...)
	}
	s.touch(ctx, pipe)
	_, err := pipe.Exec(ctx)
	return err
}

// Clear drops this instance's set and registry entry.
func (s *OnlineSet) Clear(ctx context.Context) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.instanceKey(s.instance))
	pipe.ZRem(ctx, s.registryKey(), s.instance)
	_, err := pipe.Exec(ctx)
	return err
}

// Contains reports whether userID is connected to any live instance.
func (s *OnlineSet) Contains(ctx context.Context, userID string) (bool, error) {
	since := time.Now().Add(-s.ttl).UnixMilli()
	instances, err := s.client.ZRangeByScore(ctx, s.registryKey(), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return false, err
	}
	if len(instances) == 0 {
		return false, nil
	}

	pipe := s.client.Pipeline()
	checks := make([]*redis.BoolCmd, len(instances))
	for i, id := range instances {
		checks[i] = pipe.SIsMember(ctx, s.instanceKey(id), userID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	for _, c := range checks {
		if c.Val() {
			return true, nil
		}
	}
	return false, nil
}

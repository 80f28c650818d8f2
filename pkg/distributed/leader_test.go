package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLeader_SecondCampaignWaitsForResign(t *testing.T) {
	_, client := setupRedis(t)
	locks := NewRedisLockManager(client, "test:")
	a := NewLeader(locks, "engine", "a", 300*time.Millisecond, zap.NewNop())
	b := NewLeader(locks, "engine", "b", 300*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, a.Campaign(ctx))
	assert.True(t, a.IsLeader(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Campaign(waitCtx), context.DeadlineExceeded)
	assert.False(t, b.IsLeader(ctx))

	require.NoError(t, a.Resign(ctx))
	assert.False(t, a.IsLeader(ctx))

	require.NoError(t, b.Campaign(ctx))
	assert.True(t, b.IsLeader(ctx))
}

func TestLeader_HoldKeepsLockAlive(t *testing.T) {
	mr, client := setupRedis(t)
	locks := NewRedisLockManager(client, "test:")
	leader := NewLeader(locks, "engine", "a", 300*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, leader.Campaign(ctx))
	mr.SetTTL("test:engine", 50*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- leader.Hold(ctx) }()

	require.Eventually(t, func() bool {
		return mr.TTL("test:engine") > 50*time.Millisecond
	}, time.Second, 10*time.Millisecond, "hold renews the ttl")
	assert.True(t, leader.IsLeader(ctx))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestLeader_HoldReportsLostLock(t *testing.T) {
	mr, client := setupRedis(t)
	locks := NewRedisLockManager(client, "test:")
	leader := NewLeader(locks, "engine", "a", 300*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, leader.Campaign(ctx))

	done := make(chan error, 1)
	go func() { done <- leader.Hold(ctx) }()

	mr.Del("test:engine")
	require.NoError(t, mr.Set("test:engine", "b"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrLockNotHeld)
	case <-time.After(2 * time.Second):
		t.Fatal("hold did not notice the lock changed owner")
	}
	assert.False(t, leader.IsLeader(ctx))
}

package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pending(r *Registry, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[key]
	return ok
}

func TestRegistry_RearmFires(t *testing.T) {
	mock := clock.NewMock()
	reg := NewRegistry(mock)

	var fired atomic.Int32
	deadline := reg.Rearm("countdown:a", 120*time.Second, func() { fired.Add(1) })

	assert.Equal(t, mock.Now().Add(120*time.Second), deadline)
	assert.True(t, pending(reg, "countdown:a"))

	mock.Add(119 * time.Second)
	assert.Equal(t, int32(0), fired.Load())

	mock.Add(time.Second)
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, pending(reg, "countdown:a"))
}

func TestRegistry_RearmReplacesExisting(t *testing.T) {
	mock := clock.NewMock()
	reg := NewRegistry(mock)

	var first, second atomic.Int32
	reg.Rearm("k", 10*time.Second, func() { first.Add(1) })
	reg.Rearm("k", 20*time.Second, func() { second.Add(1) })
	reg.mu.Lock()
	require.Len(t, reg.timers, 1)
	reg.mu.Unlock()

	mock.Add(30 * time.Second)
	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestRegistry_CancelledTimerNeverFires(t *testing.T) {
	mock := clock.NewMock()
	reg := NewRegistry(mock)

	var fired atomic.Int32
	reg.Rearm("k", 5*time.Second, func() { fired.Add(1) })

	assert.True(t, reg.Cancel("k"))
	assert.False(t, reg.Cancel("k"), "second cancel is a no-op")

	mock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestRegistry_StaleGenerationIsIgnored(t *testing.T) {
	reg := NewRegistry(clock.NewMock())

	var fired atomic.Int32
	reg.Rearm("k", time.Hour, func() {})
	// a callback captured by an older generation must be dropped
	reg.fire("k", 0, func() { fired.Add(1) })

	assert.Equal(t, int32(0), fired.Load())
	assert.True(t, pending(reg, "k"))
}

func TestRegistry_StopCancelsEverything(t *testing.T) {
	mock := clock.NewMock()
	reg := NewRegistry(mock)

	var fired atomic.Int32
	reg.Rearm("vote:m1", 30*time.Second, func() { fired.Add(1) })
	reg.Rearm("draft:m2", 20*time.Second, func() { fired.Add(1) })

	reg.Stop()
	assert.False(t, pending(reg, "vote:m1"))
	assert.False(t, pending(reg, "draft:m2"))

	mock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

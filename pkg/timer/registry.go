// Package timer keeps at most one live, cancellable timer per key.
package timer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type handle struct {
	timer *clock.Timer
	gen   uint64
}

// Registry owns every countdown, draft-turn and map-vote timer of the engine.
type Registry struct {
	mu     sync.Mutex
	clock  clock.Clock
	timers map[string]*handle
	gen    uint64
}

func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		clock:  clk,
		timers: make(map[string]*handle),
	}
}

// Rearm cancels any timer stored under key and arms a new one that runs action
// after d. Returns the new deadline.
func (r *Registry) Rearm(key string, d time.Duration, action func()) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelLocked(key)

	r.gen++
	gen := r.gen
	deadline := r.clock.Now().Add(d)
	h := &handle{gen: gen}
	h.timer = r.clock.AfterFunc(d, func() {
		r.fire(key, gen, action)
	})
	r.timers[key] = h
	return deadline
}

// fire runs action only if the handle that scheduled it is still the live one.
func (r *Registry) fire(key string, gen uint64, action func()) {
	r.mu.Lock()
	h, ok := r.timers[key]
	if !ok || h.gen != gen {
		r.mu.Unlock()
		return
	}
	delete(r.timers, key)
	r.mu.Unlock()

	action()
}

// Cancel stops the timer under key. Returns false if none was live.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelLocked(key)
}

func (r *Registry) cancelLocked(key string) bool {
	h, ok := r.timers[key]
	if !ok {
		return false
	}
	h.timer.Stop()
	delete(r.timers, key)
	return true
}

// Stop cancels every live timer.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.timers {
		r.cancelLocked(key)
	}
}

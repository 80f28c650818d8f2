package service

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nomercy/ranked-backend/internal/models"
)

const (
	DefaultHistorySize   = 10
	DefaultHistoryWindow = 30 * time.Minute
)

// MemoryTeamHistory bounded, time-windowed ring of recent pairings per key.
// Used when no Redis ledger is configured.
type MemoryTeamHistory struct {
	mu      sync.Mutex
	clock   clock.Clock
	size    int
	window  time.Duration
	records map[models.QueueKey][]models.TeamHistoryRecord
}

func NewMemoryTeamHistory(clk clock.Clock, size int, window time.Duration) *MemoryTeamHistory {
	if clk == nil {
		clk = clock.New()
	}
	if size <= 0 {
		size = DefaultHistorySize
	}
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &MemoryTeamHistory{
		clock:   clk,
		size:    size,
		window:  window,
		records: make(map[models.QueueKey][]models.TeamHistoryRecord),
	}
}

// Recent records younger than the window, oldest first.
func (h *MemoryTeamHistory) Recent(_ context.Context, key models.QueueKey) ([]models.TeamHistoryRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pruneLocked(key)
	return append([]models.TeamHistoryRecord(nil), h.records[key]...), nil
}

func (h *MemoryTeamHistory) Record(_ context.Context, key models.QueueKey, rec models.TeamHistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := append(h.records[key], rec)
	if len(list) > h.size {
		list = list[len(list)-h.size:]
	}
	h.records[key] = list
	h.pruneLocked(key)
	return nil
}

func (h *MemoryTeamHistory) pruneLocked(key models.QueueKey) {
	cutoff := h.clock.Now().Add(-h.window)
	list := h.records[key]
	i := 0
	for i < len(list) && !list[i].RecordedAt.After(cutoff) {
		i++
	}
	if i == len(list) {
		delete(h.records, key)
		return
	}
	h.records[key] = list[i:]
}

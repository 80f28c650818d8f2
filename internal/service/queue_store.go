package service

import (
	"sort"
	"sync"
	"time"

	"github.com/nomercy/ranked-backend/internal/models"
)

const DefaultQueueTimeout = 15 * time.Minute

// QueueStore in-memory FIFO lists per queue key. A player id lives in at most
// one list, or in the reserved set while a formation is in flight.
type QueueStore struct {
	mu       sync.Mutex
	queues   map[models.QueueKey][]models.QueueEntry
	index    map[string]models.QueueKey
	reserved map[string]models.QueueKey
	timeout  time.Duration
}

func NewQueueStore(timeout time.Duration) *QueueStore {
	if timeout <= 0 {
		timeout = DefaultQueueTimeout
	}
	return &QueueStore{
		queues:   make(map[models.QueueKey][]models.QueueEntry),
		index:    make(map[string]models.QueueKey),
		reserved: make(map[string]models.QueueKey),
		timeout:  timeout,
	}
}

// Enqueue appends entry to the key's list.
func (s *QueueStore) Enqueue(key models.QueueKey, entry models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[entry.PlayerID]; ok {
		return ErrAlreadyQueued
	}
	if _, ok := s.reserved[entry.PlayerID]; ok {
		return ErrAlreadyQueued
	}

	entry.Key = key
	s.queues[key] = append(s.queues[key], entry)
	s.index[entry.PlayerID] = key
	return nil
}

// Dequeue removes playerID from the key's live list.
func (s *QueueStore) Dequeue(key models.QueueKey, playerID string) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.index[playerID]; !ok || k != key {
		return models.QueueEntry{}, ErrNotQueued
	}
	entry, _ := s.removeLocked(key, playerID)
	return entry, nil
}

func (s *QueueStore) removeLocked(key models.QueueKey, playerID string) (models.QueueEntry, bool) {
	list := s.queues[key]
	for i, e := range list {
		if e.PlayerID != playerID {
			continue
		}
		s.queues[key] = append(list[:i:i], list[i+1:]...)
		if len(s.queues[key]) == 0 {
			delete(s.queues, key)
		}
		delete(s.index, playerID)
		return e, true
	}
	return models.QueueEntry{}, false
}

// Locate returns the key holding playerID in a live list.
func (s *QueueStore) Locate(playerID string) (models.QueueKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.index[playerID]
	return key, ok
}

func (s *QueueStore) IsReserved(playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reserved[playerID]
	return ok
}

// Peek FIFO snapshot of the key's live list.
func (s *QueueStore) Peek(key models.QueueKey) []models.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.QueueEntry(nil), s.queues[key]...)
}

func (s *QueueStore) Size(key models.QueueKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[key])
}

// Position 1-based position of playerID in key, 0 if absent.
func (s *QueueStore) Position(key models.QueueKey, playerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.queues[key] {
		if e.PlayerID == playerID {
			return i + 1
		}
	}
	return 0
}

// Reserve moves the given players out of the live list into the reserved set
// and returns the moved entries in FIFO order. Unknown ids are skipped.
func (s *QueueStore) Reserve(key models.QueueKey, playerIDs []string) []models.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := make([]models.QueueEntry, 0, len(playerIDs))
	for _, id := range playerIDs {
		if k, ok := s.index[id]; !ok || k != key {
			continue
		}
		if e, ok := s.removeLocked(key, id); ok {
			s.reserved[id] = key
			moved = append(moved, e)
		}
	}
	sortByJoin(moved)
	return moved
}

// Restore puts reserved entries back into their live list, keeping join order.
func (s *QueueStore) Restore(key models.QueueKey, entries []models.QueueEntry) {
	if len(entries) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.queues[key]
	for _, e := range entries {
		if _, live := s.index[e.PlayerID]; live {
			continue
		}
		delete(s.reserved, e.PlayerID)
		e.Key = key
		list = append(list, e)
		s.index[e.PlayerID] = key
	}
	sortByJoin(list)
	s.queues[key] = list
}

// Release drops reservations for players consumed into a match or ejected.
func (s *QueueStore) Release(playerIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range playerIDs {
		delete(s.reserved, id)
	}
}

// SweepTimeouts removes and returns every live entry that has waited longer
// than the queue timeout.
func (s *QueueStore) SweepTimeouts(now time.Time) []models.QueueEntry {
	var expired []models.QueueEntry
	for _, key := range s.Keys() {
		expired = append(expired, s.SweepKey(key, now)...)
	}
	return expired
}

// SweepKey SweepTimeouts restricted to one key.
func (s *QueueStore) SweepKey(key models.QueueKey, now time.Time) []models.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []models.QueueEntry
	kept := make([]models.QueueEntry, 0, len(s.queues[key]))
	for _, e := range s.queues[key] {
		if now.Sub(e.JoinedAt) > s.timeout {
			expired = append(expired, e)
			delete(s.index, e.PlayerID)
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		delete(s.queues, key)
	} else {
		s.queues[key] = kept
	}
	return expired
}

// Keys every key with at least one live entry.
func (s *QueueStore) Keys() []models.QueueKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]models.QueueKey, 0, len(s.queues))
	for k := range s.queues {
		keys = append(keys, k)
	}
	return keys
}

func sortByJoin(entries []models.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})
}

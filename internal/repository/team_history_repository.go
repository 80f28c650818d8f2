package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/nomercy/ranked-backend/pkg/distributed"
)

// RedisTeamHistory shares the recent-pairings ledger between instances.
type RedisTeamHistory struct {
	log   *distributed.RecentLog
	clock clock.Clock
}

func NewRedisTeamHistory(log *distributed.RecentLog, clk clock.Clock) *RedisTeamHistory {
	if clk == nil {
		clk = clock.New()
	}
	return &RedisTeamHistory{log: log, clock: clk}
}

func (h *RedisTeamHistory) Recent(ctx context.Context, key models.QueueKey) ([]models.TeamHistoryRecord, error) {
	cutoff := h.clock.Now().Add(-h.log.Window())
	raw, err := h.log.Since(ctx, key.String(), cutoff)
	if err != nil {
		return nil, err
	}

	records := make([]models.TeamHistoryRecord, 0, len(raw))
	for _, r := range raw {
		var rec models.TeamHistoryRecord
		if err := json.Unmarshal(r, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode team history: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (h *RedisTeamHistory) Record(ctx context.Context, key models.QueueKey, rec models.TeamHistoryRecord) error {
	return h.log.Append(ctx, key.String(), rec, rec.RecordedAt)
}

package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nomercy/ranked-backend/internal/models"
	"go.uber.org/zap"
)

// Randomizer source of randomness for shuffles, tie-breaks and coin flips.
// *rand.Rand satisfies it.
type Randomizer interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

type globalRand struct{}

func (globalRand) IntN(n int) int                     { return rand.IntN(n) }
func (globalRand) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// NewRandomizer process-wide randomizer, safe for concurrent use.
func NewRandomizer() Randomizer {
	return globalRand{}
}

const defaultComposeAttempts = 8

// TeamComposer splits a pool into two teams, steering away from pairings the
// ledger has seen recently.
type TeamComposer struct {
	history  TeamHistory
	rng      Randomizer
	clock    clock.Clock
	window   time.Duration
	attempts int
	logger   *zap.Logger
}

func NewTeamComposer(history TeamHistory, rng Randomizer, clk clock.Clock, window time.Duration, logger *zap.Logger) *TeamComposer {
	if rng == nil {
		rng = NewRandomizer()
	}
	if clk == nil {
		clk = clock.New()
	}
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeamComposer{
		history:  history,
		rng:      rng,
		clock:    clk,
		window:   window,
		attempts: defaultComposeAttempts,
		logger:   logger,
	}
}

// Compose splits exactly 2*teamSize player ids into two teams. The first random
// split is taken when it repeats nothing recent; otherwise the least similar of
// a few random splits wins. The accepted split is recorded before returning.
func (c *TeamComposer) Compose(ctx context.Context, key models.QueueKey, playerIDs []string, teamSize int) ([]string, []string, error) {
	if teamSize <= 0 || len(playerIDs) != teamSize*2 {
		return nil, nil, fmt.Errorf("%w: %d players for team size %d", ErrInvalidInput, len(playerIDs), teamSize)
	}

	var recent []models.TeamHistoryRecord
	if c.history != nil {
		var err error
		recent, err = c.history.Recent(ctx, key)
		if err != nil {
			c.logger.Warn("Team history unavailable, composing without it",
				zap.String("queue", key.String()),
				zap.Error(err))
			recent = nil
		}
	}

	now := c.clock.Now()
	team1, team2 := c.randomSplit(playerIDs, teamSize)
	best := c.penalty(team1, team2, recent, now)

	for i := 0; best > 0 && i < c.attempts; i++ {
		t1, t2 := c.randomSplit(playerIDs, teamSize)
		if p := c.penalty(t1, t2, recent, now); p < best {
			team1, team2, best = t1, t2, p
		}
	}

	if c.history != nil {
		rec := models.TeamHistoryRecord{Team1: team1, Team2: team2, RecordedAt: now}
		if err := c.history.Record(ctx, key, rec); err != nil {
			c.logger.Warn("Failed to record team history",
				zap.String("queue", key.String()),
				zap.Error(err))
		}
	}

	c.logger.Debug("Teams composed",
		zap.String("queue", key.String()),
		zap.Int("teamSize", teamSize),
		zap.Float64("penalty", best))

	return team1, team2, nil
}

// randomSplit Fisher-Yates shuffle, first half is team 1.
func (c *TeamComposer) randomSplit(ids []string, teamSize int) ([]string, []string) {
	shuffled := append([]string(nil), ids...)
	c.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:teamSize:teamSize], shuffled[teamSize:]
}

// penalty recency-weighted similarity against every recent record.
func (c *TeamComposer) penalty(team1, team2 []string, recent []models.TeamHistoryRecord, now time.Time) float64 {
	total := 0.0
	for _, rec := range recent {
		age := now.Sub(rec.RecordedAt)
		if age >= c.window {
			continue
		}
		weight := 1 - float64(age)/float64(c.window)
		if weight > 1 {
			weight = 1
		}
		total += weight * Similarity(team1, team2, rec)
	}
	return total
}

// Similarity fraction of teammate pairs in the split that were also teammates
// in rec. 1 means an exact repeat, 0 means no pair was kept together.
func Similarity(team1, team2 []string, rec models.TeamHistoryRecord) float64 {
	side := make(map[string]int, len(rec.Team1)+len(rec.Team2))
	for _, id := range rec.Team1 {
		side[id] = 1
	}
	for _, id := range rec.Team2 {
		side[id] = 2
	}

	pairs, kept := 0, 0
	for _, team := range [][]string{team1, team2} {
		for i := 0; i < len(team); i++ {
			for j := i + 1; j < len(team); j++ {
				pairs++
				a, b := side[team[i]], side[team[j]]
				if a != 0 && a == b {
					kept++
				}
			}
		}
	}
	if pairs == 0 {
		// 1v1: only an exact rematch counts
		if len(team1) == 1 && len(team2) == 1 {
			a, b := side[team1[0]], side[team2[0]]
			if a != 0 && b != 0 && a != b {
				return 1
			}
		}
		return 0
	}
	return float64(kept) / float64(pairs)
}

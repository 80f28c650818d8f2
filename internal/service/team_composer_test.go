package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticHistory struct {
	records  []models.TeamHistoryRecord
	recorded []models.TeamHistoryRecord
	err      error
}

func (h *staticHistory) Recent(context.Context, models.QueueKey) ([]models.TeamHistoryRecord, error) {
	return h.records, h.err
}

func (h *staticHistory) Record(_ context.Context, _ models.QueueKey, rec models.TeamHistoryRecord) error {
	h.recorded = append(h.recorded, rec)
	return h.err
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func TestTeamComposer_SplitsWholePool(t *testing.T) {
	history := NewMemoryTeamHistory(clock.NewMock(), 0, 0)
	composer := NewTeamComposer(history, rand.New(rand.NewPCG(1, 2)), clock.NewMock(), 0, nil)
	pool := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}

	team1, team2, err := composer.Compose(context.Background(), sndKey, pool, 5)
	require.NoError(t, err)
	assert.Len(t, team1, 5)
	assert.Len(t, team2, 5)
	assert.Equal(t, sorted(pool), sorted(append(append([]string{}, team1...), team2...)))

	recent, err := history.Recent(context.Background(), sndKey)
	require.NoError(t, err)
	require.Len(t, recent, 1, "accepted split is recorded before returning")
	assert.Equal(t, team1, recent[0].Team1)
}

func TestTeamComposer_RejectsWrongPoolSize(t *testing.T) {
	composer := NewTeamComposer(nil, nil, nil, 0, nil)
	_, _, err := composer.Compose(context.Background(), sndKey, []string{"a", "b", "c"}, 2)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTeamComposer_UniformWithoutHistory(t *testing.T) {
	composer := NewTeamComposer(nil, rand.New(rand.NewPCG(7, 11)), clock.NewMock(), 0, nil)
	pool := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	const runs = 2000
	onTeam1 := 0
	for i := 0; i < runs; i++ {
		team1, _, err := composer.Compose(context.Background(), sndKey, pool, 4)
		require.NoError(t, err)
		for _, id := range team1 {
			if id == "a" {
				onTeam1++
			}
		}
	}
	assert.InDelta(t, runs/2, onTeam1, runs*0.1)
}

func TestTeamComposer_DisincentivizesRecentPairing(t *testing.T) {
	mock := clock.NewMock()
	prior := models.TeamHistoryRecord{Team1: []string{"a", "b"}, Team2: []string{"c", "d"}, RecordedAt: mock.Now()}
	mock.Add(time.Minute)

	history := &staticHistory{records: []models.TeamHistoryRecord{prior}}
	composer := NewTeamComposer(history, rand.New(rand.NewPCG(3, 5)), mock, 30*time.Minute, nil)

	repeats := 0
	for i := 0; i < 300; i++ {
		team1, team2, err := composer.Compose(context.Background(), sndKey, []string{"a", "b", "c", "d"}, 2)
		require.NoError(t, err)
		if Similarity(team1, team2, prior) == 1 {
			repeats++
		}
	}
	// a purely random split repeats a third of the time
	assert.LessOrEqual(t, repeats, 3)
}

func TestTeamComposer_TotalRepeatStillComposes(t *testing.T) {
	mock := clock.NewMock()
	prior := models.TeamHistoryRecord{Team1: []string{"a"}, Team2: []string{"b"}, RecordedAt: mock.Now()}
	history := &staticHistory{records: []models.TeamHistoryRecord{prior}}
	composer := NewTeamComposer(history, rand.New(rand.NewPCG(1, 1)), mock, 0, nil)

	team1, team2, err := composer.Compose(context.Background(), sndKey, []string{"a", "b"}, 1)
	require.NoError(t, err)
	assert.Len(t, team1, 1)
	assert.Len(t, team2, 1)
	assert.Len(t, history.recorded, 1)
}

func TestTeamComposer_LedgerFailureNeverBlocks(t *testing.T) {
	history := &staticHistory{err: errors.New("redis down")}
	composer := NewTeamComposer(history, rand.New(rand.NewPCG(9, 9)), clock.NewMock(), 0, nil)

	team1, team2, err := composer.Compose(context.Background(), sndKey, []string{"a", "b", "c", "d"}, 2)
	require.NoError(t, err)
	assert.Len(t, team1, 2)
	assert.Len(t, team2, 2)
}

func TestSimilarity(t *testing.T) {
	rec := models.TeamHistoryRecord{Team1: []string{"a", "b", "c"}, Team2: []string{"d", "e", "f"}}

	assert.Equal(t, 1.0, Similarity([]string{"a", "b", "c"}, []string{"d", "e", "f"}, rec))
	assert.Equal(t, 1.0, Similarity([]string{"d", "e", "f"}, []string{"a", "b", "c"}, rec), "side swap is still a repeat")
	assert.Equal(t, 0.0, Similarity([]string{"x", "y", "z"}, []string{"u", "v", "w"}, rec))
	// a,b kept together and e,f kept together: 2 of 6 pairs
	assert.InDelta(t, 2.0/6.0, Similarity([]string{"a", "b", "d"}, []string{"c", "e", "f"}, rec), 1e-9)
}

func TestMemoryTeamHistory_RingAndWindow(t *testing.T) {
	mock := clock.NewMock()
	history := NewMemoryTeamHistory(mock, 3, 30*time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, history.Record(ctx, sndKey, models.TeamHistoryRecord{
			Team1:      []string{string(rune('a' + i))},
			RecordedAt: mock.Now(),
		}))
		mock.Add(10 * time.Minute)
	}

	// ring keeps 3, the oldest of which is now 30 minutes old and pruned
	recent, err := history.Recent(ctx, sndKey)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, []string{"d"}, recent[0].Team1)
	assert.Equal(t, []string{"e"}, recent[1].Team1)

	other, err := history.Recent(ctx, hpKey)
	require.NoError(t, err)
	assert.Empty(t, other)
}

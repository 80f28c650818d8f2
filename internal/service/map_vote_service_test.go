package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/nomercy/ranked-backend/internal/events"
	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) duel(t *testing.T) *models.Match {
	t.Helper()
	h.join(t, duelKey, "p1")
	h.join(t, duelKey, "p2")
	return h.waitForMatch(t, "p1")
}

func (h *harness) stored(t *testing.T, id string) *models.Match {
	t.Helper()
	m := h.find(id)
	require.NotNil(t, m)
	return m
}

// find is safe to call from Eventually conditions.
func (h *harness) find(id string) *models.Match {
	m, _ := h.matches.FindByID(context.Background(), id)
	return m
}

func TestPickWinner_NeverChoosesOutvotedMap(t *testing.T) {
	svc := NewMatchmakingService(Dependencies{Rand: rand.New(rand.NewPCG(1, 1))}, nil, DefaultOptions())
	candidates := []models.MapCandidate{{Name: "Arsenal", Votes: 2}, {Name: "Harbor", Votes: 2}, {Name: "Vista"}}

	picked := make(map[string]int)
	for i := 0; i < 200; i++ {
		picked[svc.pickWinner(candidates)]++
	}
	assert.Zero(t, picked["Vista"])
	assert.Positive(t, picked["Arsenal"])
	assert.Positive(t, picked["Harbor"])
}

func TestPickWinner_NoVotesIsUniform(t *testing.T) {
	svc := NewMatchmakingService(Dependencies{Rand: rand.New(rand.NewPCG(3, 4))}, nil, DefaultOptions())
	candidates := []models.MapCandidate{{Name: "Arsenal"}, {Name: "Harbor"}, {Name: "Vista"}}

	picked := make(map[string]int)
	for i := 0; i < 300; i++ {
		picked[svc.pickWinner(candidates)]++
	}
	assert.Len(t, picked, 3)

	assert.Equal(t, "Rust", svc.pickWinner([]models.MapCandidate{{Name: "Rust", Votes: 1}, {Name: "Vista"}}))
}

func TestMapVote_ExpiryResolvesAndProvisionsVoice(t *testing.T) {
	h := newHarness(t)
	m := h.duel(t)
	require.Len(t, m.MapCandidates, 1)

	h.clk.Add(30 * time.Second)

	require.Eventually(t, func() bool {
		return h.find(m.ID).Status == models.MatchStatusReady
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(h.pub.matchEvents(m.ID, events.TypeMapSelected)) == 1
	}, time.Second, 5*time.Millisecond)
	stored := h.stored(t, m.ID)
	require.NotNil(t, stored.SelectedMap)
	assert.Equal(t, "Shipment", *stored.SelectedMap)
	require.NotNil(t, stored.Voice)
	assert.Equal(t, int32(1), h.voice.calls.Load())

	selected := h.pub.matchEvents(m.ID, events.TypeMapSelected)[0].(events.MapSelected)
	assert.Equal(t, "Shipment", selected.Map)
	assert.NotNil(t, selected.Voice)
}

func TestMapVote_ResolveIsIdempotent(t *testing.T) {
	h := newHarness(t)
	m := h.duel(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.svc.ResolveMapVote(ctx, m.ID)
		}()
	}
	wg.Wait()

	resolved := 0
	for _, err := range errs {
		if err == nil {
			resolved++
			continue
		}
		assert.ErrorIs(t, err, ErrVoteAlreadyResolved)
	}
	assert.Equal(t, 1, resolved)
	assert.Equal(t, int32(1), h.voice.calls.Load())

	h.clk.Add(time.Minute)
	assert.ErrorIs(t, h.svc.ResolveMapVote(ctx, m.ID), ErrVoteAlreadyResolved)
	assert.Equal(t, int32(1), h.voice.calls.Load())
	assert.Len(t, h.pub.matchEvents(m.ID, events.TypeMapSelected), 1)
}

func TestMapVote_VoiceFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.voice.err = errors.New("discord unavailable")
	m := h.duel(t)

	require.NoError(t, h.svc.ResolveMapVote(context.Background(), m.ID))
	stored := h.stored(t, m.ID)
	assert.Equal(t, models.MatchStatusReady, stored.Status)
	assert.Nil(t, stored.Voice)
}

func TestCastVote_EarlyResolutionWhenAllConnectedVoted(t *testing.T) {
	h := newHarness(t)
	h.pub.setConnected(true)
	m := h.duel(t)
	ctx := context.Background()

	require.NoError(t, h.svc.CastVote(ctx, m.ID, "p1", "Shipment"))
	assert.Equal(t, models.MatchStatusPending, h.stored(t, m.ID).Status)

	require.NoError(t, h.svc.CastVote(ctx, m.ID, "p2", "Shipment"))
	stored := h.stored(t, m.ID)
	assert.Equal(t, models.MatchStatusReady, stored.Status)
	assert.Equal(t, 2, stored.MapCandidates[0].Votes)

	assert.ErrorIs(t, h.svc.CastVote(ctx, m.ID, "p1", "Shipment"), ErrVotingClosed)
}

func TestCastVote_RequiresConnection(t *testing.T) {
	h := newHarness(t)
	m := h.duel(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.svc.CastVote(ctx, m.ID, "p1", "Shipment"), ErrNotConnected)
	assert.Len(t, h.pub.matchEvents(m.ID, events.TypeMapVoteUpdate), 1, "only the opening tally was sent")

	live, err := h.ms.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Zero(t, live.MapCandidates[0].Votes)
	assert.Equal(t, models.MatchStatusPending, live.Status)
}

func TestCastVote_DisconnectedPlayersDoNotBlockEarlyResolution(t *testing.T) {
	h := newHarness(t)
	h.pub.connect("p1")
	m := h.duel(t)
	ctx := context.Background()

	require.NoError(t, h.svc.CastVote(ctx, m.ID, "p1", "Shipment"))
	stored := h.stored(t, m.ID)
	assert.Equal(t, models.MatchStatusReady, stored.Status)
	assert.Equal(t, 1, stored.MapCandidates[0].Votes)
}

func TestMapVote_FailedSaveKeepsMatchLiveAndRetries(t *testing.T) {
	h := newHarness(t)
	m := h.duel(t)
	ctx := context.Background()

	h.matches.failSave.Store(true)
	require.Error(t, h.svc.ResolveMapVote(ctx, m.ID))

	assert.Empty(t, h.pub.matchEvents(m.ID, events.TypeMapSelected))
	stored := h.stored(t, m.ID)
	assert.Equal(t, models.MatchStatusPending, stored.Status)
	assert.Nil(t, stored.SelectedMap)
	assert.NotNil(t, h.svc.lookupLive(m.ID))
	assert.Zero(t, h.voice.calls.Load(), "no voice channels for an unsaved result")

	live, err := h.ms.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, live.SelectedMap)
	assert.Equal(t, models.MatchStatusPending, live.Status)

	h.matches.failSave.Store(false)
	h.clk.Add(voteRetryDelay)

	require.Eventually(t, func() bool {
		return h.find(m.ID).Status == models.MatchStatusReady
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(h.pub.matchEvents(m.ID, events.TypeMapSelected)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), h.voice.calls.Load())

	_, err = h.ms.StartMatch(ctx, m.ID, "p1", false)
	assert.NoError(t, err)
}

func TestCastVote_Rejections(t *testing.T) {
	h := newHarness(t)
	m := h.duel(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.svc.CastVote(ctx, m.ID, "p1", "Rust"), ErrInvalidMap)
	assert.ErrorIs(t, h.svc.CastVote(ctx, m.ID, "stranger", "Shipment"), ErrNotInMatch)
	assert.ErrorIs(t, h.svc.CastVote(ctx, "missing", "p1", "Shipment"), ErrMatchNotFound)
}

func TestCastVote_RevoteOverwrites(t *testing.T) {
	h := newHarness(t)
	h.pub.setConnected(true)
	h.joinMany(t, sndKey, "p", 10)
	m := h.waitForMatch(t, "p1")
	require.Len(t, m.MapCandidates, 3)
	ctx := context.Background()
	first, second := m.MapCandidates[0].Name, m.MapCandidates[1].Name

	require.NoError(t, h.svc.CastVote(ctx, m.ID, "p1", first))
	require.NoError(t, h.svc.CastVote(ctx, m.ID, "p1", first))
	require.NoError(t, h.svc.CastVote(ctx, m.ID, "p1", second))
	require.NoError(t, h.svc.CastVote(ctx, m.ID, "p2", second))

	live, err := h.ms.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, live.MapCandidates[0].Votes)
	assert.Equal(t, 2, live.MapCandidates[1].Votes)

	updates := h.pub.matchEvents(m.ID, events.TypeMapVoteUpdate)
	require.NotEmpty(t, updates)
	assert.Equal(t, 2, updates[len(updates)-1].(events.MapVoteUpdate).VotesCast)

	h.clk.Add(30 * time.Second)
	require.Eventually(t, func() bool {
		stored := h.find(m.ID)
		return stored.SelectedMap != nil && *stored.SelectedMap == second
	}, 2*time.Second, 5*time.Millisecond)
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/nomercy/ranked-backend/internal/events"
	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draftRequest(ids ...string) TestMatchRequest {
	req := TestMatchRequest{RankedMode: "hardcore", GameMode: "Search & Destroy", TeamSize: 4, WithDraft: true}
	for _, id := range ids {
		req.Players = append(req.Players, TestPlayer{ID: id, DisplayName: id})
	}
	return req
}

func TestStartTestMatch_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := draftRequest("p1")
	req.TeamSize = 3
	_, err := h.svc.StartTestMatch(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.StartTestMatch(ctx, draftRequest("a", "b", "c", "d", "e", "f", "g", "h", "i"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.StartTestMatch(ctx, draftRequest("a", "a"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	h.join(t, hpKey, "queued")
	_, err = h.svc.StartTestMatch(ctx, draftRequest("queued"))
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	req = draftRequest("p1")
	req.RankedMode = "retired"
	_, err = h.svc.StartTestMatch(ctx, req)
	assert.ErrorIs(t, err, ErrModeUnavailable)
}

func TestStartTestMatch_FillsWithSyntheticPlayers(t *testing.T) {
	h := newHarness(t)
	req := draftRequest("p1", "p2")
	req.WithDraft = false

	m, err := h.svc.StartTestMatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, m.IsTest)
	assert.Nil(t, m.Draft)
	assert.Len(t, m.Players, 8)
	assert.Equal(t, []string{"p1", "p2"}, m.RealPlayerIDs())
	assert.Len(t, m.TeamRefs(models.Team1), 4)
	assert.Len(t, m.TeamRefs(models.Team2), 4)

	mf, ok := h.pub.matchFound("p1")
	require.True(t, ok)
	require.NotNil(t, mf.VoteEndsAt)
	assert.Equal(t, h.clk.Now().Add(h.svc.opts.MapVoteDuration), *mf.VoteEndsAt)
}

func TestStartTestMatch_SingleSlotTeamsSkipDraft(t *testing.T) {
	h := newHarness(t)
	m, err := h.svc.StartTestMatch(context.Background(), TestMatchRequest{
		RankedMode: "duel",
		GameMode:   "Gunfight",
		TeamSize:   1,
		Players:    []TestPlayer{{ID: "p1"}},
		WithDraft:  true,
	})
	require.NoError(t, err)
	assert.Nil(t, m.Draft)
	assert.True(t, m.Player(models.Real("p1")).IsCaptain)
}

func TestDraft_CaptainsAndPool(t *testing.T) {
	h := newHarness(t)
	m, err := h.svc.StartTestMatch(context.Background(), draftRequest("p1", "p2", "p3", "p4"))
	require.NoError(t, err)

	require.NotNil(t, m.Draft)
	assert.True(t, m.Draft.IsActive)
	assert.Equal(t, models.Real("p1"), m.Captain(models.Team1).Ref)
	assert.Equal(t, models.Real("p2"), m.Captain(models.Team2).Ref)
	assert.Len(t, m.Draft.UnassignedPool, 6)
	assert.NotContains(t, m.Draft.UnassignedPool, models.Real("p1"))
	assert.NotContains(t, m.Draft.UnassignedPool, models.Real("p2"))
	assert.Equal(t, h.clk.Now().Add(h.svc.opts.DraftTurnDuration), m.Draft.TurnDeadline)

	mf, ok := h.pub.matchFound("p3")
	require.True(t, ok)
	assert.Nil(t, mf.VoteEndsAt)
}

func TestDraft_PenalizedPlayerIsNotCaptain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ms.PenalizeCaptain(ctx, "p1", "hardcore", h.clk.Now().Add(time.Hour)))

	m, err := h.svc.StartTestMatch(ctx, draftRequest("p1", "p2", "p3", "p4"))
	require.NoError(t, err)
	assert.Equal(t, models.Real("p2"), m.Captain(models.Team1).Ref)
	assert.Equal(t, models.Real("p3"), m.Captain(models.Team2).Ref)
	assert.Contains(t, m.Draft.UnassignedPool, models.Real("p1"))
}

func TestDraft_PickRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, err := h.svc.StartTestMatch(ctx, draftRequest("p1", "p2", "p3", "p4"))
	require.NoError(t, err)

	turn := m.Draft.CurrentTurn
	onTurn := m.Captain(turn).Ref.ID
	offTurn := m.Captain(turn.Other()).Ref.ID
	target := m.Draft.UnassignedPool[0]

	assert.ErrorIs(t, h.svc.Pick(ctx, m.ID, offTurn, target), ErrNotYourTurn)
	assert.ErrorIs(t, h.svc.Pick(ctx, m.ID, "p3", target), ErrNotCaptain)
	assert.ErrorIs(t, h.svc.Pick(ctx, m.ID, "stranger", target), ErrNotInMatch)
	assert.ErrorIs(t, h.svc.Pick(ctx, m.ID, onTurn, models.Real(offTurn)), ErrPlayerNotInPool)
	assert.ErrorIs(t, h.svc.Pick(ctx, "missing", onTurn, target), ErrMatchNotFound)

	require.NoError(t, h.svc.Pick(ctx, m.ID, onTurn, target))

	live, err := h.ms.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, turn.Other(), live.Draft.CurrentTurn)
	assert.Equal(t, turn, live.Player(target).Team)
	assert.NotContains(t, live.Draft.UnassignedPool, target)
	require.Len(t, live.Draft.PickHistory, 1)
	assert.False(t, live.Draft.PickHistory[0].Auto)

	// the same captain cannot pick twice in a row
	assert.ErrorIs(t, h.svc.Pick(ctx, m.ID, onTurn, live.Draft.UnassignedPool[0]), ErrNotYourTurn)
	assert.ErrorIs(t, h.svc.CastVote(ctx, m.ID, "p1", m.MapCandidates[0].Name), ErrVotingClosed)
}

func TestDraft_UpdatesArePerRecipient(t *testing.T) {
	h := newHarness(t)
	m, err := h.svc.StartTestMatch(context.Background(), draftRequest("p1", "p2", "p3"))
	require.NoError(t, err)
	onTurn := m.Captain(m.Draft.CurrentTurn).Ref.ID

	h.pub.mu.Lock()
	defer h.pub.mu.Unlock()
	seen := 0
	for _, s := range h.pub.sent {
		du, ok := s.evt.(events.DraftUpdate)
		if !ok {
			continue
		}
		seen++
		assert.Equal(t, s.userID == onTurn, du.IsYourTurn, s.userID)
	}
	assert.Equal(t, 3, seen)
}

func TestDraft_ExpiryAutoPicksUntilComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, err := h.svc.StartTestMatch(ctx, draftRequest("p1", "p2", "p3", "p4"))
	require.NoError(t, err)
	pool := append([]models.PlayerRef(nil), m.Draft.UnassignedPool...)

	for i := 0; i < len(pool); i++ {
		h.clk.Add(10 * time.Second)
		require.Eventually(t, func() bool {
			live, err := h.ms.GetMatch(ctx, m.ID)
			return err == nil && len(live.Draft.PickHistory) == i+1
		}, 2*time.Second, 5*time.Millisecond, "pick %d", i+1)
	}

	live, err := h.ms.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	d := live.Draft
	assert.False(t, d.IsActive)
	assert.Empty(t, d.UnassignedPool)
	for i, pick := range d.PickHistory {
		assert.True(t, pick.Auto)
		assert.Contains(t, pool, pick.Player)
		if i > 0 {
			assert.NotEqual(t, d.PickHistory[i-1].Team, pick.Team, "turns alternate")
		}
	}
	assert.Len(t, live.TeamRefs(models.Team1), 4)
	assert.Len(t, live.TeamRefs(models.Team2), 4)

	assert.NotEmpty(t, h.pub.matchEvents(m.ID, events.TypeMapVoteUpdate))

	h.clk.Add(h.svc.opts.MapVoteDuration)
	require.Eventually(t, func() bool {
		stored := h.find(m.ID)
		return stored != nil && stored.SelectedMap != nil
	}, 2*time.Second, 5*time.Millisecond, "the vote opened after the last pick resolves")
	assert.Len(t, h.stored(t, m.ID).Draft.PickHistory, len(pool))
}

func TestDraft_ManualPickVoidsPendingAutoPick(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m, err := h.svc.StartTestMatch(ctx, draftRequest("p1", "p2", "p3", "p4"))
	require.NoError(t, err)

	h.clk.Add(9 * time.Second)
	require.NoError(t, h.svc.Pick(ctx, m.ID, m.Captain(m.Draft.CurrentTurn).Ref.ID, m.Draft.UnassignedPool[0]))
	h.clk.Add(2 * time.Second)

	assert.Never(t, func() bool {
		live, err := h.ms.GetMatch(ctx, m.ID)
		return err == nil && len(live.Draft.PickHistory) > 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}

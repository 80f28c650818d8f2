package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/elliotchance/pie/v2"
	"github.com/google/uuid"
	"github.com/nomercy/ranked-backend/internal/events"
	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/nomercy/ranked-backend/internal/repository"
	"go.uber.org/zap"
)

// TestPlayer a real participant of a privileged test match.
type TestPlayer struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// TestMatchRequest seats the given players and fills the rest with synthetic
// players. WithDraft runs the captain draft before the map vote.
type TestMatchRequest struct {
	RankedMode string
	GameMode   string
	TeamSize   int
	Players    []TestPlayer
	WithDraft  bool
}

func draftTimerKey(matchID string) string {
	return "draft:" + matchID
}

// StartTestMatch creates a match outside of the queues.
func (s *MatchmakingService) StartTestMatch(ctx context.Context, req TestMatchRequest) (*models.Match, error) {
	mode, gm, err := s.resolveMode(req.RankedMode, req.GameMode)
	if err != nil {
		return nil, err
	}
	if !pie.Contains(mode.TeamSizes, req.TeamSize) {
		return nil, fmt.Errorf("team size %d not offered by %s: %w", req.TeamSize, mode.Name, ErrInvalidInput)
	}
	if len(req.Players) > req.TeamSize*2 {
		return nil, fmt.Errorf("%d players do not fit %dv%d: %w", len(req.Players), req.TeamSize, req.TeamSize, ErrInvalidInput)
	}

	seen := make(map[string]bool, len(req.Players))
	for _, p := range req.Players {
		if p.ID == "" || seen[p.ID] {
			return nil, fmt.Errorf("duplicate or empty player id %q: %w", p.ID, ErrInvalidInput)
		}
		seen[p.ID] = true
		if _, queued := s.store.Locate(p.ID); queued || s.store.IsReserved(p.ID) {
			return nil, ErrAlreadyQueued.WithData(map[string]any{"playerId": p.ID})
		}
	}

	now := s.clock.Now()
	restricted := make(map[models.PlayerRef]bool)
	players := make([]models.MatchPlayer, 0, req.TeamSize*2)
	for _, p := range req.Players {
		mp := models.MatchPlayer{
			Ref:          models.Real(p.ID),
			DisplayName:  p.DisplayName,
			AvatarURL:    p.AvatarURL,
			RankDivision: DivisionFor(0),
		}
		if s.rankings != nil {
			ranking, err := s.rankings.GetRanking(ctx, p.ID, req.RankedMode)
			if err != nil {
				return nil, fmt.Errorf("failed to get ranking: %w", err)
			}
			if ranking != nil {
				mp.RankPoints = ranking.Points
				mp.RankDivision = DivisionFor(ranking.Points)
				restricted[mp.Ref] = ranking.CaptainRestricted(now)
			}
		}
		players = append(players, mp)
	}
	for i := len(players); i < req.TeamSize*2; i++ {
		n := i - len(req.Players) + 1
		players = append(players, models.MatchPlayer{
			Ref:          models.Synthetic(fmt.Sprintf("bot-%d", n)),
			DisplayName:  fmt.Sprintf("Bot %d", n),
			RankDivision: DivisionFor(0),
		})
	}

	m := &models.Match{
		ID:         uuid.NewString(),
		GameMode:   req.GameMode,
		RankedMode: req.RankedMode,
		TeamSize:   req.TeamSize,
		Players:    players,
		Status:     models.MatchStatusPending,
		IsTest:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	isRestricted := func(ref models.PlayerRef) bool { return restricted[ref] }
	refs := pie.Map(players, func(p models.MatchPlayer) models.PlayerRef { return p.Ref })

	if req.WithDraft && req.TeamSize > 1 {
		c1 := chooseCaptain(refs, isRestricted)
		rest := pie.Filter(refs, func(ref models.PlayerRef) bool { return ref != c1 })
		c2 := chooseCaptain(rest, isRestricted)
		pool := pie.Filter(rest, func(ref models.PlayerRef) bool { return ref != c2 })

		for i := range m.Players {
			switch m.Players[i].Ref {
			case c1:
				m.Players[i].Team, m.Players[i].IsCaptain = models.Team1, true
			case c2:
				m.Players[i].Team, m.Players[i].IsCaptain = models.Team2, true
			}
		}
		m.Draft = &models.DraftState{
			IsActive:       true,
			CurrentTurn:    s.coinFlip(),
			PickHistory:    []models.DraftPick{},
			UnassignedPool: pool,
		}
	} else {
		s.rng.Shuffle(len(refs), func(i, j int) { refs[i], refs[j] = refs[j], refs[i] })
		for _, side := range []struct {
			team models.Team
			refs []models.PlayerRef
		}{
			{models.Team1, refs[:req.TeamSize]},
			{models.Team2, refs[req.TeamSize:]},
		} {
			captain := chooseCaptain(side.refs, isRestricted)
			for _, ref := range side.refs {
				p := m.Player(ref)
				p.Team = side.team
				p.IsCaptain = ref == captain
			}
		}
	}

	m.HostTeam = s.coinFlip()
	m.MapCandidates = s.drawMapCandidates(gm)

	if err := s.matches.CreateMatch(ctx, m); err != nil {
		var conflict *repository.ConflictError
		if errors.As(err, &conflict) {
			return nil, ErrAlreadyInActiveMatch.WithData(map[string]any{"playerIds": conflict.PlayerIDs})
		}
		return nil, fmt.Errorf("failed to create test match: %w", err)
	}

	s.metrics.MatchFormed(m.RankedMode, m.GameMode, m.TeamSize, true)
	s.logger.Info("Test match created",
		zap.String("matchId", m.ID),
		zap.Int("teamSize", m.TeamSize),
		zap.Int("realPlayers", len(req.Players)),
		zap.Bool("draft", m.Draft != nil))

	s.announceMatch(m)
	return s.snapshot(m), nil
}

// snapshot latest in-memory copy of m if it is still live.
func (s *MatchmakingService) snapshot(m *models.Match) *models.Match {
	lm := s.lookupLive(m.ID)
	if lm == nil {
		return m.Clone()
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.match.Clone()
}

// Pick assigns pick to the acting captain's team.
func (s *MatchmakingService) Pick(ctx context.Context, matchID, captainID string, pick models.PlayerRef) error {
	lm := s.lookupLive(matchID)
	if lm == nil {
		return s.notLiveError(ctx, matchID, ErrDraftInactive)
	}

	lm.mu.Lock()
	m := lm.match
	if lm.committing != commitNone || m.Draft == nil || !m.Draft.IsActive {
		lm.mu.Unlock()
		return ErrDraftInactive
	}
	actor := m.Player(models.Real(captainID))
	if actor == nil {
		lm.mu.Unlock()
		return ErrNotInMatch
	}
	if !actor.IsCaptain {
		lm.mu.Unlock()
		return ErrNotCaptain
	}
	if actor.Team != m.Draft.CurrentTurn {
		lm.mu.Unlock()
		return ErrNotYourTurn
	}
	if !pie.Contains(m.Draft.UnassignedPool, pick) {
		lm.mu.Unlock()
		return ErrPlayerNotInPool
	}
	done := s.applyPickLocked(lm, pick, false)
	lm.mu.Unlock()

	s.afterPick(ctx, lm, done)
	return nil
}

// applyPickLocked moves pick to the team on turn, then either flips the turn
// or, with the pool empty, closes the draft and opens the map vote.
// Caller holds lm.mu. Returns true when the draft completed.
func (s *MatchmakingService) applyPickLocked(lm *liveMatch, pick models.PlayerRef, auto bool) bool {
	m := lm.match
	d := m.Draft
	team := d.CurrentTurn

	d.UnassignedPool = pie.Filter(d.UnassignedPool, func(ref models.PlayerRef) bool { return ref != pick })
	if p := m.Player(pick); p != nil {
		p.Team = team
	}
	now := s.clock.Now()
	d.PickHistory = append(d.PickHistory, models.DraftPick{Team: team, Player: pick, Auto: auto, At: now})
	m.UpdatedAt = now

	if len(d.UnassignedPool) == 0 {
		d.IsActive = false
		d.TurnDeadline = now
		s.timers.Cancel(draftTimerKey(m.ID))
		s.openMapVoteLocked(lm)
		return true
	}
	d.CurrentTurn = team.Other()
	s.armDraftTurnLocked(lm)
	return false
}

// armDraftTurnLocked starts the turn timer. The auto-pick is bound to the
// current pick count so a pick made in the meantime voids it.
func (s *MatchmakingService) armDraftTurnLocked(lm *liveMatch) {
	id := lm.match.ID
	expected := len(lm.match.Draft.PickHistory)
	deadline := s.timers.Rearm(draftTimerKey(id), s.opts.DraftTurnDuration, func() {
		s.autoPick(id, expected)
	})
	lm.match.Draft.TurnDeadline = deadline
}

func (s *MatchmakingService) autoPick(matchID string, expected int) {
	lm := s.lookupLive(matchID)
	if lm == nil {
		return
	}

	lm.mu.Lock()
	d := lm.match.Draft
	if d == nil || !d.IsActive || len(d.PickHistory) != expected || len(d.UnassignedPool) == 0 {
		lm.mu.Unlock()
		return
	}
	if lm.committing != commitNone {
		// the turn runs again if the pending cancel fails
		s.armDraftTurnLocked(lm)
		lm.mu.Unlock()
		return
	}
	team := d.CurrentTurn
	pick := d.UnassignedPool[s.rng.IntN(len(d.UnassignedPool))]
	done := s.applyPickLocked(lm, pick, true)
	lm.mu.Unlock()

	s.logger.Info("Draft turn expired, auto-picked",
		zap.String("matchId", matchID),
		zap.Int("team", int(team)),
		zap.String("player", pick.ID))

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.FormationTimeout)
	defer cancel()
	s.afterPick(ctx, lm, done)
}

func (s *MatchmakingService) afterPick(ctx context.Context, lm *liveMatch, done bool) {
	lm.mu.Lock()
	id := lm.match.ID
	lm.mu.Unlock()

	if err := s.persist(ctx, lm); err != nil {
		s.logger.Error("Failed to persist draft pick", zap.String("matchId", id), zap.Error(err))
	}
	s.publishDraft(lm)

	if !done {
		return
	}
	lm.mu.Lock()
	update := events.NewMapVoteUpdate(lm.match, lm.voteEndsAt)
	lm.mu.Unlock()
	s.events.ToMatch(id, update)
}

// publishDraft sends each real participant their own view of the draft.
func (s *MatchmakingService) publishDraft(lm *liveMatch) {
	lm.mu.Lock()
	snap := lm.match.Clone()
	lm.mu.Unlock()

	for _, p := range snap.Players {
		if p.Ref.IsReal() {
			s.events.ToUser(p.Ref.ID, events.NewDraftUpdate(snap, p.Ref))
		}
	}
}

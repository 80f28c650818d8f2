package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nomercy/ranked-backend/internal/events"
	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/nomercy/ranked-backend/internal/repository"
	"go.uber.org/zap"
)

// MatchService drives matches past the pending phase: start, result reporting,
// disputes, admin cancellation and moderation.
type MatchService struct {
	matches            MatchRepository
	rankings           RankingRepository
	bans               BanRepository
	events             EventPublisher
	voice              VoiceProvisioner
	eloService         *ELOService
	clock              clock.Clock
	logger             *zap.Logger
	matchmakingService *MatchmakingService
}

func NewMatchService(matchmakingService *MatchmakingService) *MatchService {
	return &MatchService{
		matches:            matchmakingService.matches,
		rankings:           matchmakingService.rankings,
		bans:               matchmakingService.bans,
		events:             matchmakingService.events,
		voice:              matchmakingService.voice,
		eloService:         matchmakingService.elo,
		clock:              matchmakingService.clock,
		logger:             matchmakingService.logger.Named("matches"),
		matchmakingService: matchmakingService,
	}
}

// GetMatch returns the freshest view, in-memory while a vote or draft runs.
func (s *MatchService) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	if lm := s.matchmakingService.lookupLive(id); lm != nil {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		return lm.match.Clone(), nil
	}

	m, err := s.matches.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	if m == nil {
		return nil, ErrMatchNotFound
	}
	return m, nil
}

// StartMatch ready -> in_progress, by any participant or an admin.
func (s *MatchService) StartMatch(ctx context.Context, id, actorID string, admin bool) (*models.Match, error) {
	return s.update(ctx, id, func(m *models.Match) error {
		if !admin && m.Player(models.Real(actorID)) == nil {
			return ErrNotInMatch
		}
		return s.transition(m, models.MatchStatusInProgress)
	})
}

// CompleteMatch records the winner reported by a captain or admin and settles
// ranked points for non-test matches.
func (s *MatchService) CompleteMatch(ctx context.Context, id, actorID string, winner models.Team, admin bool) (*models.Match, error) {
	if !winner.Valid() {
		return nil, fmt.Errorf("winner team %d: %w", winner, ErrInvalidInput)
	}

	m, err := s.update(ctx, id, func(m *models.Match) error {
		if !admin {
			p := m.Player(models.Real(actorID))
			if p == nil {
				return ErrNotInMatch
			}
			if !p.IsCaptain {
				return ErrNotCaptain
			}
		}
		if err := s.transition(m, models.MatchStatusCompleted); err != nil {
			return err
		}
		m.WinnerTeam = winner
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.settle(ctx, m)
	s.closeOut(ctx, m)
	return m, nil
}

// DisputeMatch in_progress -> disputed, by any participant.
func (s *MatchService) DisputeMatch(ctx context.Context, id, actorID string) (*models.Match, error) {
	return s.update(ctx, id, func(m *models.Match) error {
		if m.Player(models.Real(actorID)) == nil {
			return ErrNotInMatch
		}
		return s.transition(m, models.MatchStatusDisputed)
	})
}

// ResolveDispute disputed -> completed with the winner an admin decided.
func (s *MatchService) ResolveDispute(ctx context.Context, id string, winner models.Team) (*models.Match, error) {
	if !winner.Valid() {
		return nil, fmt.Errorf("winner team %d: %w", winner, ErrInvalidInput)
	}

	m, err := s.update(ctx, id, func(m *models.Match) error {
		if m.Status != models.MatchStatusDisputed {
			return ErrInvalidTransition.WithData(map[string]any{"from": m.Status, "to": models.MatchStatusCompleted})
		}
		if err := s.transition(m, models.MatchStatusCompleted); err != nil {
			return err
		}
		m.WinnerTeam = winner
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.settle(ctx, m)
	s.closeOut(ctx, m)
	return m, nil
}

// CancelMatch admin cancellation. Live draft and vote timers die with the match.
func (s *MatchService) CancelMatch(ctx context.Context, id string) (*models.Match, error) {
	m, handled, err := s.matchmakingService.cancelLive(ctx, id)
	if handled {
		if err != nil {
			return nil, err
		}
		s.events.ToMatch(m.ID, events.NewMatchStatus(m))
		s.closeOut(ctx, m)
		return m, nil
	}

	m, err = s.update(ctx, id, func(m *models.Match) error {
		return s.transition(m, models.MatchStatusCancelled)
	})
	if err != nil {
		return nil, err
	}
	s.closeOut(ctx, m)
	return m, nil
}

// closeOut runs once a match reaches a terminal status.
func (s *MatchService) closeOut(ctx context.Context, m *models.Match) {
	s.events.LeaveMatch(m.ID)

	releaser, ok := s.voice.(VoiceReleaser)
	if !ok || m.Voice == nil {
		return
	}
	if err := releaser.ReleaseChannels(ctx, m.Voice); err != nil {
		s.logger.Warn("Failed to release voice channels", zap.String("matchId", m.ID), zap.Error(err))
	}
}

// BanPlayer suspends playerID from ranked and drops them from any queue.
func (s *MatchService) BanPlayer(ctx context.Context, playerID, reason string, duration time.Duration) (*models.Ban, error) {
	if playerID == "" || duration <= 0 {
		return nil, ErrInvalidInput
	}
	if s.bans == nil {
		return nil, fmt.Errorf("bans are not configured: %w", ErrInvalidInput)
	}

	ban, err := s.bans.Create(ctx, playerID, reason, s.clock.Now().Add(duration))
	if err != nil {
		return nil, fmt.Errorf("failed to create ban: %w", err)
	}

	s.matchmakingService.Evict(playerID, models.RemovalPreconditionFailed)
	s.logger.Info("Player banned",
		zap.String("playerId", playerID),
		zap.Time("expiresAt", ban.ExpiresAt))
	return ban, nil
}

// PenalizeCaptain keeps playerID from being picked as captain until the given time.
func (s *MatchService) PenalizeCaptain(ctx context.Context, playerID, rankedMode string, until time.Time) error {
	if playerID == "" || !until.After(s.clock.Now()) {
		return ErrInvalidInput
	}
	if _, ok := s.matchmakingService.modes[rankedMode]; !ok {
		return ErrModeUnavailable
	}
	if err := s.rankings.SetCaptainPenalty(ctx, playerID, rankedMode, until); err != nil {
		return fmt.Errorf("failed to set captain penalty: %w", err)
	}
	return nil
}

// update load, mutate and save one match under its version guard, then
// publish the new status.
func (s *MatchService) update(ctx context.Context, id string, mutate func(m *models.Match) error) (*models.Match, error) {
	m, err := s.matches.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	if m == nil {
		return nil, ErrMatchNotFound
	}

	if err := mutate(m); err != nil {
		return nil, err
	}
	if err := s.matches.SaveMatch(ctx, m); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, ErrConcurrentUpdate
		}
		return nil, fmt.Errorf("failed to save match: %w", err)
	}

	s.logger.Info("Match status changed",
		zap.String("matchId", m.ID),
		zap.String("status", string(m.Status)))
	s.events.ToMatch(m.ID, events.NewMatchStatus(m))
	return m, nil
}

func (s *MatchService) transition(m *models.Match, next models.MatchStatus) error {
	from := m.Status
	if err := m.Transition(next, s.clock.Now()); err != nil {
		return ErrInvalidTransition.WithData(map[string]any{"from": from, "to": next})
	}
	return nil
}

// settle applies ranked points. Failures are logged; the completed result stands.
func (s *MatchService) settle(ctx context.Context, m *models.Match) {
	if m.IsTest || s.rankings == nil {
		return
	}

	rankings := make(map[string]*models.Ranking, len(m.Players))
	for _, id := range m.RealPlayerIDs() {
		r, err := s.rankings.GetRanking(ctx, id, m.RankedMode)
		if err != nil {
			s.logger.Error("Failed to load ranking for settlement",
				zap.String("matchId", m.ID),
				zap.String("playerId", id),
				zap.Error(err))
			return
		}
		rankings[id] = r
	}

	changes := s.eloService.SettleMatch(m, rankings, m.WinnerTeam)
	if err := s.rankings.ApplyResults(ctx, changes); err != nil {
		s.logger.Error("Failed to apply match results", zap.String("matchId", m.ID), zap.Error(err))
		return
	}

	s.logger.Info("Match settled",
		zap.String("matchId", m.ID),
		zap.Int("winner", int(m.WinnerTeam)),
		zap.Int("players", len(changes)))
}

// cancelLive cancels a match still in its draft or vote. handled is false
// when the match is not live here.
func (s *MatchmakingService) cancelLive(ctx context.Context, id string) (*models.Match, bool, error) {
	lm := s.lookupLive(id)
	if lm == nil {
		return nil, false, nil
	}

	lm.mu.Lock()
	if lm.committing != commitNone {
		lm.mu.Unlock()
		return nil, true, ErrConcurrentUpdate
	}
	from := lm.match.Status
	next := lm.match.Clone()
	if err := next.Transition(models.MatchStatusCancelled, s.clock.Now()); err != nil {
		lm.mu.Unlock()
		return nil, true, ErrInvalidTransition.WithData(map[string]any{"from": from, "to": models.MatchStatusCancelled})
	}
	if next.Draft != nil {
		next.Draft.IsActive = false
	}
	lm.committing = commitCancel
	lm.mu.Unlock()

	if err := s.commit(ctx, lm, next); err != nil {
		lm.mu.Lock()
		lm.committing = commitNone
		lm.mu.Unlock()
		return nil, true, err
	}
	s.untrack(id)

	s.logger.Info("Pending match cancelled", zap.String("matchId", id))
	return next, true, nil
}

// Recover reloads active matches after a restart. Pending matches get their
// draft turn or map vote re-armed with fresh tallies.
func (s *MatchmakingService) Recover(ctx context.Context) error {
	active, err := s.matches.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active matches: %w", err)
	}

	resumed := 0
	for _, m := range active {
		s.events.JoinMatch(m.ID, m.RealPlayerIDs())
		if m.Status != models.MatchStatusPending || m.SelectedMap != nil {
			continue
		}

		lm := s.track(m)
		lm.mu.Lock()
		for i := range lm.match.MapCandidates {
			lm.match.MapCandidates[i].Votes = 0
		}
		drafting := lm.match.Draft != nil && lm.match.Draft.IsActive
		if drafting {
			s.armDraftTurnLocked(lm)
		} else {
			s.openMapVoteLocked(lm)
		}
		lm.mu.Unlock()

		if err := s.persist(ctx, lm); err != nil {
			s.logger.Warn("Failed to persist recovered match", zap.String("matchId", m.ID), zap.Error(err))
		}
		if drafting {
			s.publishDraft(lm)
		} else {
			lm.mu.Lock()
			update := events.NewMapVoteUpdate(lm.match, lm.voteEndsAt)
			lm.mu.Unlock()
			s.events.ToMatch(m.ID, update)
		}
		resumed++
	}

	s.logger.Info("Recovered active matches",
		zap.Int("active", len(active)),
		zap.Int("resumed", resumed))
	return nil
}

// LeaderboardEntry one row of a ranked mode's standings.
type LeaderboardEntry struct {
	Position int `json:"position"`
	models.Ranking
	Division string `json:"division"`
}

const maxLeaderboardSize = 100

// Leaderboard top players of rankedMode. limit is clamped to [1, 100].
func (s *MatchService) Leaderboard(ctx context.Context, rankedMode string, limit int) ([]LeaderboardEntry, error) {
	if _, ok := s.matchmakingService.modes[rankedMode]; !ok {
		return nil, ErrModeUnavailable
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > maxLeaderboardSize {
		limit = maxLeaderboardSize
	}
	if s.rankings == nil {
		return []LeaderboardEntry{}, nil
	}

	rankings, err := s.rankings.TopRankings(ctx, rankedMode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}

	entries := make([]LeaderboardEntry, len(rankings))
	for i, r := range rankings {
		entries[i] = LeaderboardEntry{Position: i + 1, Ranking: r, Division: DivisionFor(r.Points)}
	}
	return entries, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/nomercy/ranked-backend/internal/events"
	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/nomercy/ranked-backend/internal/repository"
	"go.uber.org/zap"
)

const (
	voiceGuardTTL  = 24 * time.Hour
	voteRetryDelay = 5 * time.Second
)

// commitKind what an in-flight commit of a live match is doing.
type commitKind int

const (
	commitNone commitKind = iota
	commitResolve
	commitCancel
)

// liveMatch in-flight state of a pending match. mu guards match, votes and
// committing and is never held across I/O; saveMu serializes persistence of
// this match. While committing is set no pick or vote may change match.
type liveMatch struct {
	mu         sync.Mutex
	saveMu     sync.Mutex
	match      *models.Match
	votes      map[string]string
	voteEndsAt time.Time
	committing commitKind
}

func (s *MatchmakingService) track(m *models.Match) *liveMatch {
	lm := &liveMatch{match: m.Clone(), votes: make(map[string]string)}
	s.liveMu.Lock()
	s.live[m.ID] = lm
	s.liveMu.Unlock()
	return lm
}

func (s *MatchmakingService) lookupLive(id string) *liveMatch {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	return s.live[id]
}

func (s *MatchmakingService) untrack(id string) {
	s.liveMu.Lock()
	delete(s.live, id)
	s.liveMu.Unlock()
	s.timers.Cancel(voteTimerKey(id))
	s.timers.Cancel(draftTimerKey(id))
}

// persist saves the latest state of lm.
func (s *MatchmakingService) persist(ctx context.Context, lm *liveMatch) error {
	lm.saveMu.Lock()
	defer lm.saveMu.Unlock()

	lm.mu.Lock()
	snap := lm.match.Clone()
	lm.mu.Unlock()

	if err := s.matches.SaveMatch(ctx, snap); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return ErrConcurrentUpdate
		}
		return err
	}

	lm.mu.Lock()
	lm.match.Version = snap.Version
	lm.mu.Unlock()
	return nil
}

// commit stores next as the new state of lm. lm.match is replaced only once
// the store accepts it.
func (s *MatchmakingService) commit(ctx context.Context, lm *liveMatch, next *models.Match) error {
	lm.saveMu.Lock()
	defer lm.saveMu.Unlock()

	lm.mu.Lock()
	next.Version = lm.match.Version
	lm.mu.Unlock()

	if err := s.matches.SaveMatch(ctx, next); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return ErrConcurrentUpdate
		}
		return err
	}

	lm.mu.Lock()
	lm.match = next.Clone()
	lm.mu.Unlock()
	return nil
}

// notLiveError explains why a match id has no in-flight vote or draft.
func (s *MatchmakingService) notLiveError(ctx context.Context, id string, closed error) error {
	m, err := s.matches.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrMatchNotFound
	}
	return closed
}

func voteTimerKey(matchID string) string {
	return "vote:" + matchID
}

// openMapVoteLocked arms the vote window. Caller holds lm.mu.
func (s *MatchmakingService) openMapVoteLocked(lm *liveMatch) time.Time {
	return s.armVoteLocked(lm, s.opts.MapVoteDuration)
}

// armVoteLocked (re)schedules resolution of lm's vote after d. Caller holds lm.mu.
func (s *MatchmakingService) armVoteLocked(lm *liveMatch, d time.Duration) time.Time {
	id := lm.match.ID
	endsAt := s.timers.Rearm(voteTimerKey(id), d, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.FormationTimeout)
		defer cancel()
		err := s.ResolveMapVote(ctx, id)
		if err != nil && !errors.Is(err, ErrVoteAlreadyResolved) && !errors.Is(err, ErrVotingClosed) {
			s.logger.Error("Map vote expiry failed", zap.String("matchId", id), zap.Error(err))
		}
	})
	lm.voteEndsAt = endsAt
	return endsAt
}

// CastVote records or moves playerID's vote. Only connected players vote; when
// every connected real player has voted the vote resolves early.
func (s *MatchmakingService) CastVote(ctx context.Context, matchID, playerID, mapName string) error {
	lm := s.lookupLive(matchID)
	if lm == nil {
		return s.notLiveError(ctx, matchID, ErrVotingClosed)
	}

	lm.mu.Lock()
	_, err := checkVoteLocked(lm, playerID, mapName)
	lm.mu.Unlock()
	if err != nil {
		return err
	}

	if !s.events.IsConnected(playerID) {
		return ErrNotConnected
	}

	lm.mu.Lock()
	idx, err := checkVoteLocked(lm, playerID, mapName)
	if err != nil {
		lm.mu.Unlock()
		return err
	}
	m := lm.match
	if prev, ok := lm.votes[playerID]; ok {
		if prev == mapName {
			lm.mu.Unlock()
			return nil
		}
		for i := range m.MapCandidates {
			if m.MapCandidates[i].Name == prev {
				m.MapCandidates[i].Votes--
			}
		}
	}
	m.MapCandidates[idx].Votes++
	lm.votes[playerID] = mapName

	update := events.NewMapVoteUpdate(m, lm.voteEndsAt)
	players := m.RealPlayerIDs()
	votes := maps.Clone(lm.votes)
	lm.mu.Unlock()

	s.events.ToMatch(matchID, update)

	if s.allConnectedVoted(players, votes) {
		err := s.resolveMapVote(ctx, matchID, "early")
		if err != nil && !errors.Is(err, ErrVoteAlreadyResolved) {
			s.logger.Error("Early map vote resolution failed", zap.String("matchId", matchID), zap.Error(err))
		}
	}
	return nil
}

// checkVoteLocked index of mapName among the candidates if playerID may vote
// for it. Caller holds lm.mu.
func checkVoteLocked(lm *liveMatch, playerID, mapName string) (int, error) {
	m := lm.match
	if lm.committing != commitNone || m.SelectedMap != nil || m.Status != models.MatchStatusPending ||
		(m.Draft != nil && m.Draft.IsActive) {
		return -1, ErrVotingClosed
	}
	if m.Player(models.Real(playerID)) == nil {
		return -1, ErrNotInMatch
	}
	for i, c := range m.MapCandidates {
		if c.Name == mapName {
			return i, nil
		}
	}
	return -1, ErrInvalidMap
}

// allConnectedVoted may reach the cluster online set; never call with a
// liveMatch lock held.
func (s *MatchmakingService) allConnectedVoted(players []string, votes map[string]string) bool {
	connected := 0
	for _, id := range players {
		if !s.events.IsConnected(id) {
			continue
		}
		connected++
		if _, ok := votes[id]; !ok {
			return false
		}
	}
	return connected > 0
}

// ResolveMapVote selects the map, marks the match ready and provisions voice
// channels once. A second call returns ErrVoteAlreadyResolved and does nothing.
func (s *MatchmakingService) ResolveMapVote(ctx context.Context, matchID string) error {
	return s.resolveMapVote(ctx, matchID, "expired")
}

func (s *MatchmakingService) resolveMapVote(ctx context.Context, matchID, trigger string) error {
	lm := s.lookupLive(matchID)
	if lm == nil {
		m, err := s.matches.FindByID(ctx, matchID)
		if err != nil {
			return err
		}
		if m == nil {
			return ErrMatchNotFound
		}
		if m.SelectedMap != nil {
			return ErrVoteAlreadyResolved
		}
		return ErrVotingClosed
	}

	lm.mu.Lock()
	switch {
	case lm.match.SelectedMap != nil || lm.committing == commitResolve:
		lm.mu.Unlock()
		return ErrVoteAlreadyResolved
	case lm.match.Draft != nil && lm.match.Draft.IsActive:
		lm.mu.Unlock()
		return ErrVotingClosed
	case lm.committing == commitCancel:
		// resolve again if the cancel does not go through
		s.armVoteLocked(lm, voteRetryDelay)
		lm.mu.Unlock()
		return ErrVotingClosed
	}
	next := lm.match.Clone()
	if err := next.Transition(models.MatchStatusReady, s.clock.Now()); err != nil {
		lm.mu.Unlock()
		return ErrInvalidTransition
	}
	winner := s.pickWinner(next.MapCandidates)
	next.SelectedMap = &winner
	lm.committing = commitResolve
	lm.mu.Unlock()

	if err := s.commit(ctx, lm, next); err != nil {
		lm.mu.Lock()
		lm.committing = commitNone
		retryAt := s.armVoteLocked(lm, voteRetryDelay)
		lm.mu.Unlock()
		s.logger.Warn("Map vote not saved, retrying",
			zap.String("matchId", matchID),
			zap.Time("retryAt", retryAt),
			zap.Error(err))
		return fmt.Errorf("failed to save selected map: %w", err)
	}
	s.timers.Cancel(voteTimerKey(matchID))

	s.logger.Info("Map selected",
		zap.String("matchId", matchID),
		zap.String("map", winner),
		zap.String("trigger", trigger))
	s.metrics.MapVoteResolved(trigger)

	if voice := s.provisionVoice(ctx, lm); voice != nil {
		lm.mu.Lock()
		lm.match.Voice = voice
		lm.mu.Unlock()
		if err := s.persist(ctx, lm); err != nil {
			s.logger.Error("Failed to persist voice channels", zap.String("matchId", matchID), zap.Error(err))
		}
	}

	lm.mu.Lock()
	snap := lm.match.Clone()
	lm.mu.Unlock()
	s.untrack(matchID)

	s.events.ToMatch(matchID, events.NewMapSelected(snap))
	s.events.ToMatch(matchID, events.NewMatchStatus(snap))
	return nil
}

// pickWinner plurality; ties, including nobody voting, break uniformly at random.
func (s *MatchmakingService) pickWinner(candidates []models.MapCandidate) string {
	best := -1
	var tied []string
	for _, c := range candidates {
		switch {
		case c.Votes > best:
			best = c.Votes
			tied = []string{c.Name}
		case c.Votes == best:
			tied = append(tied, c.Name)
		}
	}
	if len(tied) == 0 {
		return ""
	}
	return tied[s.rng.IntN(len(tied))]
}

// provisionVoice at most once per match across every engine instance sharing
// the guard. Failures are logged and the match proceeds without voice.
func (s *MatchmakingService) provisionVoice(ctx context.Context, lm *liveMatch) *models.VoiceChannels {
	if s.voice == nil {
		return nil
	}

	lm.mu.Lock()
	snap := lm.match.Clone()
	lm.mu.Unlock()

	first, err := s.once.Once(ctx, "voice:"+snap.ID, voiceGuardTTL)
	if err != nil {
		s.logger.Warn("Voice guard unavailable, skipping voice channels", zap.String("matchId", snap.ID), zap.Error(err))
		return nil
	}
	if !first {
		return nil
	}

	team1 := realIDs(snap.TeamRefs(models.Team1))
	team2 := realIDs(snap.TeamRefs(models.Team2))
	voice, err := s.voice.ProvisionChannels(ctx, snap.ID, team1, team2, snap.RankedMode)
	s.metrics.VoiceProvisioned(err == nil && voice != nil)
	if err != nil {
		s.logger.Warn("Voice provisioning failed", zap.String("matchId", snap.ID), zap.Error(err))
		return nil
	}
	return voice
}

func realIDs(refs []models.PlayerRef) []string {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.IsReal() {
			ids = append(ids, ref.ID)
		}
	}
	return ids
}

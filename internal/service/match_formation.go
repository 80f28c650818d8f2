package service

import (
	"context"
	"errors"
	"time"

	"github.com/elliotchance/pie/v2"
	"github.com/google/uuid"
	"github.com/nomercy/ranked-backend/internal/events"
	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/nomercy/ranked-backend/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const presenceConcurrency = 8

func entryIDs(entries []models.QueueEntry) []string {
	return pie.Map(entries, func(e models.QueueEntry) string { return e.PlayerID })
}

// formLocked takes a FIFO snapshot, ejects the latest joiner on an odd count,
// leaves any excess waiting and reserves the rest for an async formation.
// Caller holds the key lock.
func (s *MatchmakingService) formLocked(key models.QueueKey, mode models.RankedMode, format int, trigger string) {
	snapshot := s.store.Peek(key)
	if len(snapshot) < mode.MinPlayers() {
		return
	}

	if len(snapshot)%2 == 1 {
		last := snapshot[len(snapshot)-1]
		if _, err := s.store.Dequeue(key, last.PlayerID); err == nil {
			s.logger.Info("Ejected latest joiner for parity",
				zap.String("queue", key.String()),
				zap.String("playerId", last.PlayerID))
			s.notifyRemoved(last.PlayerID, key, models.RemovalParity)
		}
		snapshot = snapshot[:len(snapshot)-1]
	}

	teamSize, ok := mode.FormatFor(len(snapshot))
	if !ok {
		return
	}
	if format > 0 && format < teamSize {
		teamSize = format
	}

	selected := snapshot[:teamSize*2]
	reserved := s.store.Reserve(key, entryIDs(selected))

	s.logger.Info("Forming match",
		zap.String("queue", key.String()),
		zap.String("trigger", trigger),
		zap.Int("teamSize", teamSize),
		zap.Int("waiting", s.store.Size(key)))

	s.wg.Add(1)
	go s.runFormation(key, mode, teamSize, reserved)

	// players left behind may warrant their own countdown
	s.evaluateLocked(key, mode, true)
}

// runFormation re-validates, composes and persists. Entries not consumed are
// either released (ejected) or restored to the live queue.
func (s *MatchmakingService) runFormation(key models.QueueKey, mode models.RankedMode, teamSize int, entries []models.QueueEntry) {
	defer s.wg.Done()

	started := s.clock.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.FormationTimeout)
	defer cancel()

	valid, rejected, unchecked := s.validatePresence(ctx, entries)
	for _, e := range rejected {
		s.logger.Info("Presence check failed at formation",
			zap.String("queue", key.String()),
			zap.String("playerId", e.PlayerID))
		s.notifyRemoved(e.PlayerID, key, models.RemovalPreconditionFailed)
	}
	s.store.Release(entryIDs(rejected))
	returning := unchecked

	// parity ejection only once a match is certain
	size, ok := mode.FormatFor(len(valid))
	if !ok {
		s.logger.Info("Formation aborted, not enough valid players",
			zap.String("queue", key.String()),
			zap.Int("valid", len(valid)),
			zap.Error(ErrInsufficientPlayers))
		s.metrics.FormationAborted(key.RankedMode, key.GameMode, ErrInsufficientPlayers.Reason)
		// errored checks wait out a countdown before the next attempt
		s.restore(key, mode, append(returning, valid...), len(returning) == 0)
		return
	}

	if len(valid)%2 == 1 {
		last := valid[len(valid)-1]
		valid = valid[:len(valid)-1]
		s.store.Release([]string{last.PlayerID})
		s.notifyRemoved(last.PlayerID, key, models.RemovalParity)
	}
	if size > teamSize {
		size = teamSize
	}
	if len(valid) > size*2 {
		returning = append(returning, valid[size*2:]...)
		valid = valid[:size*2]
	}

	m, err := s.buildMatch(ctx, key, mode, size, valid)
	if err == nil {
		err = s.matches.CreateMatch(ctx, m)
	}
	if err != nil {
		var conflict *repository.ConflictError
		if errors.As(err, &conflict) {
			blocked := make(map[string]bool, len(conflict.PlayerIDs))
			for _, id := range conflict.PlayerIDs {
				blocked[id] = true
				s.notifyRemoved(id, key, models.RemovalPreconditionFailed)
			}
			s.store.Release(conflict.PlayerIDs)
			valid = pie.Filter(valid, func(e models.QueueEntry) bool { return !blocked[e.PlayerID] })
		}

		s.logger.Error("Failed to create match, restoring queue",
			zap.String("queue", key.String()),
			zap.Error(err))
		s.metrics.FormationAborted(key.RankedMode, key.GameMode, "persistence")
		s.restore(key, mode, append(returning, valid...), false)
		return
	}

	s.store.Release(entryIDs(valid))
	s.metrics.MatchFormed(key.RankedMode, key.GameMode, size, false)
	s.metrics.ObserveFormation(key.RankedMode, key.GameMode, s.clock.Since(started))
	s.logger.Info("Match created",
		zap.String("matchId", m.ID),
		zap.String("queue", key.String()),
		zap.Int("teamSize", size))

	s.announceMatch(m)
	s.restore(key, mode, returning, true)
}

// validatePresence checks PC players concurrently. Console players pass.
// unchecked holds players whose check errored; they go back to the queue.
func (s *MatchmakingService) validatePresence(ctx context.Context, entries []models.QueueEntry) (valid, rejected, unchecked []models.QueueEntry) {
	if s.presence == nil {
		return entries, nil, nil
	}

	type outcome struct {
		ok  bool
		err error
	}
	results := make([]outcome, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(presenceConcurrency)
	for i, e := range entries {
		if e.Platform != models.PlatformPC {
			results[i] = outcome{ok: true}
			continue
		}
		g.Go(func() error {
			res, err := s.presence.CheckPresence(gctx, e.PlayerID)
			results[i] = outcome{ok: err == nil && res.OK(), err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, e := range entries {
		switch {
		case results[i].err != nil:
			s.logger.Warn("Presence check errored at formation",
				zap.String("playerId", e.PlayerID),
				zap.Error(results[i].err))
			unchecked = append(unchecked, e)
		case results[i].ok:
			valid = append(valid, e)
		default:
			rejected = append(rejected, e)
		}
	}
	return valid, rejected, unchecked
}

func (s *MatchmakingService) buildMatch(ctx context.Context, key models.QueueKey, mode models.RankedMode, teamSize int, entries []models.QueueEntry) (*models.Match, error) {
	team1, team2, err := s.composer.Compose(ctx, key, entryIDs(entries), teamSize)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.QueueEntry, len(entries))
	for _, e := range entries {
		byID[e.PlayerID] = e
	}

	now := s.clock.Now()
	m := &models.Match{
		ID:         uuid.NewString(),
		GameMode:   key.GameMode,
		RankedMode: key.RankedMode,
		TeamSize:   teamSize,
		Status:     models.MatchStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	sides := []struct {
		team models.Team
		ids  []string
	}{
		{models.Team1, team1},
		{models.Team2, team2},
	}
	for _, side := range sides {
		refs := pie.Map(side.ids, models.Real)
		captain := chooseCaptain(refs, func(ref models.PlayerRef) bool { return byID[ref.ID].CaptainRestricted })
		for _, ref := range refs {
			e := byID[ref.ID]
			m.Players = append(m.Players, models.MatchPlayer{
				Ref:          ref,
				DisplayName:  e.DisplayName,
				AvatarURL:    e.AvatarURL,
				RankPoints:   e.RankPoints,
				RankDivision: e.RankDivision,
				Platform:     e.Platform,
				Team:         side.team,
				IsCaptain:    ref == captain,
			})
		}
	}

	m.HostTeam = s.coinFlip()
	gm, _ := mode.GameMode(key.GameMode)
	m.MapCandidates = s.drawMapCandidates(gm)
	return m, nil
}

// chooseCaptain first real, unrestricted player; else first real; else first.
func chooseCaptain(refs []models.PlayerRef, restricted func(models.PlayerRef) bool) models.PlayerRef {
	for _, ref := range refs {
		if ref.IsReal() && !restricted(ref) {
			return ref
		}
	}
	for _, ref := range refs {
		if ref.IsReal() {
			return ref
		}
	}
	if len(refs) == 0 {
		return models.PlayerRef{}
	}
	return refs[0]
}

func (s *MatchmakingService) coinFlip() models.Team {
	if s.rng.IntN(2) == 0 {
		return models.Team1
	}
	return models.Team2
}

// drawMapCandidates one candidate for single-map game modes, otherwise three
// drawn without replacement.
func (s *MatchmakingService) drawMapCandidates(gm models.GameMode) []models.MapCandidate {
	maps := append([]string(nil), gm.Maps...)
	count := 3
	if len(maps) <= 1 {
		count = 1
	}
	s.rng.Shuffle(len(maps), func(i, j int) { maps[i], maps[j] = maps[j], maps[i] })
	if count > len(maps) {
		count = len(maps)
	}
	return pie.Map(maps[:count], func(name string) models.MapCandidate {
		return models.MapCandidate{Name: name}
	})
}

// restore returns entries to the live queue, re-evaluates and re-broadcasts.
func (s *MatchmakingService) restore(key models.QueueKey, mode models.RankedMode, entries []models.QueueEntry, allowImmediate bool) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.store.Restore(key, entries)
	s.evaluateLocked(key, mode, allowImmediate)
	s.broadcastQueueLocked(key, mode)
}

// announceMatch tracks the pending match, sends each player their match-found
// event and opens either the draft or the map vote.
func (s *MatchmakingService) announceMatch(m *models.Match) {
	lm := s.track(m)
	s.events.JoinMatch(m.ID, m.RealPlayerIDs())

	lm.mu.Lock()
	var voteEndsAt *time.Time
	if lm.match.Draft != nil && lm.match.Draft.IsActive {
		s.armDraftTurnLocked(lm)
	} else {
		endsAt := s.openMapVoteLocked(lm)
		voteEndsAt = &endsAt
	}
	snap := lm.match.Clone()
	lm.mu.Unlock()

	for _, p := range snap.Players {
		if p.Ref.IsReal() {
			s.events.ToUser(p.Ref.ID, events.NewMatchFound(snap, p.Ref, voteEndsAt))
		}
	}

	if voteEndsAt != nil {
		s.events.ToMatch(snap.ID, events.NewMapVoteUpdate(snap, *voteEndsAt))
	} else {
		s.publishDraft(lm)
	}
}

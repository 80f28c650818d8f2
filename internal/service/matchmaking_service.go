package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nomercy/ranked-backend/internal/events"
	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/nomercy/ranked-backend/pkg/metrics"
	"github.com/nomercy/ranked-backend/pkg/timer"
	"go.uber.org/zap"
)

// Options engine timings.
type Options struct {
	CountdownDuration time.Duration
	DraftTurnDuration time.Duration
	MapVoteDuration   time.Duration
	QueueTimeout      time.Duration
	SweepInterval     time.Duration
	FormationTimeout  time.Duration
	HistoryWindow     time.Duration
}

func DefaultOptions() Options {
	return Options{
		CountdownDuration: 120 * time.Second,
		DraftTurnDuration: 10 * time.Second,
		MapVoteDuration:   30 * time.Second,
		QueueTimeout:      DefaultQueueTimeout,
		SweepInterval:     30 * time.Second,
		FormationTimeout:  10 * time.Second,
		HistoryWindow:     DefaultHistoryWindow,
	}
}

// Dependencies collaborators of the engine. Presence, Voice, History and Once
// are optional.
type Dependencies struct {
	Matches  MatchRepository
	Rankings RankingRepository
	Bans     BanRepository
	Presence PresenceChecker
	Voice    VoiceProvisioner
	History  TeamHistory
	Once     OnceGuard
	Events   EventPublisher
	Metrics  *metrics.Matchmaking
	Clock    clock.Clock
	Rand     Randomizer
	Logger   *zap.Logger
}

type countdown struct {
	timer models.CountdownTimer
	seq   uint64
}

// MatchmakingService the single authority over queues, countdowns and the
// draft and map-vote state of matches still pending.
type MatchmakingService struct {
	matches  MatchRepository
	rankings RankingRepository
	bans     BanRepository
	presence PresenceChecker
	voice    VoiceProvisioner
	once     OnceGuard
	events   EventPublisher
	metrics  *metrics.Matchmaking
	clock    clock.Clock
	rng      Randomizer
	logger   *zap.Logger

	modes    map[string]models.RankedMode
	opts     Options
	store    *QueueStore
	composer *TeamComposer
	elo      *ELOService
	timers   *timer.Registry

	keyMu    sync.Mutex
	keyLocks map[models.QueueKey]*sync.Mutex

	cdMu       sync.Mutex
	countdowns map[models.QueueKey]countdown
	cdSeq      uint64

	liveMu sync.Mutex
	live   map[string]*liveMatch

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewMatchmakingService(deps Dependencies, modes []models.RankedMode, opts Options) *MatchmakingService {
	defaults := DefaultOptions()
	if opts.CountdownDuration <= 0 {
		opts.CountdownDuration = defaults.CountdownDuration
	}
	if opts.DraftTurnDuration <= 0 {
		opts.DraftTurnDuration = defaults.DraftTurnDuration
	}
	if opts.MapVoteDuration <= 0 {
		opts.MapVoteDuration = defaults.MapVoteDuration
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaults.SweepInterval
	}
	if opts.FormationTimeout <= 0 {
		opts.FormationTimeout = defaults.FormationTimeout
	}

	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	if deps.Once == nil {
		deps.Once = newLocalOnce()
	}
	rng := deps.Rand
	if rng == nil {
		rng = NewRandomizer()
	}
	rng = &lockedRand{r: rng}
	history := deps.History
	if history == nil {
		history = NewMemoryTeamHistory(deps.Clock, DefaultHistorySize, opts.HistoryWindow)
	}

	byName := make(map[string]models.RankedMode, len(modes))
	for _, m := range modes {
		byName[m.Name] = m
	}

	logger := deps.Logger.Named("matchmaking")
	return &MatchmakingService{
		matches:    deps.Matches,
		rankings:   deps.Rankings,
		bans:       deps.Bans,
		presence:   deps.Presence,
		voice:      deps.Voice,
		once:       deps.Once,
		events:     deps.Events,
		metrics:    deps.Metrics,
		clock:      deps.Clock,
		rng:        rng,
		logger:     logger,
		modes:      byName,
		opts:       opts,
		store:      NewQueueStore(opts.QueueTimeout),
		composer:   NewTeamComposer(history, rng, deps.Clock, opts.HistoryWindow, logger),
		elo:        NewELOService(),
		timers:     timer.NewRegistry(deps.Clock),
		keyLocks:   make(map[models.QueueKey]*sync.Mutex),
		countdowns: make(map[models.QueueKey]countdown),
		live:       make(map[string]*liveMatch),
		stopChan:   make(chan struct{}),
	}
}

// Start launches the queue timeout sweeper.
func (s *MatchmakingService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting MatchmakingService", zap.Duration("sweepInterval", s.opts.SweepInterval))

	s.wg.Add(1)
	go s.sweepLoop()
}

// Stop halts the sweeper, cancels every timer and waits for in-flight formations.
func (s *MatchmakingService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.timers.Stop()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping MatchmakingService")
	close(s.stopChan)
	s.timers.Stop()
	s.wg.Wait()
	s.logger.Info("MatchmakingService stopped")
}

func (s *MatchmakingService) sweepLoop() {
	defer s.wg.Done()

	ticker := s.clock.Ticker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepTimeouts()
		case <-s.stopChan:
			return
		}
	}
}

// Modes configured ranked modes.
func (s *MatchmakingService) Modes() []models.RankedMode {
	out := make([]models.RankedMode, 0, len(s.modes))
	for _, m := range s.modes {
		out = append(out, m)
	}
	return out
}

func (s *MatchmakingService) keyLock(key models.QueueKey) *sync.Mutex {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	l, ok := s.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[key] = l
	}
	return l
}

func (s *MatchmakingService) resolveMode(rankedMode, gameMode string) (models.RankedMode, models.GameMode, error) {
	mode, ok := s.modes[rankedMode]
	if !ok || !mode.Enabled || mode.MinPlayers() == 0 {
		return models.RankedMode{}, models.GameMode{}, ErrModeUnavailable
	}
	gm, ok := mode.GameMode(gameMode)
	if !ok || len(gm.Maps) == 0 {
		return models.RankedMode{}, models.GameMode{}, ErrModeUnavailable
	}
	return mode, gm, nil
}

// JoinRequest a player asking to enter a ranked queue.
type JoinRequest struct {
	PlayerID    string
	DisplayName string
	AvatarURL   string
	Platform    models.Platform
	GameMode    string
	RankedMode  string
}

// Join validates the player and appends them to the queue. Formation may be
// triggered as a side effect.
func (s *MatchmakingService) Join(ctx context.Context, req JoinRequest) (events.QueueStatus, error) {
	if req.PlayerID == "" {
		return events.QueueStatus{}, ErrInvalidInput
	}
	mode, _, err := s.resolveMode(req.RankedMode, req.GameMode)
	if err != nil {
		return events.QueueStatus{}, err
	}
	key := models.QueueKey{GameMode: req.GameMode, RankedMode: req.RankedMode}
	now := s.clock.Now()

	if s.bans != nil {
		ban, err := s.bans.ActiveBan(ctx, req.PlayerID, now)
		if err != nil {
			return events.QueueStatus{}, fmt.Errorf("failed to check ban: %w", err)
		}
		if ban != nil {
			return events.QueueStatus{}, ErrBanActive.WithData(map[string]any{
				"expiresAt": ban.ExpiresAt,
				"reason":    ban.Reason,
			})
		}
	}

	if _, queued := s.store.Locate(req.PlayerID); queued || s.store.IsReserved(req.PlayerID) {
		return events.QueueStatus{}, ErrAlreadyQueued
	}

	active, err := s.matches.HasActiveMatch(ctx, req.PlayerID)
	if err != nil {
		return events.QueueStatus{}, fmt.Errorf("failed to check active match: %w", err)
	}
	if active {
		return events.QueueStatus{}, ErrAlreadyInActiveMatch
	}

	if req.Platform == models.PlatformPC && s.presence != nil {
		result, err := s.presence.CheckPresence(ctx, req.PlayerID)
		if err != nil {
			return events.QueueStatus{}, fmt.Errorf("failed to check presence: %w", err)
		}
		if !result.OK() {
			return events.QueueStatus{}, ErrPreconditionFailed.WithData(map[string]any{"required": true})
		}
	}

	entry := models.QueueEntry{
		PlayerID:     req.PlayerID,
		DisplayName:  req.DisplayName,
		AvatarURL:    req.AvatarURL,
		Platform:     req.Platform,
		RankDivision: DivisionFor(0),
	}
	if s.rankings != nil {
		ranking, err := s.rankings.GetRanking(ctx, req.PlayerID, req.RankedMode)
		if err != nil {
			return events.QueueStatus{}, fmt.Errorf("failed to get ranking: %w", err)
		}
		if ranking != nil {
			entry.RankPoints = ranking.Points
			entry.RankDivision = DivisionFor(ranking.Points)
			entry.CaptainRestricted = ranking.CaptainRestricted(now)
		}
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	entry.JoinedAt = s.clock.Now()
	if err := s.store.Enqueue(key, entry); err != nil {
		return events.QueueStatus{}, err
	}

	s.logger.Info("Player joined queue",
		zap.String("playerId", req.PlayerID),
		zap.String("queue", key.String()),
		zap.Int("size", s.store.Size(key)))

	s.evaluateLocked(key, mode, true)
	s.broadcastQueueLocked(key, mode)
	return s.statusLocked(key, mode, req.PlayerID), nil
}

// Leave removes the player from whichever queue holds them.
func (s *MatchmakingService) Leave(ctx context.Context, playerID string) error {
	return s.removeFromQueue(playerID, models.RemovalLeft)
}

// Evict removes a queued player for a reason other than leaving. Returns false
// if the player was not queued.
func (s *MatchmakingService) Evict(playerID string, cause models.RemovalCause) bool {
	return s.removeFromQueue(playerID, cause) == nil
}

func (s *MatchmakingService) removeFromQueue(playerID string, cause models.RemovalCause) error {
	key, ok := s.store.Locate(playerID)
	if !ok {
		return ErrNotQueued
	}
	mode, ok := s.modes[key.RankedMode]
	if !ok {
		return ErrModeUnavailable
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.store.Dequeue(key, playerID); err != nil {
		return err
	}

	s.logger.Info("Player removed from queue",
		zap.String("playerId", playerID),
		zap.String("queue", key.String()),
		zap.String("cause", string(cause)))

	s.notifyRemoved(playerID, key, cause)
	s.evaluateLocked(key, mode, true)
	s.broadcastQueueLocked(key, mode)
	return nil
}

// Status the player's queue view; ok is false when they are not queued.
func (s *MatchmakingService) Status(playerID string) (events.QueueStatus, bool) {
	key, ok := s.store.Locate(playerID)
	if !ok {
		return events.QueueStatus{}, false
	}
	mode, ok := s.modes[key.RankedMode]
	if !ok {
		return events.QueueStatus{}, false
	}
	return s.statusLocked(key, mode, playerID), true
}

// QueueSnapshot status of a key as seen by someone not in it.
func (s *MatchmakingService) QueueSnapshot(rankedMode, gameMode string) (events.QueueStatus, error) {
	mode, _, err := s.resolveMode(rankedMode, gameMode)
	if err != nil {
		return events.QueueStatus{}, err
	}
	key := models.QueueKey{GameMode: gameMode, RankedMode: rankedMode}
	return s.statusLocked(key, mode, ""), nil
}

func (s *MatchmakingService) statusLocked(key models.QueueKey, mode models.RankedMode, playerID string) events.QueueStatus {
	position := 0
	if playerID != "" {
		position = s.store.Position(key, playerID)
	}
	return events.NewQueueStatus(key, mode, s.store.Size(key), position, s.countdownFor(key))
}

// evaluateLocked applies the scheduling rules for key. Caller holds the key lock.
// allowImmediate false downgrades a full pool to a countdown, used after a
// failed formation so a persistent fault cannot spin.
func (s *MatchmakingService) evaluateLocked(key models.QueueKey, mode models.RankedMode, allowImmediate bool) {
	size := s.store.Size(key)
	s.metrics.SetQueueSize(key.RankedMode, key.GameMode, size)

	switch {
	case allowImmediate && size >= mode.MaxPlayers():
		s.cancelCountdown(key)
		s.formLocked(key, mode, mode.MaxTeamSize(), "full")
	case size >= mode.MinPlayers():
		if s.countdownFor(key) == nil {
			s.armCountdown(key, mode, size)
		}
	default:
		s.cancelCountdown(key)
	}
}

func countdownTimerKey(key models.QueueKey) string {
	return "countdown:" + key.String()
}

func (s *MatchmakingService) armCountdown(key models.QueueKey, mode models.RankedMode, size int) {
	format, ok := mode.FormatFor(size)
	if !ok {
		return
	}

	s.cdMu.Lock()
	defer s.cdMu.Unlock()

	s.cdSeq++
	seq := s.cdSeq
	endsAt := s.timers.Rearm(countdownTimerKey(key), s.opts.CountdownDuration, func() {
		s.onCountdownExpired(key, seq)
	})
	s.countdowns[key] = countdown{
		timer: models.CountdownTimer{Key: key, EndsAt: endsAt, LockedFormat: format},
		seq:   seq,
	}

	s.logger.Info("Countdown started",
		zap.String("queue", key.String()),
		zap.Int("lockedFormat", format),
		zap.Time("endsAt", endsAt))
}

func (s *MatchmakingService) cancelCountdown(key models.QueueKey) {
	s.cdMu.Lock()
	defer s.cdMu.Unlock()

	if _, ok := s.countdowns[key]; !ok {
		return
	}
	delete(s.countdowns, key)
	s.timers.Cancel(countdownTimerKey(key))
	s.logger.Debug("Countdown cancelled", zap.String("queue", key.String()))
}

func (s *MatchmakingService) countdownFor(key models.QueueKey) *models.CountdownTimer {
	s.cdMu.Lock()
	defer s.cdMu.Unlock()
	cd, ok := s.countdowns[key]
	if !ok {
		return nil
	}
	t := cd.timer
	return &t
}

func (s *MatchmakingService) onCountdownExpired(key models.QueueKey, seq uint64) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.cdMu.Lock()
	cd, ok := s.countdowns[key]
	if !ok || cd.seq != seq {
		s.cdMu.Unlock()
		return
	}
	delete(s.countdowns, key)
	s.cdMu.Unlock()

	mode, ok := s.modes[key.RankedMode]
	if !ok {
		return
	}

	s.logger.Info("Countdown expired",
		zap.String("queue", key.String()),
		zap.Int("lockedFormat", cd.timer.LockedFormat),
		zap.Int("size", s.store.Size(key)))

	s.formLocked(key, mode, cd.timer.LockedFormat, "countdown")
	s.broadcastQueueLocked(key, mode)
}

// SweepTimeouts removes entries past the queue timeout and notifies each one.
func (s *MatchmakingService) SweepTimeouts() {
	now := s.clock.Now()
	for _, key := range s.store.Keys() {
		mode, ok := s.modes[key.RankedMode]
		if !ok {
			continue
		}

		lock := s.keyLock(key)
		lock.Lock()
		expired := s.store.SweepKey(key, now)
		if len(expired) > 0 {
			for _, e := range expired {
				s.notifyRemoved(e.PlayerID, key, models.RemovalTimedOut)
			}
			s.logger.Info("Queue entries timed out",
				zap.String("queue", key.String()),
				zap.Int("count", len(expired)))
			s.evaluateLocked(key, mode, true)
			s.broadcastQueueLocked(key, mode)
		}
		lock.Unlock()
	}
}

func (s *MatchmakingService) notifyRemoved(playerID string, key models.QueueKey, cause models.RemovalCause) {
	s.events.ToUser(playerID, events.NewQueueRemoved(key, cause))
	s.metrics.QueueRemoval(key.RankedMode, key.GameMode, string(cause))
}

// broadcastQueueLocked sends every queued player their own status.
func (s *MatchmakingService) broadcastQueueLocked(key models.QueueKey, mode models.RankedMode) {
	entries := s.store.Peek(key)
	cd := s.countdownFor(key)
	for i, e := range entries {
		s.events.ToUser(e.PlayerID, events.NewQueueStatus(key, mode, len(entries), i+1, cd))
	}
	s.metrics.SetQueueSize(key.RankedMode, key.GameMode, len(entries))
}

type lockedRand struct {
	mu sync.Mutex
	r  Randomizer
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *lockedRand) Shuffle(n int, swap func(i, j int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r.Shuffle(n, swap)
}

// localOnce in-process OnceGuard used when no shared guard is configured.
type localOnce struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newLocalOnce() *localOnce {
	return &localOnce{seen: make(map[string]struct{})}
}

func (o *localOnce) Once(_ context.Context, key string, _ time.Duration) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.seen[key]; ok {
		return false, nil
	}
	o.seen[key] = struct{}{}
	return true, nil
}

type nopPublisher struct{}

func (nopPublisher) ToUser(string, events.Event)  {}
func (nopPublisher) ToMatch(string, events.Event) {}
func (nopPublisher) JoinMatch(string, []string)   {}
func (nopPublisher) LeaveMatch(string)            {}
func (nopPublisher) IsConnected(string) bool      { return false }

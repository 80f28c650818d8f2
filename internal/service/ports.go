package service

import (
	"context"
	"time"

	"github.com/nomercy/ranked-backend/internal/events"
	"github.com/nomercy/ranked-backend/internal/models"
)

// PresenceResult outcome of an anti-cheat presence check.
type PresenceResult struct {
	Required  bool
	Connected bool
}

// OK reports whether the player may play.
func (r PresenceResult) OK() bool {
	return !r.Required || r.Connected
}

type PresenceChecker interface {
	CheckPresence(ctx context.Context, playerID string) (PresenceResult, error)
}

// MatchRepository match persistence. FindByID returns nil, nil when absent.
type MatchRepository interface {
	HasActiveMatch(ctx context.Context, playerID string) (bool, error)
	// CreateMatch inserts m unless one of its real players already has an
	// active match, in which case it returns a *repository.ConflictError.
	CreateMatch(ctx context.Context, m *models.Match) error
	// SaveMatch stores m if the stored version equals m.Version, then
	// increments m.Version.
	SaveMatch(ctx context.Context, m *models.Match) error
	FindByID(ctx context.Context, id string) (*models.Match, error)
	ListActive(ctx context.Context) ([]*models.Match, error)
}

// RankingRepository GetRanking returns nil, nil for unranked players.
type RankingRepository interface {
	GetRanking(ctx context.Context, playerID, rankedMode string) (*models.Ranking, error)
	ApplyResults(ctx context.Context, changes []models.PointChange) error
	SetCaptainPenalty(ctx context.Context, playerID, rankedMode string, until time.Time) error
	TopRankings(ctx context.Context, rankedMode string, limit int) ([]models.Ranking, error)
}

// BanRepository ActiveBan lifts bans that expired before now and returns nil for them.
type BanRepository interface {
	ActiveBan(ctx context.Context, playerID string, now time.Time) (*models.Ban, error)
	Create(ctx context.Context, playerID, reason string, expiresAt time.Time) (*models.Ban, error)
}

// VoiceProvisioner creates per-team voice channels. Failures are never fatal.
type VoiceProvisioner interface {
	ProvisionChannels(ctx context.Context, matchID string, team1, team2 []string, mode string) (*models.VoiceChannels, error)
}

// VoiceReleaser optionally implemented by a VoiceProvisioner to tear channels
// down when the match ends.
type VoiceReleaser interface {
	ReleaseChannels(ctx context.Context, channels *models.VoiceChannels) error
}

// TeamHistory ledger of recent pairings per queue key.
type TeamHistory interface {
	Recent(ctx context.Context, key models.QueueKey) ([]models.TeamHistoryRecord, error)
	Record(ctx context.Context, key models.QueueKey, rec models.TeamHistoryRecord) error
}

// OnceGuard Once returns true for the first caller of key within ttl.
type OnceGuard interface {
	Once(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// EventPublisher realtime fan-out keyed by user or match room.
type EventPublisher interface {
	ToUser(userID string, evt events.Event)
	ToMatch(matchID string, evt events.Event)
	JoinMatch(matchID string, userIDs []string)
	LeaveMatch(matchID string)
	IsConnected(userID string) bool
}

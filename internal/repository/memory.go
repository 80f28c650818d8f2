package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nomercy/ranked-backend/internal/models"
)

// MemoryMatchRepository in-process match store for local runs and tests.
type MemoryMatchRepository struct {
	mu      sync.Mutex
	matches map[string]*models.Match
}

func NewMemoryMatchRepository() *MemoryMatchRepository {
	return &MemoryMatchRepository{matches: make(map[string]*models.Match)}
}

func (r *MemoryMatchRepository) HasActiveMatch(_ context.Context, playerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked(playerID), nil
}

func (r *MemoryMatchRepository) activeLocked(playerID string) bool {
	for _, m := range r.matches {
		if !m.Status.IsActive() {
			continue
		}
		if m.Player(models.Real(playerID)) != nil {
			return true
		}
	}
	return false
}

func (r *MemoryMatchRepository) CreateMatch(_ context.Context, m *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var conflicts []string
	for _, id := range m.RealPlayerIDs() {
		if r.activeLocked(id) {
			conflicts = append(conflicts, id)
		}
	}
	if len(conflicts) > 0 {
		return &ConflictError{PlayerIDs: conflicts}
	}

	r.matches[m.ID] = m.Clone()
	return nil
}

func (r *MemoryMatchRepository) SaveMatch(_ context.Context, m *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.matches[m.ID]
	if !ok || stored.Version != m.Version {
		return ErrVersionConflict
	}

	m.Version++
	r.matches[m.ID] = m.Clone()
	return nil
}

func (r *MemoryMatchRepository) FindByID(_ context.Context, id string) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.matches[id]
	if !ok {
		return nil, nil
	}
	return m.Clone(), nil
}

func (r *MemoryMatchRepository) ListActive(_ context.Context) ([]*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Match
	for _, m := range r.matches {
		if m.Status.IsActive() {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type rankingKey struct {
	playerID   string
	rankedMode string
}

// MemoryRankingRepository in-process ranking store.
type MemoryRankingRepository struct {
	mu       sync.Mutex
	rankings map[rankingKey]*models.Ranking
}

func NewMemoryRankingRepository() *MemoryRankingRepository {
	return &MemoryRankingRepository{rankings: make(map[rankingKey]*models.Ranking)}
}

func (r *MemoryRankingRepository) GetRanking(_ context.Context, playerID, rankedMode string) (*models.Ranking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ranking, ok := r.rankings[rankingKey{playerID, rankedMode}]
	if !ok {
		return nil, nil
	}
	c := *ranking
	return &c, nil
}

// Put seeds or replaces a ranking.
func (r *MemoryRankingRepository) Put(ranking models.Ranking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rankings[rankingKey{ranking.PlayerID, ranking.RankedMode}] = &ranking
}

func (r *MemoryRankingRepository) ApplyResults(_ context.Context, changes []models.PointChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range changes {
		key := rankingKey{c.PlayerID, c.RankedMode}
		ranking, ok := r.rankings[key]
		if !ok {
			ranking = &models.Ranking{PlayerID: c.PlayerID, RankedMode: c.RankedMode}
			r.rankings[key] = ranking
		}
		ranking.Points += c.Delta
		if ranking.Points < 0 {
			ranking.Points = 0
		}
		if c.Won {
			ranking.Wins++
		} else {
			ranking.Losses++
		}
		ranking.MatchesPlayed++
		ranking.UpdatedAt = time.Now()
	}
	return nil
}

func (r *MemoryRankingRepository) TopRankings(_ context.Context, rankedMode string, limit int) ([]models.Ranking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.Ranking
	for _, ranking := range r.rankings {
		if ranking.RankedMode == rankedMode && ranking.MatchesPlayed > 0 {
			out = append(out, *ranking)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRankingRepository) SetCaptainPenalty(_ context.Context, playerID, rankedMode string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rankingKey{playerID, rankedMode}
	ranking, ok := r.rankings[key]
	if !ok {
		ranking = &models.Ranking{PlayerID: playerID, RankedMode: rankedMode}
		r.rankings[key] = ranking
	}
	ranking.CaptainPenaltyUntil = &until
	return nil
}

// MemoryBanRepository in-process ban store.
type MemoryBanRepository struct {
	mu   sync.Mutex
	bans []*models.Ban
}

func NewMemoryBanRepository() *MemoryBanRepository {
	return &MemoryBanRepository{}
}

func (r *MemoryBanRepository) ActiveBan(_ context.Context, playerID string, now time.Time) (*models.Ban, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var active *models.Ban
	for _, b := range r.bans {
		if b.PlayerID != playerID || b.Lifted {
			continue
		}
		if b.Expired(now) {
			b.Lifted = true
			continue
		}
		if active == nil || b.ExpiresAt.After(active.ExpiresAt) {
			active = b
		}
	}
	if active == nil {
		return nil, nil
	}
	c := *active
	return &c, nil
}

func (r *MemoryBanRepository) Create(_ context.Context, playerID, reason string, expiresAt time.Time) (*models.Ban, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ban := &models.Ban{
		ID:        uuid.NewString(),
		PlayerID:  playerID,
		Reason:    reason,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	r.bans = append(r.bans, ban)
	c := *ban
	return &c, nil
}

package service

import (
	"math"

	"github.com/nomercy/ranked-backend/internal/models"
)

// ELOService settles ranked points for completed team matches.
type ELOService struct{}

func NewELOService() *ELOService {
	return &ELOService{}
}

// GetKFactor returns the K-factor for a player based on matches played:
// - New players (< 10 matches): K=40
// - Intermediate players (10-19 matches): K=32
// - Established players (>= 20 matches): K=24
func (s *ELOService) GetKFactor(matchCount int) float64 {
	if matchCount < 10 {
		return 40.0
	} else if matchCount < 20 {
		return 32.0
	}
	return 24.0
}

// SettleMatch computes one PointChange per real player. Each team is rated by
// the average points of its real members; synthetic players are ignored.
// rankings maps player id to the player's current ranking (missing means unranked).
func (s *ELOService) SettleMatch(m *models.Match, rankings map[string]*models.Ranking, winner models.Team) []models.PointChange {
	avg := map[models.Team]float64{
		models.Team1: s.teamAverage(m, rankings, models.Team1),
		models.Team2: s.teamAverage(m, rankings, models.Team2),
	}

	changes := make([]models.PointChange, 0, len(m.Players))
	for _, p := range m.Players {
		if !p.Ref.IsReal() || !p.Team.Valid() {
			continue
		}

		matches := 0
		if r := rankings[p.Ref.ID]; r != nil {
			matches = r.MatchesPlayed
		}

		won := p.Team == winner
		score := 0.0
		if won {
			score = 1.0
		}
		expected := s.expectedScore(avg[p.Team], avg[p.Team.Other()])
		delta := int(math.Round(s.GetKFactor(matches) * (score - expected)))

		changes = append(changes, models.PointChange{
			PlayerID:   p.Ref.ID,
			RankedMode: m.RankedMode,
			Delta:      delta,
			Won:        won,
		})
	}
	return changes
}

func (s *ELOService) teamAverage(m *models.Match, rankings map[string]*models.Ranking, team models.Team) float64 {
	total, n := 0, 0
	for _, p := range m.Players {
		if p.Team != team || !p.Ref.IsReal() {
			continue
		}
		if r := rankings[p.Ref.ID]; r != nil {
			total += r.Points
		} else {
			total += p.RankPoints
		}
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(total) / float64(n)
}

// expectedScore win probability of a rating against another.
func (s *ELOService) expectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400.0))
}

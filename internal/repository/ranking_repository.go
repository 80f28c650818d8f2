package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/nomercy/ranked-backend/pkg/database"
)

type RankingRepository struct {
	db *database.DB
}

func NewRankingRepository(db *database.DB) *RankingRepository {
	return &RankingRepository{db: db}
}

// GetRanking nil, nil for a player without a ranking in the mode.
func (r *RankingRepository) GetRanking(ctx context.Context, playerID, rankedMode string) (*models.Ranking, error) {
	query := `
		SELECT player_id, ranked_mode, points, wins, losses, matches_played,
		       captain_penalty_until, updated_at
		FROM rankings
		WHERE player_id = $1 AND ranked_mode = $2
	`

	ranking := &models.Ranking{}
	err := r.db.QueryRowContext(ctx, query, playerID, rankedMode).Scan(
		&ranking.PlayerID,
		&ranking.RankedMode,
		&ranking.Points,
		&ranking.Wins,
		&ranking.Losses,
		&ranking.MatchesPlayed,
		&ranking.CaptainPenaltyUntil,
		&ranking.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ranking: %w", err)
	}
	return ranking, nil
}

// ApplyResults adds every delta in one transaction. Points never drop below zero.
func (r *RankingRepository) ApplyResults(ctx context.Context, changes []models.PointChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO rankings (player_id, ranked_mode, points, wins, losses, matches_played)
		VALUES ($1, $2, GREATEST($3, 0), $4, $5, 1)
		ON CONFLICT (player_id, ranked_mode)
		DO UPDATE SET
			points = GREATEST(rankings.points + $3, 0),
			wins = rankings.wins + $4,
			losses = rankings.losses + $5,
			matches_played = rankings.matches_played + 1,
			updated_at = NOW()
	`
	for _, c := range changes {
		win, loss := 0, 1
		if c.Won {
			win, loss = 1, 0
		}
		if _, err := tx.ExecContext(ctx, query, c.PlayerID, c.RankedMode, c.Delta, win, loss); err != nil {
			return fmt.Errorf("failed to apply result for %s: %w", c.PlayerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

// SetCaptainPenalty bars a player from captaincy in a mode until the given time.
func (r *RankingRepository) SetCaptainPenalty(ctx context.Context, playerID, rankedMode string, until time.Time) error {
	query := `
		INSERT INTO rankings (player_id, ranked_mode, captain_penalty_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (player_id, ranked_mode)
		DO UPDATE SET captain_penalty_until = EXCLUDED.captain_penalty_until, updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, playerID, rankedMode, until); err != nil {
		return fmt.Errorf("failed to set captain penalty: %w", err)
	}
	return nil
}

// TopRankings highest points first, ties broken by wins then player id.
func (r *RankingRepository) TopRankings(ctx context.Context, rankedMode string, limit int) ([]models.Ranking, error) {
	query := `
		SELECT player_id, ranked_mode, points, wins, losses, matches_played,
		       captain_penalty_until, updated_at
		FROM rankings
		WHERE ranked_mode = $1 AND matches_played > 0
		ORDER BY points DESC, wins DESC, player_id
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, rankedMode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rankings: %w", err)
	}
	defer rows.Close()

	var rankings []models.Ranking
	for rows.Next() {
		var ranking models.Ranking
		if err := rows.Scan(
			&ranking.PlayerID,
			&ranking.RankedMode,
			&ranking.Points,
			&ranking.Wins,
			&ranking.Losses,
			&ranking.MatchesPlayed,
			&ranking.CaptainPenaltyUntil,
			&ranking.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ranking: %w", err)
		}
		rankings = append(rankings, ranking)
	}
	return rankings, rows.Err()
}

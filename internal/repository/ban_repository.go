package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/nomercy/ranked-backend/pkg/database"
)

type BanRepository struct {
	db *database.DB
}

func NewBanRepository(db *database.DB) *BanRepository {
	return &BanRepository{db: db}
}

// ActiveBan returns the player's unlifted ban. A ban that expired before now is
// lifted on the spot and nil is returned.
func (r *BanRepository) ActiveBan(ctx context.Context, playerID string, now time.Time) (*models.Ban, error) {
	query := `
		SELECT id, player_id, reason, expires_at, lifted, created_at
		FROM ranked_bans
		WHERE player_id = $1 AND NOT lifted
		ORDER BY expires_at DESC
		LIMIT 1
	`

	ban := &models.Ban{}
	err := r.db.QueryRowContext(ctx, query, playerID).Scan(
		&ban.ID,
		&ban.PlayerID,
		&ban.Reason,
		&ban.ExpiresAt,
		&ban.Lifted,
		&ban.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ban: %w", err)
	}

	if ban.Expired(now) {
		_, err := r.db.ExecContext(ctx,
			`UPDATE ranked_bans SET lifted = TRUE WHERE player_id = $1 AND NOT lifted AND expires_at <= $2`,
			playerID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to lift expired ban: %w", err)
		}
		return nil, nil
	}
	return ban, nil
}

func (r *BanRepository) Create(ctx context.Context, playerID, reason string, expiresAt time.Time) (*models.Ban, error) {
	ban := &models.Ban{
		ID:        uuid.NewString(),
		PlayerID:  playerID,
		Reason:    reason,
		ExpiresAt: expiresAt,
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO ranked_bans (id, player_id, reason, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, ban.ID, playerID, reason, expiresAt).Scan(&ban.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create ban: %w", err)
	}
	return ban, nil
}

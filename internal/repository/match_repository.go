package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lib/pq"
	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/nomercy/ranked-backend/pkg/database"
)

type MatchRepository struct {
	db *database.DB
}

func NewMatchRepository(db *database.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

func activeStatuses() pq.StringArray {
	out := make(pq.StringArray, 0, len(models.ActiveMatchStatuses))
	for _, s := range models.ActiveMatchStatuses {
		out = append(out, string(s))
	}
	return out
}

// HasActiveMatch whether playerID takes part in a pending, ready or in-progress match.
func (r *MatchRepository) HasActiveMatch(ctx context.Context, playerID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM ranked_match_players mp
			JOIN ranked_matches m ON m.id = mp.match_id
			WHERE mp.player_id = $1
			  AND m.status = ANY($2)
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, playerID, activeStatuses()).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check active match: %w", err)
	}
	return exists, nil
}

// CreateMatch inserts m and its participant rows in one transaction. Per-player
// advisory locks serialize concurrent inserts touching the same player.
func (r *MatchRepository) CreateMatch(ctx context.Context, m *models.Match) error {
	playerIDs := m.RealPlayerIDs()
	sort.Strings(playerIDs)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range playerIDs {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
			return fmt.Errorf("failed to lock player %s: %w", id, err)
		}
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT mp.player_id
		FROM ranked_match_players mp
		JOIN ranked_matches m ON m.id = mp.match_id
		WHERE mp.player_id = ANY($1)
		  AND m.status = ANY($2)
	`, pq.Array(playerIDs), activeStatuses())
	if err != nil {
		return fmt.Errorf("failed to check active matches: %w", err)
	}
	var conflicts []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to check active matches: %w", err)
	}
	if len(conflicts) > 0 {
		return &ConflictError{PlayerIDs: conflicts}
	}

	cols, err := encodeMatch(m)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ranked_matches (
			id, game_mode, ranked_mode, team_size, players, host_team, status,
			map_candidates, selected_map, draft, voice, winner_team, is_test,
			version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = tx.ExecContext(ctx, query,
		m.ID, m.GameMode, m.RankedMode, m.TeamSize, cols.players, int(m.HostTeam), string(m.Status),
		cols.mapCandidates, m.SelectedMap, cols.draft, cols.voice, int(m.WinnerTeam), m.IsTest,
		m.Version, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}

	if len(playerIDs) > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ranked_match_players (match_id, player_id)
			SELECT $1, unnest($2::text[])
		`, m.ID, pq.Array(playerIDs))
		if err != nil {
			return fmt.Errorf("failed to insert match players: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit match: %w", err)
	}
	return nil
}

// SaveMatch optimistic update guarded by m.Version.
func (r *MatchRepository) SaveMatch(ctx context.Context, m *models.Match) error {
	cols, err := encodeMatch(m)
	if err != nil {
		return err
	}

	query := `
		UPDATE ranked_matches
		SET players = $3,
		    host_team = $4,
		    status = $5,
		    map_candidates = $6,
		    selected_map = $7,
		    draft = $8,
		    voice = $9,
		    winner_team = $10,
		    updated_at = $11,
		    version = version + 1
		WHERE id = $1 AND version = $2
	`
	res, err := r.db.ExecContext(ctx, query,
		m.ID, m.Version, cols.players, int(m.HostTeam), string(m.Status), cols.mapCandidates,
		m.SelectedMap, cols.draft, cols.voice, int(m.WinnerTeam), m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save match: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save match: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}

	m.Version++
	return nil
}

const selectMatch = `
	SELECT id, game_mode, ranked_mode, team_size, players, host_team, status,
	       map_candidates, selected_map, draft, voice, winner_team, is_test,
	       version, created_at, updated_at
	FROM ranked_matches
`

func (r *MatchRepository) FindByID(ctx context.Context, id string) (*models.Match, error) {
	m, err := scanMatch(r.db.QueryRowContext(ctx, selectMatch+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find match: %w", err)
	}
	return m, nil
}

// ListActive every match not yet completed or cancelled, oldest first.
func (r *MatchRepository) ListActive(ctx context.Context) ([]*models.Match, error) {
	rows, err := r.db.QueryContext(ctx, selectMatch+` WHERE status = ANY($1) ORDER BY created_at ASC`, activeStatuses())
	if err != nil {
		return nil, fmt.Errorf("failed to list active matches: %w", err)
	}
	defer rows.Close()

	var matches []*models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var (
		m                                 models.Match
		players, candidates, draft, voice []byte
		hostTeam, winnerTeam              int
		status                            string
		selected                          sql.NullString
	)

	err := row.Scan(
		&m.ID, &m.GameMode, &m.RankedMode, &m.TeamSize, &players, &hostTeam, &status,
		&candidates, &selected, &draft, &voice, &winnerTeam, &m.IsTest,
		&m.Version, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.HostTeam = models.Team(hostTeam)
	m.WinnerTeam = models.Team(winnerTeam)
	m.Status = models.MatchStatus(status)
	if selected.Valid {
		s := selected.String
		m.SelectedMap = &s
	}
	if err := json.Unmarshal(players, &m.Players); err != nil {
		return nil, fmt.Errorf("decode players: %w", err)
	}
	if err := json.Unmarshal(candidates, &m.MapCandidates); err != nil {
		return nil, fmt.Errorf("decode map candidates: %w", err)
	}
	if len(draft) > 0 {
		m.Draft = &models.DraftState{}
		if err := json.Unmarshal(draft, m.Draft); err != nil {
			return nil, fmt.Errorf("decode draft: %w", err)
		}
	}
	if len(voice) > 0 {
		m.Voice = &models.VoiceChannels{}
		if err := json.Unmarshal(voice, m.Voice); err != nil {
			return nil, fmt.Errorf("decode voice: %w", err)
		}
	}
	return &m, nil
}

// matchColumns JSONB payloads. draft and voice stay nil (SQL NULL) when absent.
type matchColumns struct {
	players       []byte
	mapCandidates []byte
	draft         any
	voice         any
}

func encodeMatch(m *models.Match) (matchColumns, error) {
	var cols matchColumns
	var err error

	if cols.players, err = json.Marshal(m.Players); err != nil {
		return cols, fmt.Errorf("encode players: %w", err)
	}
	candidates := m.MapCandidates
	if candidates == nil {
		candidates = []models.MapCandidate{}
	}
	if cols.mapCandidates, err = json.Marshal(candidates); err != nil {
		return cols, fmt.Errorf("encode map candidates: %w", err)
	}
	if m.Draft != nil {
		draft, err := json.Marshal(m.Draft)
		if err != nil {
			return cols, fmt.Errorf("encode draft: %w", err)
		}
		cols.draft = draft
	}
	if m.Voice != nil {
		voice, err := json.Marshal(m.Voice)
		if err != nil {
			return cols, fmt.Errorf("encode voice: %w", err)
		}
		cols.voice = voice
	}
	return cols, nil
}

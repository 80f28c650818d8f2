package models

import "time"

// Ranking a player's standing in one ranked mode
type Ranking struct {
	PlayerID            string     `json:"playerId" db:"player_id"`
	RankedMode          string     `json:"rankedMode" db:"ranked_mode"`
	Points              int        `json:"points" db:"points"`
	Wins                int        `json:"wins" db:"wins"`
	Losses              int        `json:"losses" db:"losses"`
	MatchesPlayed       int        `json:"matchesPlayed" db:"matches_played"`
	CaptainPenaltyUntil *time.Time `json:"captainPenaltyUntil,omitempty" db:"captain_penalty_until"`
	UpdatedAt           time.Time  `json:"updatedAt" db:"updated_at"`
}

// CaptainRestricted whether the player is currently penalized for captaincy.
func (r *Ranking) CaptainRestricted(now time.Time) bool {
	return r.CaptainPenaltyUntil != nil && r.CaptainPenaltyUntil.After(now)
}

// PointChange settlement result for one player of a completed match
type PointChange struct {
	PlayerID   string `json:"playerId"`
	RankedMode string `json:"rankedMode"`
	Delta      int    `json:"delta"`
	Won        bool   `json:"won"`
}

// Ban a ranked suspension
type Ban struct {
	ID        string    `json:"id" db:"id"`
	PlayerID  string    `json:"playerId" db:"player_id"`
	Reason    string    `json:"reason" db:"reason"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
	Lifted    bool      `json:"lifted" db:"lifted"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

func (b *Ban) Expired(now time.Time) bool {
	return !b.ExpiresAt.After(now)
}

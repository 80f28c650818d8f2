package models

import (
	"fmt"
	"time"
)

// QueueKey identifies one independent matchmaking pool.
type QueueKey struct {
	GameMode   string `json:"gameMode"`
	RankedMode string `json:"rankedMode"`
}

func (k QueueKey) String() string {
	return fmt.Sprintf("%s:%s", k.RankedMode, k.GameMode)
}

type Platform string

const (
	PlatformPC      Platform = "pc"
	PlatformConsole Platform = "console"
)

// QueueEntry a player waiting in a queue. Lives only in memory.
type QueueEntry struct {
	Key               QueueKey  `json:"-"`
	PlayerID          string    `json:"playerId"`
	DisplayName       string    `json:"displayName"`
	AvatarURL         string    `json:"avatarUrl,omitempty"`
	RankPoints        int       `json:"rankPoints"`
	RankDivision      string    `json:"rankDivision"`
	Platform          Platform  `json:"platform"`
	JoinedAt          time.Time `json:"joinedAt"`
	CaptainRestricted bool      `json:"-"`
}

// CountdownTimer pending formation for a queue key
type CountdownTimer struct {
	Key          QueueKey  `json:"key"`
	EndsAt       time.Time `json:"endsAt"`
	LockedFormat int       `json:"lockedFormat"`
}

// RemovalCause why an entry left its queue
type RemovalCause string

const (
	RemovalLeft               RemovalCause = "left"
	RemovalParity             RemovalCause = "parity"
	RemovalPreconditionFailed RemovalCause = "precondition_failed"
	RemovalTimedOut           RemovalCause = "timed_out"
)

// TeamHistoryRecord one recently formed pairing for a queue key.
type TeamHistoryRecord struct {
	Team1      []string  `json:"team1"`
	Team2      []string  `json:"team2"`
	RecordedAt time.Time `json:"recordedAt"`
}

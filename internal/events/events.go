// Package events defines every realtime event the ranked engine emits.
// Each event has exactly one builder so all emission sites share a shape.
package events

import (
	"time"

	"github.com/nomercy/ranked-backend/internal/models"
)

const (
	TypeQueueStatus   = "queue_status"
	TypeMatchFound    = "match_found"
	TypeDraftUpdate   = "draft_update"
	TypeMapVoteUpdate = "map_vote_update"
	TypeMapSelected   = "map_selected"
	TypeQueueRemoved  = "queue_removed"
	TypeMatchStatus   = "match_status"
)

// Event a payload with a stable type name.
type Event interface {
	Type() string
}

// Envelope wire form sent to clients.
type Envelope struct {
	Type    string `json:"type"`
	Payload Event  `json:"payload"`
}

func Wrap(e Event) Envelope {
	return Envelope{Type: e.Type(), Payload: e}
}

// RosterPlayer a participant as shown to clients.
type RosterPlayer struct {
	ID           string            `json:"id"`
	Kind         models.PlayerKind `json:"kind"`
	DisplayName  string            `json:"displayName"`
	AvatarURL    string            `json:"avatarUrl,omitempty"`
	RankDivision string            `json:"rankDivision"`
	Team         models.Team       `json:"team"`
	IsCaptain    bool              `json:"isCaptain"`
}

func rosterOf(players []models.MatchPlayer) []RosterPlayer {
	roster := make([]RosterPlayer, 0, len(players))
	for _, p := range players {
		roster = append(roster, rosterPlayer(p))
	}
	return roster
}

func rosterPlayer(p models.MatchPlayer) RosterPlayer {
	return RosterPlayer{
		ID:           p.Ref.ID,
		Kind:         p.Ref.Kind,
		DisplayName:  p.DisplayName,
		AvatarURL:    p.AvatarURL,
		RankDivision: p.RankDivision,
		Team:         p.Team,
		IsCaptain:    p.IsCaptain,
	}
}

// QueueStatus per-player view of one queue.
type QueueStatus struct {
	GameMode      string     `json:"gameMode"`
	RankedMode    string     `json:"rankedMode"`
	InQueue       bool       `json:"inQueue"`
	QueueSize     int        `json:"queueSize"`
	Position      int        `json:"position,omitempty"`
	TimerEndsAt   *time.Time `json:"timerEndsAt,omitempty"`
	CurrentFormat int        `json:"currentFormat,omitempty"`
	NextFormat    int        `json:"nextFormat,omitempty"`
	PlayersNeeded int        `json:"playersNeeded"`
}

func (QueueStatus) Type() string { return TypeQueueStatus }

// NewQueueStatus position is 1-based; 0 means the recipient is not queued.
// countdown may be nil.
func NewQueueStatus(key models.QueueKey, mode models.RankedMode, size, position int, countdown *models.CountdownTimer) QueueStatus {
	evt := QueueStatus{
		GameMode:   key.GameMode,
		RankedMode: key.RankedMode,
		InQueue:    position > 0,
		QueueSize:  size,
		Position:   position,
	}

	if countdown != nil {
		endsAt := countdown.EndsAt
		evt.TimerEndsAt = &endsAt
		evt.CurrentFormat = countdown.LockedFormat
	} else if format, ok := mode.FormatFor(size); ok {
		evt.CurrentFormat = format
	}

	if next, ok := mode.NextFormat(size); ok {
		evt.NextFormat = next
		evt.PlayersNeeded = next*2 - size
	}
	return evt
}

// MatchFound sent once to each real participant of a new match.
type MatchFound struct {
	MatchID       string                `json:"matchId"`
	GameMode      string                `json:"gameMode"`
	RankedMode    string                `json:"rankedMode"`
	TeamSize      int                   `json:"teamSize"`
	Team          models.Team           `json:"team"`
	IsCaptain     bool                  `json:"isCaptain"`
	IsHost        bool                  `json:"isHost"`
	Roster        []RosterPlayer        `json:"roster"`
	MapCandidates []models.MapCandidate `json:"mapCandidates"`
	VoteEndsAt    *time.Time            `json:"voteEndsAt,omitempty"`
}

func (MatchFound) Type() string { return TypeMatchFound }

func NewMatchFound(m *models.Match, recipient models.PlayerRef, voteEndsAt *time.Time) MatchFound {
	evt := MatchFound{
		MatchID:       m.ID,
		GameMode:      m.GameMode,
		RankedMode:    m.RankedMode,
		TeamSize:      m.TeamSize,
		Roster:        rosterOf(m.Players),
		MapCandidates: append([]models.MapCandidate(nil), m.MapCandidates...),
		VoteEndsAt:    voteEndsAt,
	}
	if p := m.Player(recipient); p != nil {
		evt.Team = p.Team
		evt.IsCaptain = p.IsCaptain
		evt.IsHost = p.Team.Valid() && p.Team == m.HostTeam
	}
	return evt
}

// DraftUpdate captain draft progress. IsYourTurn is computed per recipient.
type DraftUpdate struct {
	MatchID      string            `json:"matchId"`
	IsActive     bool              `json:"isActive"`
	CurrentTurn  models.Team       `json:"currentTurn"`
	TurnDeadline time.Time         `json:"turnDeadline"`
	Pool         []RosterPlayer    `json:"pool"`
	Team1        []RosterPlayer    `json:"team1"`
	Team2        []RosterPlayer    `json:"team2"`
	LastPick     *models.DraftPick `json:"lastPick,omitempty"`
	IsYourTurn   bool              `json:"isYourTurn"`
}

func (DraftUpdate) Type() string { return TypeDraftUpdate }

func NewDraftUpdate(m *models.Match, recipient models.PlayerRef) DraftUpdate {
	evt := DraftUpdate{MatchID: m.ID}
	if m.Draft == nil {
		return evt
	}

	d := m.Draft
	evt.IsActive = d.IsActive
	evt.CurrentTurn = d.CurrentTurn
	evt.TurnDeadline = d.TurnDeadline
	if n := len(d.PickHistory); n > 0 {
		last := d.PickHistory[n-1]
		evt.LastPick = &last
	}

	inPool := make(map[models.PlayerRef]bool, len(d.UnassignedPool))
	for _, ref := range d.UnassignedPool {
		inPool[ref] = true
	}
	evt.Pool = []RosterPlayer{}
	evt.Team1 = []RosterPlayer{}
	evt.Team2 = []RosterPlayer{}
	for _, p := range m.Players {
		switch {
		case inPool[p.Ref]:
			evt.Pool = append(evt.Pool, rosterPlayer(p))
		case p.Team == models.Team1:
			evt.Team1 = append(evt.Team1, rosterPlayer(p))
		case p.Team == models.Team2:
			evt.Team2 = append(evt.Team2, rosterPlayer(p))
		}
	}

	if d.IsActive {
		if captain := m.Captain(d.CurrentTurn); captain != nil && captain.Ref == recipient {
			evt.IsYourTurn = true
		}
	}
	return evt
}

// MapVoteUpdate live tallies.
type MapVoteUpdate struct {
	MatchID    string                `json:"matchId"`
	Candidates []models.MapCandidate `json:"candidates"`
	EndsAt     time.Time             `json:"endsAt"`
	VotesCast  int                   `json:"votesCast"`
}

func (MapVoteUpdate) Type() string { return TypeMapVoteUpdate }

func NewMapVoteUpdate(m *models.Match, endsAt time.Time) MapVoteUpdate {
	evt := MapVoteUpdate{
		MatchID:    m.ID,
		Candidates: append([]models.MapCandidate(nil), m.MapCandidates...),
		EndsAt:     endsAt,
	}
	for _, c := range m.MapCandidates {
		evt.VotesCast += c.Votes
	}
	return evt
}

type MapSelected struct {
	MatchID    string                `json:"matchId"`
	Map        string                `json:"map"`
	Candidates []models.MapCandidate `json:"candidates"`
	Voice      *models.VoiceChannels `json:"voice,omitempty"`
}

func (MapSelected) Type() string { return TypeMapSelected }

func NewMapSelected(m *models.Match) MapSelected {
	evt := MapSelected{
		MatchID:    m.ID,
		Candidates: append([]models.MapCandidate(nil), m.MapCandidates...),
		Voice:      m.Voice,
	}
	if m.SelectedMap != nil {
		evt.Map = *m.SelectedMap
	}
	return evt
}

type QueueRemoved struct {
	GameMode   string              `json:"gameMode"`
	RankedMode string              `json:"rankedMode"`
	Cause      models.RemovalCause `json:"cause"`
	// Requeue tells the client it may join again right away.
	Requeue bool `json:"requeue"`
}

func (QueueRemoved) Type() string { return TypeQueueRemoved }

func NewQueueRemoved(key models.QueueKey, cause models.RemovalCause) QueueRemoved {
	return QueueRemoved{
		GameMode:   key.GameMode,
		RankedMode: key.RankedMode,
		Cause:      cause,
		Requeue:    cause == models.RemovalParity || cause == models.RemovalTimedOut,
	}
}

type MatchStatus struct {
	MatchID    string             `json:"matchId"`
	Status     models.MatchStatus `json:"status"`
	WinnerTeam models.Team        `json:"winnerTeam,omitempty"`
}

func (MatchStatus) Type() string { return TypeMatchStatus }

func NewMatchStatus(m *models.Match) MatchStatus {
	return MatchStatus{
		MatchID:    m.ID,
		Status:     m.Status,
		WinnerTeam: m.WinnerTeam,
	}
}

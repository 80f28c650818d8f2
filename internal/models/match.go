package models

import (
	"fmt"
	"time"
)

type MatchStatus string

const (
	MatchStatusPending    MatchStatus = "pending"
	MatchStatusReady      MatchStatus = "ready"
	MatchStatusInProgress MatchStatus = "in_progress"
	MatchStatusCompleted  MatchStatus = "completed"
	MatchStatusCancelled  MatchStatus = "cancelled"
	MatchStatusDisputed   MatchStatus = "disputed"
)

// ActiveMatchStatuses statuses that block a player from queueing again
var ActiveMatchStatuses = []MatchStatus{
	MatchStatusPending,
	MatchStatusReady,
	MatchStatusInProgress,
}

var matchTransitions = map[MatchStatus][]MatchStatus{
	MatchStatusPending:    {MatchStatusReady, MatchStatusCancelled},
	MatchStatusReady:      {MatchStatusInProgress, MatchStatusCancelled},
	MatchStatusInProgress: {MatchStatusCompleted, MatchStatusCancelled, MatchStatusDisputed},
	MatchStatusDisputed:   {MatchStatusCompleted},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s MatchStatus) CanTransitionTo(next MatchStatus) bool {
	for _, allowed := range matchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s MatchStatus) IsActive() bool {
	for _, active := range ActiveMatchStatuses {
		if s == active {
			return true
		}
	}
	return false
}

type MapCandidate struct {
	Name  string `json:"name"`
	Votes int    `json:"votes"`
}

type VoiceChannels struct {
	CategoryID     string `json:"categoryId,omitempty"`
	Team1ChannelID string `json:"team1ChannelId"`
	Team2ChannelID string `json:"team2ChannelId"`
}

type DraftPick struct {
	Team   Team      `json:"team"`
	Player PlayerRef `json:"player"`
	Auto   bool      `json:"auto"`
	At     time.Time `json:"at"`
}

// DraftState optional captain draft sub-state of a match
type DraftState struct {
	IsActive       bool        `json:"isActive"`
	CurrentTurn    Team        `json:"currentTurn"`
	TurnDeadline   time.Time   `json:"turnDeadline"`
	PickHistory    []DraftPick `json:"pickHistory"`
	UnassignedPool []PlayerRef `json:"unassignedPool"`
}

type Match struct {
	ID            string         `json:"id" db:"id"`
	GameMode      string         `json:"gameMode" db:"game_mode"`
	RankedMode    string         `json:"rankedMode" db:"ranked_mode"`
	TeamSize      int            `json:"teamSize" db:"team_size"`
	Players       []MatchPlayer  `json:"players" db:"players"`
	HostTeam      Team           `json:"hostTeam" db:"host_team"`
	Status        MatchStatus    `json:"status" db:"status"`
	MapCandidates []MapCandidate `json:"mapCandidates" db:"map_candidates"`
	SelectedMap   *string        `json:"selectedMap,omitempty" db:"selected_map"`
	Draft         *DraftState    `json:"draft,omitempty" db:"draft"`
	Voice         *VoiceChannels `json:"voice,omitempty" db:"voice"`
	WinnerTeam    Team           `json:"winnerTeam,omitempty" db:"winner_team"`
	IsTest        bool           `json:"isTest" db:"is_test"`
	Version       int            `json:"version" db:"version"`
	CreatedAt     time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time      `json:"updatedAt" db:"updated_at"`
}

func (m *Match) Key() QueueKey {
	return QueueKey{GameMode: m.GameMode, RankedMode: m.RankedMode}
}

// Transition moves the match to next if the lifecycle allows it.
func (m *Match) Transition(next MatchStatus, now time.Time) error {
	if !m.Status.CanTransitionTo(next) {
		return fmt.Errorf("match %s: %s -> %s not allowed", m.ID, m.Status, next)
	}
	m.Status = next
	m.UpdatedAt = now
	return nil
}

// Player returns the participant referenced by ref, or nil.
func (m *Match) Player(ref PlayerRef) *MatchPlayer {
	for i := range m.Players {
		if m.Players[i].Ref == ref {
			return &m.Players[i]
		}
	}
	return nil
}

func (m *Match) Captain(team Team) *MatchPlayer {
	for i := range m.Players {
		if m.Players[i].Team == team && m.Players[i].IsCaptain {
			return &m.Players[i]
		}
	}
	return nil
}

// TeamRefs participants assigned to team, in roster order.
func (m *Match) TeamRefs(team Team) []PlayerRef {
	var refs []PlayerRef
	for _, p := range m.Players {
		if p.Team == team {
			refs = append(refs, p.Ref)
		}
	}
	return refs
}

// RealPlayerIDs ids of every non-synthetic participant.
func (m *Match) RealPlayerIDs() []string {
	ids := make([]string, 0, len(m.Players))
	for _, p := range m.Players {
		if p.Ref.IsReal() {
			ids = append(ids, p.Ref.ID)
		}
	}
	return ids
}

// Clone deep copy, used to hand snapshots to persistence outside of locks.
func (m *Match) Clone() *Match {
	c := *m
	c.Players = append([]MatchPlayer(nil), m.Players...)
	c.MapCandidates = append([]MapCandidate(nil), m.MapCandidates...)
	if m.SelectedMap != nil {
		selected := *m.SelectedMap
		c.SelectedMap = &selected
	}
	if m.Draft != nil {
		d := *m.Draft
		d.PickHistory = append([]DraftPick(nil), m.Draft.PickHistory...)
		d.UnassignedPool = append([]PlayerRef(nil), m.Draft.UnassignedPool...)
		c.Draft = &d
	}
	if m.Voice != nil {
		v := *m.Voice
		c.Voice = &v
	}
	return &c
}

package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hardcore() models.RankedMode {
	return models.RankedMode{Name: "hardcore", Enabled: true, TeamSizes: []int{4, 5}}
}

func TestNewQueueStatus(t *testing.T) {
	key := models.QueueKey{GameMode: "Search & Destroy", RankedMode: "hardcore"}

	tests := []struct {
		name          string
		size          int
		position      int
		countdown     *models.CountdownTimer
		wantCurrent   int
		wantNext      int
		wantNeeded    int
		wantInQueue   bool
		wantTimerSent bool
	}{
		{name: "below minimum", size: 3, position: 2, wantNext: 4, wantNeeded: 5, wantInQueue: true},
		{name: "minimum reached", size: 8, position: 8, wantCurrent: 4, wantNext: 5, wantNeeded: 2, wantInQueue: true},
		{
			name:          "countdown locks format",
			size:          9,
			position:      1,
			countdown:     &models.CountdownTimer{Key: key, EndsAt: time.Unix(100, 0), LockedFormat: 4},
			wantCurrent:   4,
			wantNext:      5,
			wantNeeded:    1,
			wantInQueue:   true,
			wantTimerSent: true,
		},
		{name: "not queued", size: 10, position: 0, wantCurrent: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := NewQueueStatus(key, hardcore(), tt.size, tt.position, tt.countdown)
			assert.Equal(t, tt.size, evt.QueueSize)
			assert.Equal(t, tt.wantCurrent, evt.CurrentFormat)
			assert.Equal(t, tt.wantNext, evt.NextFormat)
			assert.Equal(t, tt.wantNeeded, evt.PlayersNeeded)
			assert.Equal(t, tt.wantInQueue, evt.InQueue)
			assert.Equal(t, tt.wantTimerSent, evt.TimerEndsAt != nil)
		})
	}
}

func sampleMatch() *models.Match {
	return &models.Match{
		ID:       "m1",
		GameMode: "Search & Destroy",
		TeamSize: 2,
		HostTeam: models.Team2,
		Players: []models.MatchPlayer{
			{Ref: models.Real("a"), Team: models.Team1, IsCaptain: true},
			{Ref: models.Real("b"), Team: models.Team2, IsCaptain: true},
			{Ref: models.Real("c"), Team: models.TeamUnassigned},
			{Ref: models.Synthetic("bot-1"), Team: models.TeamUnassigned},
		},
		MapCandidates: []models.MapCandidate{{Name: "Arsenal"}, {Name: "Harbor", Votes: 2}},
	}
}

func TestNewMatchFound_RecipientFlags(t *testing.T) {
	m := sampleMatch()

	evt := NewMatchFound(m, models.Real("b"), nil)
	assert.Equal(t, models.Team2, evt.Team)
	assert.True(t, evt.IsCaptain)
	assert.True(t, evt.IsHost)
	assert.Len(t, evt.Roster, 4)

	evt = NewMatchFound(m, models.Real("a"), nil)
	assert.False(t, evt.IsHost)
}

func TestNewDraftUpdate_IsYourTurn(t *testing.T) {
	m := sampleMatch()
	m.Draft = &models.DraftState{
		IsActive:       true,
		CurrentTurn:    models.Team1,
		UnassignedPool: []models.PlayerRef{models.Real("c"), models.Synthetic("bot-1")},
	}

	assert.True(t, NewDraftUpdate(m, models.Real("a")).IsYourTurn)
	assert.False(t, NewDraftUpdate(m, models.Real("b")).IsYourTurn)
	assert.False(t, NewDraftUpdate(m, models.Real("c")).IsYourTurn)

	evt := NewDraftUpdate(m, models.Real("a"))
	assert.Len(t, evt.Pool, 2)
	assert.Len(t, evt.Team1, 1)
	assert.Len(t, evt.Team2, 1)
}

func TestNewMapVoteUpdate_CountsVotes(t *testing.T) {
	evt := NewMapVoteUpdate(sampleMatch(), time.Unix(30, 0))
	assert.Equal(t, 2, evt.VotesCast)
}

func TestNewQueueRemoved_Requeue(t *testing.T) {
	key := models.QueueKey{GameMode: "Hardpoint", RankedMode: "core"}
	assert.True(t, NewQueueRemoved(key, models.RemovalParity).Requeue)
	assert.False(t, NewQueueRemoved(key, models.RemovalLeft).Requeue)
	assert.False(t, NewQueueRemoved(key, models.RemovalPreconditionFailed).Requeue)
}

func TestWrap_Shape(t *testing.T) {
	data, err := json.Marshal(Wrap(NewMatchStatus(&models.Match{ID: "m1", Status: models.MatchStatusReady})))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"match_status","payload":{"matchId":"m1","status":"ready"}}`, string(data))
}

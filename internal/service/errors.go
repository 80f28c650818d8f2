package service

import (
	"errors"
	"fmt"
)

// EngineError a rejection with a stable reason code and optional structured data.
// The engine never formats user-facing text; Message is for logs and API clients.
type EngineError struct {
	Reason  string
	Message string
	Data    map[string]any
}

func (e *EngineError) Error() string {
	if e.Message == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Is matches any EngineError with the same reason, so errors.Is works on
// copies carrying extra data.
func (e *EngineError) Is(target error) bool {
	var other *EngineError
	if !errors.As(target, &other) {
		return false
	}
	return e.Reason == other.Reason
}

// WithData copy of e carrying data.
func (e *EngineError) WithData(data map[string]any) *EngineError {
	return &EngineError{Reason: e.Reason, Message: e.Message, Data: data}
}

func newEngineError(reason, message string) *EngineError {
	return &EngineError{Reason: reason, Message: message}
}

var ErrInvalidInput = errors.New("invalid input")

// Queue errors
var (
	ErrAlreadyQueued        = newEngineError("already_queued", "player is already in a queue")
	ErrNotQueued            = newEngineError("not_queued", "player is not in this queue")
	ErrModeUnavailable      = newEngineError("mode_unavailable", "ranked mode is disabled or misconfigured")
	ErrAlreadyInActiveMatch = newEngineError("already_in_active_match", "player already has an active match")
	ErrPreconditionFailed   = newEngineError("precondition_failed", "anti-cheat presence is required")
	ErrInsufficientPlayers  = newEngineError("insufficient_players", "not enough valid players to form a match")
	ErrBanActive            = newEngineError("ban_active", "player is suspended from ranked")
	ErrVoteAlreadyResolved  = newEngineError("vote_already_resolved", "map vote already resolved")
)

// Match errors
var (
	ErrMatchNotFound     = newEngineError("match_not_found", "match not found")
	ErrNotCaptain        = newEngineError("not_captain", "only a captain can pick")
	ErrNotYourTurn       = newEngineError("not_your_turn", "it is the other captain's turn")
	ErrDraftInactive     = newEngineError("draft_inactive", "draft is not running")
	ErrPlayerNotInPool   = newEngineError("player_not_in_pool", "player is not available to pick")
	ErrInvalidMap        = newEngineError("invalid_map", "map is not a vote candidate")
	ErrNotInMatch        = newEngineError("not_in_match", "player is not part of this match")
	ErrVotingClosed      = newEngineError("voting_closed", "map vote is not open")
	ErrNotConnected      = newEngineError("not_connected", "player must be connected to vote")
	ErrInvalidTransition = newEngineError("invalid_transition", "match status change not allowed")
)

var ErrConcurrentUpdate = newEngineError("concurrent_update", "match was modified concurrently, retry")

package repository

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrVersionConflict     = errors.New("match was modified concurrently")
	ErrActiveMatchConflict = errors.New("player already in an active match")
)

// ConflictError lists the players that blocked a match insert.
type ConflictError struct {
	PlayerIDs []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: %s", ErrActiveMatchConflict, strings.Join(e.PlayerIDs, ", "))
}

func (e *ConflictError) Unwrap() error {
	return ErrActiveMatchConflict
}

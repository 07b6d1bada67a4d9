package models

import (
	"errors"
	"fmt"
	"time"
)

// Custom errors
var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicateKey    = errors.New("duplicate key violation")
	ErrInvalidInput    = errors.New("invalid input")
	ErrAlreadySettled  = errors.New("race already settled")
	ErrNoEntrants      = errors.New("race has no entrants")
	ErrNotSettled      = errors.New("race not settled")
	ErrNonFiniteScore  = errors.New("non-finite score")
	ErrModelNotFitted  = errors.New("model not fitted")
	ErrBadDistribution = errors.New("probabilities do not sum to one")
)

// OrderingError reports a race applied to the rating store out of
// chronological order. The store never reorders on the caller's behalf.
type OrderingError struct {
	RaceID    int64
	RaceStart time.Time
	LastID    int64
	LastStart time.Time
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("race %d at %s applied after race %d at %s: updates must be chronological",
		e.RaceID, e.RaceStart.Format(time.RFC3339), e.LastID, e.LastStart.Format(time.RFC3339))
}

// LeakageError reports future information reaching a prediction input. It is
// always fatal to the surrounding run.
type LeakageError struct {
	RaceID     int64
	RaceStart  time.Time
	Entity     EntityRef
	SnapshotAt time.Time
	Detail     string
}

func (e *LeakageError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("leakage: race %d at %s: %s", e.RaceID, e.RaceStart.Format(time.RFC3339), e.Detail)
	}
	return fmt.Sprintf("leakage: race %d at %s consumed %s snapshot from %s",
		e.RaceID, e.RaceStart.Format(time.RFC3339), e.Entity, e.SnapshotAt.Format(time.RFC3339))
}

// ValidationError reports a structural defect in ingested race data.
type ValidationError struct {
	RaceID int64
	Field  string
	Msg    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("race %d: %s: %s", e.RaceID, e.Field, e.Msg)
}

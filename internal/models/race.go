package models

import (
	"fmt"
	"time"
)

// RaceStatus tracks the lifecycle of a race outcome.
type RaceStatus string

const (
	RaceStatusPending RaceStatus = "pending"
	RaceStatusSettled RaceStatus = "settled"
)

// Race represents a single contest on the timeline
type Race struct {
	ID            int64      `db:"id" json:"id" validate:"required"`
	Start         time.Time  `db:"start_time" json:"start_time" validate:"required"`
	Course        string     `db:"course" json:"course" validate:"required"`
	RaceType      string     `db:"race_type" json:"race_type" validate:"required"`
	DistanceYards int        `db:"distance_yards" json:"distance_yards" validate:"gt=0"`
	FieldSize     int        `db:"field_size" json:"field_size" validate:"required,gt=0"`
	Status        RaceStatus `db:"status" json:"status" validate:"required,oneof=pending settled"`
	Runners       []*Runner  `db:"-" json:"runners"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// IsSettled reports whether the outcome has been recorded.
func (r *Race) IsSettled() bool {
	return r.Status == RaceStatusSettled
}

// Before orders races by start time, breaking ties by race ID so that
// simultaneous races process in a single deterministic order.
func (r *Race) Before(other *Race) bool {
	if r.Start.Equal(other.Start) {
		return r.ID < other.ID
	}
	return r.Start.Before(other.Start)
}

// RunnerResult carries one entrant's outcome into Settle. A nil
// FinishPosition marks a non-finisher.
type RunnerResult struct {
	HorseID        int64 `json:"horse_id"`
	FinishPosition *int  `json:"finish_position"`
}

// Settle records the race outcome. It is a one-way transition: settling an
// already settled race is an error, as is a result set that does not cover
// every entrant or assigns an invalid finishing position.
func (r *Race) Settle(results []RunnerResult) error {
	if r.Status == RaceStatusSettled {
		return fmt.Errorf("race %d: %w", r.ID, ErrAlreadySettled)
	}
	if len(results) != len(r.Runners) {
		return fmt.Errorf("race %d: %d results for %d runners: %w", r.ID, len(results), len(r.Runners), ErrInvalidInput)
	}

	byHorse := make(map[int64]RunnerResult, len(results))
	for _, res := range results {
		if _, dup := byHorse[res.HorseID]; dup {
			return fmt.Errorf("race %d: duplicate result for horse %d: %w", r.ID, res.HorseID, ErrInvalidInput)
		}
		byHorse[res.HorseID] = res
	}

	seen := make(map[int]int64, len(results))
	for _, runner := range r.Runners {
		res, ok := byHorse[runner.HorseID]
		if !ok {
			return fmt.Errorf("race %d: no result for horse %d: %w", r.ID, runner.HorseID, ErrInvalidInput)
		}
		if res.FinishPosition != nil {
			pos := *res.FinishPosition
			if pos < 1 || pos > r.FieldSize {
				return fmt.Errorf("race %d: finish position %d outside [1,%d]: %w", r.ID, pos, r.FieldSize, ErrInvalidInput)
			}
			if prev, taken := seen[pos]; taken {
				return fmt.Errorf("race %d: horses %d and %d share finish position %d: %w", r.ID, prev, res.HorseID, pos, ErrInvalidInput)
			}
			seen[pos] = res.HorseID
		}
	}

	for _, runner := range r.Runners {
		res := byHorse[runner.HorseID]
		if res.FinishPosition != nil {
			pos := *res.FinishPosition
			runner.FinishPosition = &pos
			runner.NonFinisher = false
		} else {
			runner.FinishPosition = nil
			runner.NonFinisher = true
		}
	}
	r.Status = RaceStatusSettled
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Winner returns the runner that finished first, or nil for unsettled races.
func (r *Race) Winner() *Runner {
	if !r.IsSettled() {
		return nil
	}
	for _, runner := range r.Runners {
		if runner.FinishPosition != nil && *runner.FinishPosition == 1 {
			return runner
		}
	}
	return nil
}

// FinishOrder returns settled runners sorted by finishing position, with
// non-finishers excluded.
func (r *Race) FinishOrder() []*Runner {
	if !r.IsSettled() {
		return nil
	}
	ordered := make([]*Runner, 0, len(r.Runners))
	for pos := 1; pos <= r.FieldSize; pos++ {
		for _, runner := range r.Runners {
			if runner.FinishPosition != nil && *runner.FinishPosition == pos {
				ordered = append(ordered, runner)
			}
		}
	}
	return ordered
}

// Package timeline maintains the ordered race sequence that drives rating
// updates, feature assembly and evaluation.
package timeline

import (
	"fmt"
	"sort"

	"github.com/yourusername/raceform/internal/models"
)

// Timeline is an immutable, chronologically ordered view over races.
// Ordering is total: start time ascending, race ID ascending on ties.
type Timeline struct {
	races []*models.Race
}

// New builds a timeline from races in any order. Structural defects are
// rejected here, before anything downstream can consume them: zero-entrant
// races, field-size mismatches, duplicate entrants and malformed outcomes
// are all fatal.
func New(races []*models.Race) (*Timeline, error) {
	ordered := make([]*models.Race, 0, len(races))
	seenIDs := make(map[int64]bool, len(races))

	for _, race := range races {
		if race == nil {
			return nil, fmt.Errorf("nil race: %w", models.ErrInvalidInput)
		}
		if seenIDs[race.ID] {
			return nil, fmt.Errorf("duplicate race %d: %w", race.ID, models.ErrDuplicateKey)
		}
		seenIDs[race.ID] = true
		if err := validateRace(race); err != nil {
			return nil, err
		}
		ordered = append(ordered, race)
	}

	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Before(ordered[j])
	})

	return &Timeline{races: ordered}, nil
}

func validateRace(race *models.Race) error {
	if len(race.Runners) == 0 {
		return fmt.Errorf("race %d: %w", race.ID, models.ErrNoEntrants)
	}
	if race.FieldSize != len(race.Runners) {
		return &models.ValidationError{
			RaceID: race.ID,
			Field:  "field_size",
			Msg:    fmt.Sprintf("declared %d, got %d runners", race.FieldSize, len(race.Runners)),
		}
	}
	if race.Start.IsZero() {
		return &models.ValidationError{RaceID: race.ID, Field: "start_time", Msg: "missing"}
	}

	seenHorses := make(map[int64]bool, len(race.Runners))
	seenPositions := make(map[int]bool, len(race.Runners))
	for _, runner := range race.Runners {
		if runner.RaceID != race.ID {
			return &models.ValidationError{
				RaceID: race.ID,
				Field:  "runner.race_id",
				Msg:    fmt.Sprintf("runner carries race %d", runner.RaceID),
			}
		}
		if seenHorses[runner.HorseID] {
			return &models.ValidationError{
				RaceID: race.ID,
				Field:  "horse_id",
				Msg:    fmt.Sprintf("horse %d entered twice", runner.HorseID),
			}
		}
		seenHorses[runner.HorseID] = true

		switch race.Status {
		case models.RaceStatusSettled:
			if !runner.HasOutcome() {
				return &models.ValidationError{
					RaceID: race.ID,
					Field:  "finish_position",
					Msg:    fmt.Sprintf("settled race, horse %d has no outcome", runner.HorseID),
				}
			}
			if runner.NonFinisher && runner.FinishPosition != nil {
				return &models.ValidationError{
					RaceID: race.ID,
					Field:  "finish_position",
					Msg:    fmt.Sprintf("horse %d flagged non-finisher but carries position %d", runner.HorseID, *runner.FinishPosition),
				}
			}
			if runner.FinishPosition != nil {
				pos := *runner.FinishPosition
				if pos < 1 || pos > race.FieldSize {
					return &models.ValidationError{
						RaceID: race.ID,
						Field:  "finish_position",
						Msg:    fmt.Sprintf("position %d outside [1,%d]", pos, race.FieldSize),
					}
				}
				if seenPositions[pos] {
					return &models.ValidationError{
						RaceID: race.ID,
						Field:  "finish_position",
						Msg:    fmt.Sprintf("position %d assigned twice", pos),
					}
				}
				seenPositions[pos] = true
			}
		case models.RaceStatusPending:
			if runner.HasOutcome() {
				return &models.ValidationError{
					RaceID: race.ID,
					Field:  "status",
					Msg:    fmt.Sprintf("pending race, horse %d already has an outcome", runner.HorseID),
				}
			}
		default:
			return &models.ValidationError{
				RaceID: race.ID,
				Field:  "status",
				Msg:    fmt.Sprintf("unknown status %q", race.Status),
			}
		}
	}

	if race.Status == models.RaceStatusSettled && !seenPositions[1] {
		return &models.ValidationError{
			RaceID: race.ID,
			Field:  "finish_position",
			Msg:    "settled race records no winner",
		}
	}
	return nil
}

// Len returns the number of races on the timeline.
func (t *Timeline) Len() int {
	return len(t.races)
}

// Races returns the ordered races. Callers must not mutate the slice.
func (t *Timeline) Races() []*models.Race {
	return t.races
}

// Settled returns the settled races in timeline order.
func (t *Timeline) Settled() []*models.Race {
	out := make([]*models.Race, 0, len(t.races))
	for _, race := range t.races {
		if race.IsSettled() {
			out = append(out, race)
		}
	}
	return out
}

// Pending returns the races still awaiting an outcome, in timeline order.
func (t *Timeline) Pending() []*models.Race {
	out := make([]*models.Race, 0)
	for _, race := range t.races {
		if !race.IsSettled() {
			out = append(out, race)
		}
	}
	return out
}

// Stratum returns the ordered races whose race type matches key.
func (t *Timeline) Stratum(key string) []*models.Race {
	out := make([]*models.Race, 0)
	for _, race := range t.races {
		if race.RaceType == key {
			out = append(out, race)
		}
	}
	return out
}

package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/raceform/internal/models"
)

const maxCourseNameLength = 100

// canonicalRaceTypes is the closed set the cleaner normalizes into.
var canonicalRaceTypes = map[string]bool{
	"flat":    true,
	"hurdle":  true,
	"chase":   true,
	"nh_flat": true,
}

// DataValidator enforces race-level invariants before persistence.
type DataValidator struct {
	logger *logrus.Logger
}

// NewDataValidator creates a new data validator.
func NewDataValidator(logger *logrus.Logger) *DataValidator {
	return &DataValidator{logger: logger}
}

// ValidateRace returns the list of invariant violations for a race
// aggregate. An empty slice means the race is safe to persist.
func (v *DataValidator) ValidateRace(race *models.Race) []string {
	if race == nil {
		return []string{"race is nil"}
	}

	var errors []string
	if race.ID <= 0 {
		errors = append(errors, "race ID must be positive")
	}
	if race.Course == "" {
		errors = append(errors, "course is required")
	}
	if race.RaceType == "" {
		errors = append(errors, "race_type is required")
	}
	if race.Start.IsZero() {
		errors = append(errors, "start_time is required")
	}
	if race.DistanceYards <= 0 {
		errors = append(errors, "distance must be positive")
	}
	if race.FieldSize < 1 {
		errors = append(errors, "field_size must be at least 1")
	}
	if len(race.Runners) != race.FieldSize {
		errors = append(errors, fmt.Sprintf("field_size %d does not match %d runners", race.FieldSize, len(race.Runners)))
	}

	seenHorses := make(map[int64]bool, len(race.Runners))
	for _, runner := range race.Runners {
		errors = append(errors, v.ValidateRunner(runner)...)
		if runner == nil {
			continue
		}
		if seenHorses[runner.HorseID] {
			errors = append(errors, fmt.Sprintf("duplicate horse %d", runner.HorseID))
		}
		seenHorses[runner.HorseID] = true
		if runner.RaceID != race.ID {
			errors = append(errors, fmt.Sprintf("horse %d carries race ID %d", runner.HorseID, runner.RaceID))
		}
	}

	errors = append(errors, v.validateOutcome(race)...)
	return errors
}

// ValidateRunner returns the list of invariant violations for one runner.
func (v *DataValidator) ValidateRunner(runner *models.Runner) []string {
	if runner == nil {
		return []string{"runner is nil"}
	}

	var errors []string
	if runner.HorseID <= 0 {
		errors = append(errors, "horse ID must be positive")
	}
	if runner.Age != nil && *runner.Age <= 0 {
		errors = append(errors, "age must be positive")
	}
	if runner.WeightLbs != nil && *runner.WeightLbs <= 0 {
		errors = append(errors, "weight must be positive")
	}
	if runner.Draw != nil && *runner.Draw < 1 {
		errors = append(errors, "draw must be at least 1")
	}
	if runner.StartingPrice != nil && !runner.StartingPrice.GreaterThan(decimal.NewFromInt(1)) {
		errors = append(errors, "starting price must exceed 1.0")
	}
	if runner.MarketProb != nil && (*runner.MarketProb <= 0 || *runner.MarketProb >= 1) {
		errors = append(errors, "market probability must be in (0,1)")
	}
	return errors
}

// validateOutcome checks the finish positions against the race status:
// pending races carry none, settled races carry a consistent set.
func (v *DataValidator) validateOutcome(race *models.Race) []string {
	var errors []string
	if !race.IsSettled() {
		for _, runner := range race.Runners {
			if runner != nil && runner.FinishPosition != nil {
				errors = append(errors, fmt.Sprintf("pending race carries finish position for horse %d", runner.HorseID))
			}
		}
		return errors
	}

	seen := make(map[int]int64, len(race.Runners))
	finishers := 0
	for _, runner := range race.Runners {
		if runner == nil {
			continue
		}
		if runner.NonFinisher {
			if runner.FinishPosition != nil {
				errors = append(errors, fmt.Sprintf("non-finisher %d carries finish position", runner.HorseID))
			}
			continue
		}
		if runner.FinishPosition == nil {
			errors = append(errors, fmt.Sprintf("settled race missing finish position for horse %d", runner.HorseID))
			continue
		}
		pos := *runner.FinishPosition
		finishers++
		if pos < 1 || pos > race.FieldSize {
			errors = append(errors, fmt.Sprintf("finish position %d outside [1,%d]", pos, race.FieldSize))
			continue
		}
		if prev, taken := seen[pos]; taken {
			errors = append(errors, fmt.Sprintf("horses %d and %d share finish position %d", prev, runner.HorseID, pos))
		}
		seen[pos] = runner.HorseID
	}
	if finishers > 0 && seen[1] == 0 {
		errors = append(errors, "settled race has no winner")
	}
	return errors
}

// IsValidRaceType reports whether the race type belongs to the canonical set.
func (v *DataValidator) IsValidRaceType(raceType string) bool {
	return canonicalRaceTypes[raceType]
}

// IsValidCourseName reports whether a course name is usable.
func (v *DataValidator) IsValidCourseName(course string) bool {
	trimmed := strings.TrimSpace(course)
	return trimmed != "" && len(trimmed) <= maxCourseNameLength
}

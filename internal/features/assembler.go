// Package features assembles leakage-free model inputs: point-in-time
// ratings joined with pre-race attributes.
package features

import (
	"fmt"
	"math"
	"time"

	"github.com/yourusername/raceform/internal/models"
	"github.com/yourusername/raceform/internal/rating"
)

// FeatureNames lists the assembled features in vector order. None of them
// derives from the race's own outcome.
var FeatureNames = []string{
	"horse_rating",
	"jockey_rating",
	"trainer_rating",
	"age",
	"weight_lbs",
	"draw",
	"days_since_run",
}

// Horses idle longer than this are treated as returning from a full layoff.
const maxDaysSinceRun = 365.0

// Vector is one entrant's feature row. Missing attributes are NaN; the
// model's standardizer imputes them from training data.
type Vector struct {
	HorseID int64
	Values  []float64
}

// RaceFeatures carries the assembled vectors plus provenance for the
// leakage audit: the newest snapshot consumed and how many ratings fell
// back to the cold-start default.
type RaceFeatures struct {
	RaceID        int64
	At            time.Time
	Names         []string
	Vectors       []Vector
	ColdStarts    int
	MissingAttrs  int
	MaxSnapshotAt time.Time
}

// Assembler builds feature vectors against a rating store.
type Assembler struct {
	store         *rating.Store
	defaultRating float64
}

// NewAssembler creates an assembler. defaultRating substitutes for entities
// with no history at the lookup instant.
func NewAssembler(store *rating.Store, defaultRating float64) (*Assembler, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required: %w", models.ErrInvalidInput)
	}
	if defaultRating < 0 || defaultRating > 1 {
		return nil, fmt.Errorf("default rating %v outside [0,1]: %w", defaultRating, models.ErrInvalidInput)
	}
	return &Assembler{store: store, defaultRating: defaultRating}, nil
}

type ratingLookup struct {
	value float64
	at    time.Time
	cold  bool
}

// lookup fetches the strictly-pre-race rating for an entity and asserts the
// store holds nothing newer than the race start. The assertion is the
// leakage guard: a snapshot dated after the race means outcomes ran ahead
// of feature assembly.
func (a *Assembler) lookup(entity models.EntityRef, race *models.Race) (ratingLookup, error) {
	if latest, ok := a.store.Latest(entity, race.RaceType); ok && latest.At.After(race.Start) {
		return ratingLookup{}, &models.LeakageError{
			RaceID:     race.ID,
			RaceStart:  race.Start,
			Entity:     entity,
			SnapshotAt: latest.At,
		}
	}
	snap, ok := a.store.AsOf(entity, race.RaceType, race.Start)
	if !ok {
		return ratingLookup{value: a.defaultRating, cold: true}, nil
	}
	// AsOf is strictly-before; re-check rather than trust it.
	if !snap.At.Before(race.Start) {
		return ratingLookup{}, &models.LeakageError{
			RaceID:     race.ID,
			RaceStart:  race.Start,
			Entity:     entity,
			SnapshotAt: snap.At,
		}
	}
	return ratingLookup{value: snap.Rating, at: snap.At}, nil
}

// Assemble produces one vector per runner, in runner order.
func (a *Assembler) Assemble(race *models.Race) (*RaceFeatures, error) {
	if race == nil {
		return nil, fmt.Errorf("nil race: %w", models.ErrInvalidInput)
	}
	if len(race.Runners) == 0 {
		return nil, fmt.Errorf("race %d: %w", race.ID, models.ErrNoEntrants)
	}

	out := &RaceFeatures{
		RaceID:  race.ID,
		At:      race.Start,
		Names:   FeatureNames,
		Vectors: make([]Vector, 0, len(race.Runners)),
	}

	for _, runner := range race.Runners {
		horse, err := a.lookup(models.HorseRef(runner.HorseID), race)
		if err != nil {
			return nil, err
		}
		jockey := ratingLookup{value: a.defaultRating, cold: true}
		if runner.JockeyID != nil {
			if jockey, err = a.lookup(models.JockeyRef(*runner.JockeyID), race); err != nil {
				return nil, err
			}
		}
		trainer := ratingLookup{value: a.defaultRating, cold: true}
		if runner.TrainerID != nil {
			if trainer, err = a.lookup(models.TrainerRef(*runner.TrainerID), race); err != nil {
				return nil, err
			}
		}

		for _, lk := range []ratingLookup{horse, jockey, trainer} {
			if lk.cold {
				out.ColdStarts++
			} else if lk.at.After(out.MaxSnapshotAt) {
				out.MaxSnapshotAt = lk.at
			}
		}

		daysSince := math.NaN()
		if !horse.cold {
			daysSince = race.Start.Sub(horse.at).Hours() / 24
			if daysSince > maxDaysSinceRun {
				daysSince = maxDaysSinceRun
			}
		}

		values := []float64{
			horse.value,
			jockey.value,
			trainer.value,
			floatOrNaN(runner.Age, out),
			floatOrNaN(runner.WeightLbs, out),
			floatOrNaN(runner.Draw, out),
			daysSince,
		}
		out.Vectors = append(out.Vectors, Vector{HorseID: runner.HorseID, Values: values})
	}

	return out, nil
}

func floatOrNaN(v *float64, rf *RaceFeatures) float64 {
	if v == nil {
		rf.MissingAttrs++
		return math.NaN()
	}
	return *v
}

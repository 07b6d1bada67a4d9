package racemodel

import (
	"context"
	"fmt"

	"github.com/yourusername/raceform/internal/features"
	"github.com/yourusername/raceform/internal/models"
)

// Assignment is a win-probability distribution over a race's entrants,
// ordered to match the runner order of the features it was computed from.
type Assignment struct {
	RaceID        int64     `json:"race_id"`
	HorseIDs      []int64   `json:"horse_ids"`
	Probabilities []float64 `json:"probabilities"`
}

// Model fits per-entrant score weights on settled races and converts scores
// into win distributions. Implementations are deterministic: the same
// training data in the same order produces identical weights.
type Model interface {
	Name() string
	Fit(ctx context.Context, races []*models.Race, feats []*features.RaceFeatures) error
	Predict(race *models.Race, feats *features.RaceFeatures) (*Assignment, error)
	TrainNLL() float64
	Export() ([]byte, error)
}

// Options tune the gradient-descent fit.
type Options struct {
	LearningRate float64
	MaxEpochs    int
	Tolerance    float64
}

// DefaultOptions returns the fitting parameters used when config leaves
// them unset.
func DefaultOptions() Options {
	return Options{
		LearningRate: 0.1,
		MaxEpochs:    200,
		Tolerance:    1e-6,
	}
}

func (o Options) validate() error {
	if o.LearningRate <= 0 {
		return fmt.Errorf("learning rate %v must be positive: %w", o.LearningRate, models.ErrInvalidInput)
	}
	if o.MaxEpochs <= 0 {
		return fmt.Errorf("max epochs %d must be positive: %w", o.MaxEpochs, models.ErrInvalidInput)
	}
	if o.Tolerance <= 0 {
		return fmt.Errorf("tolerance %v must be positive: %w", o.Tolerance, models.ErrInvalidInput)
	}
	return nil
}

// New constructs a model by variant name.
func New(variant string, opts Options) (Model, error) {
	switch variant {
	case models.ModelVariantConditionalLogit:
		return NewConditionalLogit(opts)
	case models.ModelVariantPlackettLuce:
		return NewPlackettLuce(opts)
	default:
		return nil, fmt.Errorf("unknown model variant %q: %w", variant, models.ErrInvalidInput)
	}
}

// checkTrainingInput validates the race/feature pairing shared by both
// variants.
func checkTrainingInput(races []*models.Race, feats []*features.RaceFeatures) error {
	if len(races) == 0 {
		return fmt.Errorf("no training races: %w", models.ErrInvalidInput)
	}
	if len(races) != len(feats) {
		return fmt.Errorf("%d races with %d feature sets: %w", len(races), len(feats), models.ErrInvalidInput)
	}
	for i, race := range races {
		if !race.IsSettled() {
			return fmt.Errorf("race %d: %w", race.ID, models.ErrNotSettled)
		}
		if feats[i] == nil || feats[i].RaceID != race.ID {
			return fmt.Errorf("race %d: feature set mismatch: %w", race.ID, models.ErrInvalidInput)
		}
		if len(feats[i].Vectors) != len(race.Runners) {
			return fmt.Errorf("race %d: %d vectors for %d runners: %w",
				race.ID, len(feats[i].Vectors), len(race.Runners), models.ErrInvalidInput)
		}
	}
	return nil
}

// predictScores standardizes one race's vectors and scores them. Single
// entrant races bypass the softmax entirely: the probability is 1 by
// definition.
func predictScores(weights []float64, scaler *standardizer, race *models.Race, feats *features.RaceFeatures) (*Assignment, error) {
	if race == nil || feats == nil {
		return nil, fmt.Errorf("nil race or features: %w", models.ErrInvalidInput)
	}
	if feats.RaceID != race.ID {
		return nil, fmt.Errorf("features for race %d given race %d: %w", feats.RaceID, race.ID, models.ErrInvalidInput)
	}
	if len(feats.Vectors) == 0 {
		return nil, fmt.Errorf("race %d: %w", race.ID, models.ErrNoEntrants)
	}

	horseIDs := make([]int64, len(feats.Vectors))
	for i, vec := range feats.Vectors {
		horseIDs[i] = vec.HorseID
	}

	if len(feats.Vectors) == 1 {
		return &Assignment{RaceID: race.ID, HorseIDs: horseIDs, Probabilities: []float64{1.0}}, nil
	}

	scores := make([]float64, len(feats.Vectors))
	for i, vec := range feats.Vectors {
		scores[i] = dot(weights, scaler.transform(vec.Values))
	}
	probs, err := StableSoftmax(scores)
	if err != nil {
		return nil, fmt.Errorf("race %d: %w", race.ID, err)
	}
	return &Assignment{RaceID: race.ID, HorseIDs: horseIDs, Probabilities: probs}, nil
}

func dot(w, x []float64) float64 {
	sum := 0.0
	for i := range w {
		sum += w[i] * x[i]
	}
	return sum
}

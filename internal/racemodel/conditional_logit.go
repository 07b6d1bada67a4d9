package racemodel

import (
	"context"
	"fmt"
	"math"

	"github.com/yourusername/raceform/internal/features"
	"github.com/yourusername/raceform/internal/models"
)

// ConditionalLogit models the winner of each race as a softmax draw over
// linear scores. Only the winner enters the likelihood; finishing order
// beyond first place is ignored.
type ConditionalLogit struct {
	opts     Options
	weights  []float64
	scaler   *standardizer
	trainNLL float64
}

// NewConditionalLogit creates an unfitted conditional-logit model.
func NewConditionalLogit(opts Options) (*ConditionalLogit, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &ConditionalLogit{opts: opts}, nil
}

func (m *ConditionalLogit) Name() string {
	return models.ModelVariantConditionalLogit
}

// Fit estimates weights by minimizing the mean winner negative
// log-likelihood with deterministic batch gradient descent.
func (m *ConditionalLogit) Fit(ctx context.Context, races []*models.Race, feats []*features.RaceFeatures) error {
	if err := checkTrainingInput(races, feats); err != nil {
		return err
	}
	dim := len(features.FeatureNames)

	all := make([][]float64, 0)
	for _, rf := range feats {
		for _, vec := range rf.Vectors {
			all = append(all, vec.Values)
		}
	}
	scaler := fitStandardizer(all, dim)

	rows := make([][][]float64, len(feats))
	winners := make([]int, len(races))
	for r, rf := range feats {
		rows[r] = make([][]float64, len(rf.Vectors))
		for i, vec := range rf.Vectors {
			rows[r][i] = scaler.transform(vec.Values)
		}
		win, err := winnerIndex(races[r])
		if err != nil {
			return err
		}
		winners[r] = win
	}

	compute := func(w, grad []float64) (float64, error) {
		nll := 0.0
		for r := range rows {
			race := rows[r]
			scores := make([]float64, len(race))
			for i, x := range race {
				scores[i] = dot(w, x)
			}
			lse := logSumExp(scores)
			if math.IsNaN(lse) || math.IsInf(lse, 0) {
				return 0, fmt.Errorf("race %d: %w", races[r].ID, models.ErrNonFiniteScore)
			}
			nll += lse - scores[winners[r]]
			for i, x := range race {
				p := math.Exp(scores[i] - lse)
				for j := range grad {
					grad[j] += p * x[j]
				}
			}
			for j := range grad {
				grad[j] -= race[winners[r]][j]
			}
		}
		n := float64(len(rows))
		for j := range grad {
			grad[j] /= n
		}
		return nll / n, nil
	}

	weights, nll, err := descend(ctx, m.opts, dim, compute)
	if err != nil {
		return fmt.Errorf("fit conditional logit: %w", err)
	}
	m.weights = weights
	m.scaler = scaler
	m.trainNLL = nll
	return nil
}

// Predict returns the win distribution for a race.
func (m *ConditionalLogit) Predict(race *models.Race, feats *features.RaceFeatures) (*Assignment, error) {
	if m.weights == nil {
		return nil, models.ErrModelNotFitted
	}
	return predictScores(m.weights, m.scaler, race, feats)
}

// TrainNLL returns the mean negative log-likelihood at convergence.
func (m *ConditionalLogit) TrainNLL() float64 {
	return m.trainNLL
}

// Export serializes the fitted weights and scaler.
func (m *ConditionalLogit) Export() ([]byte, error) {
	return exportModel(m.Name(), features.FeatureNames, m.weights, m.scaler, m.trainNLL)
}

// winnerIndex locates the top finisher within the race's runner order.
func winnerIndex(race *models.Race) (int, error) {
	order := race.FinishOrder()
	if len(order) == 0 {
		return 0, fmt.Errorf("race %d has no finishers: %w", race.ID, models.ErrNotSettled)
	}
	for i, runner := range race.Runners {
		if runner == order[0] {
			return i, nil
		}
	}
	return 0, fmt.Errorf("race %d: winner not among runners: %w", race.ID, models.ErrInvalidInput)
}

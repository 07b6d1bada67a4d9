package racemodel

import (
	"context"
	"fmt"
	"math"

	"github.com/yourusername/raceform/internal/features"
	"github.com/yourusername/raceform/internal/models"
)

// PlackettLuce models the full finishing order by sequential elimination:
// the observed ranking's likelihood is the product of successive softmax
// picks over the not-yet-placed entrants. Non-finishers carry no rank, so
// they appear only as never-chosen alternatives in each stage's choice set.
// The richer loss changes training; prediction is still the win
// distribution.
type PlackettLuce struct {
	opts     Options
	weights  []float64
	scaler   *standardizer
	trainNLL float64
}

// NewPlackettLuce creates an unfitted Plackett-Luce model.
func NewPlackettLuce(opts Options) (*PlackettLuce, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &PlackettLuce{opts: opts}, nil
}

func (m *PlackettLuce) Name() string {
	return models.ModelVariantPlackettLuce
}

// Fit estimates weights by minimizing the mean ranking negative
// log-likelihood with deterministic batch gradient descent.
func (m *PlackettLuce) Fit(ctx context.Context, races []*models.Race, feats []*features.RaceFeatures) error {
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
	rankings := make([][]int, len(races))
	for r, rf := range feats {
		rows[r] = make([][]float64, len(rf.Vectors))
		for i, vec := range rf.Vectors {
			rows[r][i] = scaler.transform(vec.Values)
		}
		ranking, err := finishIndices(races[r])
		if err != nil {
			return err
		}
		rankings[r] = ranking
	}

	compute := func(w, grad []float64) (float64, error) {
		nll := 0.0
		for r := range rows {
			race := rows[r]
			scores := make([]float64, len(race))
			for i, x := range race {
				scores[i] = dot(w, x)
			}

			remaining := make([]int, len(race))
			for i := range remaining {
				remaining[i] = i
			}

			for _, chosen := range rankings[r] {
				if len(remaining) == 1 {
					break
				}
				stage := make([]float64, len(remaining))
				for k, idx := range remaining {
					stage[k] = scores[idx]
				}
				lse := logSumExp(stage)
				if math.IsNaN(lse) || math.IsInf(lse, 0) {
					return 0, fmt.Errorf("race %d: %w", races[r].ID, models.ErrNonFiniteScore)
				}
				nll += lse - scores[chosen]

				for _, idx := range remaining {
					p := math.Exp(scores[idx] - lse)
					for j := range grad {
						grad[j] += p * race[idx][j]
					}
				}
				for j := range grad {
					grad[j] -= race[chosen][j]
				}

				for k, idx := range remaining {
					if idx == chosen {
						remaining = append(remaining[:k], remaining[k+1:]...)
						break
					}
				}
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
		return fmt.Errorf("fit plackett-luce: %w", err)
	}
	m.weights = weights
	m.scaler = scaler
	m.trainNLL = nll
	return nil
}

// Predict returns the win distribution, the first elimination stage of the
// ranking model.
func (m *PlackettLuce) Predict(race *models.Race, feats *features.RaceFeatures) (*Assignment, error) {
	if m.weights == nil {
		return nil, models.ErrModelNotFitted
	}
	return predictScores(m.weights, m.scaler, race, feats)
}

// TrainNLL returns the mean negative log-likelihood at convergence.
func (m *PlackettLuce) TrainNLL() float64 {
	return m.trainNLL
}

// Export serializes the fitted weights and scaler.
func (m *PlackettLuce) Export() ([]byte, error) {
	return exportModel(m.Name(), features.FeatureNames, m.weights, m.scaler, m.trainNLL)
}

// finishIndices returns runner indices in finishing order. Non-finishers are
// absent: they are never chosen at any stage.
func finishIndices(race *models.Race) ([]int, error) {
	order := race.FinishOrder()
	if len(order) == 0 {
		return nil, fmt.Errorf("race %d has no finishers: %w", race.ID, models.ErrNotSettled)
	}
	byRunner := make(map[*models.Runner]int, len(race.Runners))
	for i, runner := range race.Runners {
		byRunner[runner] = i
	}
	indices := make([]int, 0, len(order))
	for _, runner := range order {
		idx, ok := byRunner[runner]
		if !ok {
			return nil, fmt.Errorf("race %d: finisher not among runners: %w", race.ID, models.ErrInvalidInput)
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

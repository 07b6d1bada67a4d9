package racemodel

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/yourusername/raceform/internal/models"
)

// standardizer centers and scales features with statistics computed on
// training data only. NaN inputs (missing attributes) are excluded from the
// statistics and transform to 0, the post-scaling mean.
type standardizer struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

func fitStandardizer(feats [][]float64, dim int) *standardizer {
	s := &standardizer{
		Mean: make([]float64, dim),
		Std:  make([]float64, dim),
	}
	counts := make([]float64, dim)
	for _, row := range feats {
		for j, v := range row {
			if math.IsNaN(v) {
				continue
			}
			s.Mean[j] += v
			counts[j]++
		}
	}
	for j := range s.Mean {
		if counts[j] > 0 {
			s.Mean[j] /= counts[j]
		}
	}
	for _, row := range feats {
		for j, v := range row {
			if math.IsNaN(v) {
				continue
			}
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		if counts[j] > 1 {
			s.Std[j] = math.Sqrt(s.Std[j] / counts[j])
		}
		if s.Std[j] == 0 {
			s.Std[j] = 1
		}
	}
	return s
}

func (s *standardizer) transform(values []float64) []float64 {
	out := make([]float64, len(values))
	for j, v := range values {
		if math.IsNaN(v) {
			out[j] = 0
			continue
		}
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

// gradFunc evaluates the mean negative log-likelihood at w and accumulates
// the mean gradient into grad (zeroed by the caller).
type gradFunc func(w, grad []float64) (float64, error)

// descend runs deterministic batch gradient descent from zero-initialized
// weights: fixed data order, no stochastic component, convergence on NLL
// improvement below tolerance.
func descend(ctx context.Context, opts Options, dim int, compute gradFunc) ([]float64, float64, error) {
	w := make([]float64, dim)
	grad := make([]float64, dim)
	prevNLL := math.Inf(1)
	nll := prevNLL

	for epoch := 0; epoch < opts.MaxEpochs; epoch++ {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		default:
		}

		for j := range grad {
			grad[j] = 0
		}
		var err error
		nll, err = compute(w, grad)
		if err != nil {
			return nil, 0, err
		}
		if math.IsNaN(nll) || math.IsInf(nll, 0) {
			return nil, 0, fmt.Errorf("epoch %d: loss %v: %w", epoch, nll, models.ErrNonFiniteScore)
		}

		if math.Abs(prevNLL-nll) < opts.Tolerance {
			return w, nll, nil
		}
		prevNLL = nll

		for j := range w {
			w[j] -= opts.LearningRate * grad[j]
		}
	}
	return w, nll, nil
}

// exportedModel is the persisted form of a fitted model.
type exportedModel struct {
	Variant  string        `json:"variant"`
	Names    []string      `json:"feature_names"`
	Weights  []float64     `json:"weights"`
	Scaler   *standardizer `json:"scaler"`
	TrainNLL float64       `json:"train_nll"`
}

func exportModel(variant string, names []string, weights []float64, scaler *standardizer, nll float64) ([]byte, error) {
	if weights == nil {
		return nil, models.ErrModelNotFitted
	}
	return json.Marshal(exportedModel{
		Variant:  variant,
		Names:    names,
		Weights:  weights,
		Scaler:   scaler,
		TrainNLL: nll,
	})
}

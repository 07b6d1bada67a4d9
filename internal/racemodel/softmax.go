// Package racemodel converts per-entrant scores into win-probability
// distributions and fits the score weights by maximum likelihood.
package racemodel

import (
	"fmt"
	"math"

	"github.com/yourusername/raceform/internal/models"
)

// sumTolerance bounds the acceptable deviation of a probability
// distribution from exactly one.
const sumTolerance = 1e-9

// StableSoftmax maps raw scores onto a probability distribution. The max
// score is subtracted before exponentiation, which keeps the largest term
// at exp(0) and the denominator at least 1, so extreme scores cannot
// overflow. Non-finite scores are rejected outright.
func StableSoftmax(scores []float64) ([]float64, error) {
	if len(scores) == 0 {
		return nil, fmt.Errorf("empty score set: %w", models.ErrInvalidInput)
	}

	max := scores[0]
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("score %d is %v: %w", i, s, models.ErrNonFiniteScore)
		}
		if s > max {
			max = s
		}
	}

	probs := make([]float64, len(scores))
	sum := 0.0
	for i, s := range scores {
		probs[i] = math.Exp(s - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}

	total := 0.0
	for _, p := range probs {
		total += p
	}
	if math.Abs(total-1) > sumTolerance {
		return nil, fmt.Errorf("softmax sum %v: %w", total, models.ErrBadDistribution)
	}
	return probs, nil
}

// logSumExp computes log(sum(exp(scores))) with the same max-subtraction
// guard as StableSoftmax.
func logSumExp(scores []float64) float64 {
	max := scores[0]
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	sum := 0.0
	for _, s := range scores {
		sum += math.Exp(s - max)
	}
	return max + math.Log(sum)
}

package racemodel

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/raceform/internal/models"
)

func TestStableSoftmaxOrderedScores(t *testing.T) {
	probs, err := StableSoftmax([]float64{2, 1, 0, -1})
	require.NoError(t, err)
	require.Len(t, probs, 4)

	sum := 0.0
	for i, p := range probs {
		sum += p
		if i > 0 {
			assert.Less(t, p, probs[i-1], "unit-spaced scores must give strictly descending probabilities")
		}
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	// Unit score gaps mean successive probability ratios of e.
	for i := 0; i < 3; i++ {
		assert.InDelta(t, math.E, probs[i]/probs[i+1], 1e-9)
	}
}

func TestStableSoftmaxExtremeScores(t *testing.T) {
	probs, err := StableSoftmax([]float64{1000, 0, -1000})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, probs[0], 1e-9)
	assert.InDelta(t, 0.0, probs[1], 1e-9)

	sum := probs[0] + probs[1] + probs[2]
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestStableSoftmaxUniform(t *testing.T) {
	probs, err := StableSoftmax([]float64{3.5, 3.5, 3.5, 3.5})
	require.NoError(t, err)
	for _, p := range probs {
		assert.InDelta(t, 0.25, p, 1e-12)
	}
}

func TestStableSoftmaxRejectsNonFinite(t *testing.T) {
	_, err := StableSoftmax([]float64{1, math.NaN()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNonFiniteScore))

	_, err = StableSoftmax([]float64{math.Inf(1), 0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNonFiniteScore))
}

func TestStableSoftmaxRejectsEmpty(t *testing.T) {
	_, err := StableSoftmax(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestLogSumExp(t *testing.T) {
	assert.InDelta(t, math.Log(2), logSumExp([]float64{0, 0}), 1e-12)
	// Max subtraction keeps huge scores finite.
	assert.InDelta(t, 1000, logSumExp([]float64{1000, -1000}), 1e-9)
}

package racemodel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/raceform/internal/features"
	"github.com/yourusername/raceform/internal/models"
)

var fitStart = time.Date(2022, 4, 1, 12, 0, 0, 0, time.UTC)

// syntheticRace builds a settled race whose finishing order follows the
// given ratings descending, with matching feature vectors where only the
// horse_rating column is informative.
func syntheticRace(id int64, ratings []float64) (*models.Race, *features.RaceFeatures) {
	race := &models.Race{
		ID:        id,
		Start:     fitStart.Add(time.Duration(id) * time.Hour),
		Course:    "Doncaster",
		RaceType:  "flat",
		FieldSize: len(ratings),
		Status:    models.RaceStatusSettled,
	}
	rf := &features.RaceFeatures{
		RaceID: id,
		At:     race.Start,
		Names:  features.FeatureNames,
	}

	for i, r := range ratings {
		rank := 1
		for _, other := range ratings {
			if other > r {
				rank++
			}
		}
		pos := rank
		race.Runners = append(race.Runners, &models.Runner{
			RaceID:         id,
			HorseID:        int64(i + 1),
			FinishPosition: &pos,
		})
		values := make([]float64, len(features.FeatureNames))
		values[0] = r
		rf.Vectors = append(rf.Vectors, features.Vector{HorseID: int64(i + 1), Values: values})
	}
	return race, rf
}

func trainingSet(n int) ([]*models.Race, []*features.RaceFeatures) {
	races := make([]*models.Race, 0, n)
	feats := make([]*features.RaceFeatures, 0, n)
	patterns := [][]float64{
		{0.9, 0.5, 0.1},
		{0.8, 0.6, 0.2},
		{0.7, 0.4, 0.3},
		{0.95, 0.45, 0.15},
	}
	for i := 0; i < n; i++ {
		race, rf := syntheticRace(int64(i+1), patterns[i%len(patterns)])
		races = append(races, race)
		feats = append(feats, rf)
	}
	return races, feats
}

func TestConditionalLogitLearnsRatingSignal(t *testing.T) {
	model, err := NewConditionalLogit(DefaultOptions())
	require.NoError(t, err)

	races, feats := trainingSet(24)
	require.NoError(t, model.Fit(context.Background(), races, feats))

	// Winner always has the highest rating, so fitting must find a positive
	// weight and beat the uniform baseline.
	assert.Less(t, model.TrainNLL(), 1.0986) // ln(3)

	probe, probeFeats := syntheticRace(1000, []float64{0.9, 0.5, 0.1})
	got, err := model.Predict(probe, probeFeats)
	require.NoError(t, err)
	require.Len(t, got.Probabilities, 3)
	assert.Greater(t, got.Probabilities[0], got.Probabilities[1])
	assert.Greater(t, got.Probabilities[1], got.Probabilities[2])

	sum := 0.0
	for _, p := range got.Probabilities {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestPlackettLuceLearnsRankingSignal(t *testing.T) {
	model, err := NewPlackettLuce(DefaultOptions())
	require.NoError(t, err)

	races, feats := trainingSet(24)
	require.NoError(t, model.Fit(context.Background(), races, feats))

	probe, probeFeats := syntheticRace(1000, []float64{0.2, 0.8, 0.5})
	got, err := model.Predict(probe, probeFeats)
	require.NoError(t, err)
	assert.Greater(t, got.Probabilities[1], got.Probabilities[2])
	assert.Greater(t, got.Probabilities[2], got.Probabilities[0])
}

func TestFitIsDeterministic(t *testing.T) {
	for _, variant := range []string{models.ModelVariantConditionalLogit, models.ModelVariantPlackettLuce} {
		t.Run(variant, func(t *testing.T) {
			fitOnce := func() ([]byte, float64) {
				model, err := New(variant, DefaultOptions())
				require.NoError(t, err)
				races, feats := trainingSet(16)
				require.NoError(t, model.Fit(context.Background(), races, feats))
				exported, err := model.Export()
				require.NoError(t, err)
				return exported, model.TrainNLL()
			}

			firstBytes, firstNLL := fitOnce()
			secondBytes, secondNLL := fitOnce()
			assert.Equal(t, firstBytes, secondBytes, "refit must reproduce weights bit for bit")
			assert.Equal(t, firstNLL, secondNLL)
		})
	}
}

func TestPredictSingleEntrantIsExactlyOne(t *testing.T) {
	model, err := NewConditionalLogit(DefaultOptions())
	require.NoError(t, err)
	races, feats := trainingSet(8)
	require.NoError(t, model.Fit(context.Background(), races, feats))

	solo, soloFeats := syntheticRace(2000, []float64{0.7})
	got, err := model.Predict(solo, soloFeats)
	require.NoError(t, err)
	require.Len(t, got.Probabilities, 1)
	assert.Equal(t, 1.0, got.Probabilities[0])
}

func TestPredictBeforeFitFails(t *testing.T) {
	model, err := NewConditionalLogit(DefaultOptions())
	require.NoError(t, err)

	race, rf := syntheticRace(1, []float64{0.5, 0.5})
	_, err = model.Predict(race, rf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrModelNotFitted))
}

func TestFitRejectsEmptyTrainingSet(t *testing.T) {
	model, err := NewConditionalLogit(DefaultOptions())
	require.NoError(t, err)

	err = model.Fit(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestFitRejectsMismatchedFeatures(t *testing.T) {
	model, err := NewConditionalLogit(DefaultOptions())
	require.NoError(t, err)

	races, feats := trainingSet(4)
	err = model.Fit(context.Background(), races, feats[:3])
	require.Error(t, err)

	// Feature set pointing at the wrong race is also rejected.
	races2, feats2 := trainingSet(2)
	feats2[0].RaceID = 999
	err = model.Fit(context.Background(), races2, feats2)
	require.Error(t, err)
}

func TestFitRejectsUnsettledRace(t *testing.T) {
	model, err := NewPlackettLuce(DefaultOptions())
	require.NoError(t, err)

	races, feats := trainingSet(4)
	races[2].Status = models.RaceStatusPending
	err = model.Fit(context.Background(), races, feats)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotSettled))
}

func TestFitHonorsCancellation(t *testing.T) {
	model, err := NewConditionalLogit(DefaultOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	races, feats := trainingSet(8)
	err = model.Fit(ctx, races, feats)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPlackettLuceHandlesNonFinishers(t *testing.T) {
	model, err := NewPlackettLuce(DefaultOptions())
	require.NoError(t, err)

	races, feats := trainingSet(8)
	// Knock out the last-placed runner of the first race.
	race := races[0]
	race.Runners[2].FinishPosition = nil
	race.Runners[2].NonFinisher = true

	require.NoError(t, model.Fit(context.Background(), races, feats))

	indices, err := finishIndices(race)
	require.NoError(t, err)
	assert.NotContains(t, indices, 2)
}

func TestModelFactory(t *testing.T) {
	cl, err := New(models.ModelVariantConditionalLogit, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, models.ModelVariantConditionalLogit, cl.Name())

	pl, err := New(models.ModelVariantPlackettLuce, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, models.ModelVariantPlackettLuce, pl.Name())

	_, err = New("gradient_boosted_trees", DefaultOptions())
	require.Error(t, err)
}

func TestOptionsValidation(t *testing.T) {
	_, err := NewConditionalLogit(Options{LearningRate: 0, MaxEpochs: 10, Tolerance: 1e-6})
	assert.Error(t, err)
	_, err = NewConditionalLogit(Options{LearningRate: 0.1, MaxEpochs: 0, Tolerance: 1e-6})
	assert.Error(t, err)
	_, err = NewPlackettLuce(Options{LearningRate: 0.1, MaxEpochs: 10, Tolerance: 0})
	assert.Error(t, err)
}

func TestExportRoundTrip(t *testing.T) {
	model, err := NewConditionalLogit(DefaultOptions())
	require.NoError(t, err)

	_, err = model.Export()
	require.Error(t, err, "unfitted model cannot export")

	races, feats := trainingSet(8)
	require.NoError(t, model.Fit(context.Background(), races, feats))

	exported, err := model.Export()
	require.NoError(t, err)
	assert.Contains(t, string(exported), "conditional_logit")
	assert.Contains(t, string(exported), "horse_rating")
}

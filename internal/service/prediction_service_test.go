package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/raceform/internal/models"
)

// fakeModelRepo is an in-memory ModelRepository.
type fakeModelRepo struct {
	byID    map[uuid.UUID]*models.Model
	latest  *models.Model
	upserts int
}

func newFakeModelRepo() *fakeModelRepo {
	return &fakeModelRepo{byID: make(map[uuid.UUID]*models.Model)}
}

func (f *fakeModelRepo) Upsert(ctx context.Context, model *models.Model) error {
	f.byID[model.ID] = model
	f.latest = model
	f.upserts++
	return nil
}

func (f *fakeModelRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Model, error) {
	model, ok := f.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return model, nil
}

func (f *fakeModelRepo) GetLatestByVariant(ctx context.Context, variant string) (*models.Model, error) {
	if f.latest == nil || f.latest.Variant != variant {
		return nil, models.ErrNotFound
	}
	return f.latest, nil
}

// fakePredictionRepo is an in-memory PredictionRepository.
type fakePredictionRepo struct {
	rows     []*models.Prediction
	getCalls int
}

func (f *fakePredictionRepo) UpsertBatch(ctx context.Context, predictions []*models.Prediction) error {
	f.rows = append(f.rows, predictions...)
	return nil
}

func (f *fakePredictionRepo) GetByRaceID(ctx context.Context, raceID int64) ([]*models.Prediction, error) {
	f.getCalls++
	out := make([]*models.Prediction, 0)
	for _, row := range f.rows {
		if row.RaceID == raceID {
			out = append(out, row)
		}
	}
	return out, nil
}

func newTestPrediction(t *testing.T, races *fakeRaceRepo) (*PredictionService, *fakeModelRepo, *fakePredictionRepo) {
	t.Helper()
	modelRepo := newFakeModelRepo()
	predRepo := &fakePredictionRepo{}
	svc, err := NewPredictionService(races, modelRepo, predRepo, testConfig(), testLogger())
	require.NoError(t, err)
	return svc, modelRepo, predRepo
}

func TestRefreshPredictionsFitsAndPredicts(t *testing.T) {
	base := time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRaceRepo()
	repo.races[1] = fixtureRace(1, base, 1, 2)
	repo.races[2] = fixtureRace(2, base.Add(time.Hour), 2, 3)
	repo.races[3] = fixtureRace(3, base.Add(2*time.Hour), 1, 3)
	repo.races[4] = fixtureRace(4, base.Add(3*time.Hour), 2, 1)
	repo.races[99] = fixturePendingRace(99, base.Add(24*time.Hour), 1, 2)

	svc, modelRepo, predRepo := newTestPrediction(t, repo)

	run, err := svc.RefreshPredictions(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, run.TrainRaces)
	assert.Equal(t, 1, run.PendingRaces)
	assert.Equal(t, 0, run.SkippedRaces)
	assert.Equal(t, 2, run.Predictions)
	assert.Greater(t, run.TrainNLL, 0.0)

	require.NotNil(t, modelRepo.latest)
	assert.Equal(t, models.ModelVariantConditionalLogit, modelRepo.latest.Variant)
	assert.Equal(t, 4, modelRepo.latest.TrainRaces)
	assert.NotEmpty(t, modelRepo.latest.Weights)
	wantID := models.DeterministicModelID("raceform-test", models.ModelVariantConditionalLogit)
	assert.Equal(t, wantID, run.ModelID)
	assert.Equal(t, wantID, modelRepo.latest.ID)

	require.Len(t, predRepo.rows, 2)
	sum := 0.0
	for _, row := range predRepo.rows {
		assert.Equal(t, int64(99), row.RaceID)
		assert.Equal(t, run.ModelID, row.ModelID)
		assert.Greater(t, row.Probability, 0.0)
		sum += row.Probability
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestRefreshPredictionsWarmsCache(t *testing.T) {
	base := time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRaceRepo()
	repo.races[1] = fixtureRace(1, base, 1, 2)
	repo.races[2] = fixtureRace(2, base.Add(time.Hour), 2, 1)
	repo.races[99] = fixturePendingRace(99, base.Add(24*time.Hour), 1, 2)

	svc, _, predRepo := newTestPrediction(t, repo)

	_, err := svc.RefreshPredictions(context.Background())
	require.NoError(t, err)

	assignment, err := svc.PredictRace(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, int64(99), assignment.RaceID)
	assert.Len(t, assignment.Probabilities, 2)
	assert.Equal(t, 0, predRepo.getCalls, "cache hit skips the store")
}

func TestRefreshPredictionsMinTrainGuard(t *testing.T) {
	base := time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRaceRepo()
	repo.races[1] = fixtureRace(1, base, 1, 2)

	svc, _, _ := newTestPrediction(t, repo)

	_, err := svc.RefreshPredictions(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrModelNotFitted))
}

func TestPredictRaceFallsBackToStore(t *testing.T) {
	repo := newFakeRaceRepo()
	svc, modelRepo, predRepo := newTestPrediction(t, repo)

	now := time.Now().UTC()
	record := &models.Model{
		ID:        uuid.New(),
		Name:      "raceform-test",
		Variant:   models.ModelVariantConditionalLogit,
		TrainedAt: now,
		CreatedAt: now,
	}
	require.NoError(t, modelRepo.Upsert(context.Background(), record))
	predRepo.rows = []*models.Prediction{
		{ID: uuid.New(), ModelID: record.ID, RaceID: 55, HorseID: 7, Probability: 0.7, PredictedAt: now},
		{ID: uuid.New(), ModelID: record.ID, RaceID: 55, HorseID: 8, Probability: 0.3, PredictedAt: now},
	}

	assignment, err := svc.PredictRace(context.Background(), 55)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8}, assignment.HorseIDs)
	assert.Equal(t, []float64{0.7, 0.3}, assignment.Probabilities)
	assert.Equal(t, 1, predRepo.getCalls)

	// Second lookup is served from cache.
	_, err = svc.PredictRace(context.Background(), 55)
	require.NoError(t, err)
	assert.Equal(t, 1, predRepo.getCalls)
}

func TestPredictRaceNoModel(t *testing.T) {
	svc, _, _ := newTestPrediction(t, newFakeRaceRepo())

	_, err := svc.PredictRace(context.Background(), 55)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestPredictRaceNoPredictions(t *testing.T) {
	svc, modelRepo, _ := newTestPrediction(t, newFakeRaceRepo())

	now := time.Now().UTC()
	require.NoError(t, modelRepo.Upsert(context.Background(), &models.Model{
		ID:        uuid.New(),
		Name:      "raceform-test",
		Variant:   models.ModelVariantConditionalLogit,
		TrainedAt: now,
		CreatedAt: now,
	}))

	_, err := svc.PredictRace(context.Background(), 55)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

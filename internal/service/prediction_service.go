package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/raceform/internal/config"
	"github.com/yourusername/raceform/internal/features"
	"github.com/yourusername/raceform/internal/metrics"
	"github.com/yourusername/raceform/internal/models"
	"github.com/yourusername/raceform/internal/racemodel"
	"github.com/yourusername/raceform/internal/rating"
	"github.com/yourusername/raceform/internal/repository"
	"github.com/yourusername/raceform/internal/timeline"
)

// PredictionService fits the configured model on the settled prefix of the
// timeline and serves win distributions for pending racecards.
type PredictionService struct {
	races       repository.RaceRepository
	modelRepo   repository.ModelRepository
	predictions repository.PredictionRepository
	cfg         *config.Config
	cache       *PredictionCache
	logger      *logrus.Logger
}

// PredictionRun summarizes one refresh pass.
type PredictionRun struct {
	ModelID      uuid.UUID
	Variant      string
	TrainRaces   int
	PendingRaces int
	Predictions  int
	SkippedRaces int
	TrainNLL     float64
	Duration     time.Duration
}

// NewPredictionService creates a new prediction service.
func NewPredictionService(
	races repository.RaceRepository,
	modelRepo repository.ModelRepository,
	predictions repository.PredictionRepository,
	cfg *config.Config,
	log *logrus.Logger,
) (*PredictionService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Rating.NonFinisherPerf == nil {
		return nil, fmt.Errorf("rating.non_finisher_perf is required")
	}

	ttl := time.Duration(cfg.Prediction.CacheTTLSeconds) * time.Second
	return &PredictionService{
		races:       races,
		modelRepo:   modelRepo,
		predictions: predictions,
		cfg:         cfg,
		cache:       NewPredictionCache(ttl),
		logger:      log,
	}, nil
}

// RefreshPredictions replays the settled timeline, fits a fresh model,
// persists it, and writes a win distribution for every pending race.
func (s *PredictionService) RefreshPredictions(ctx context.Context) (*PredictionRun, error) {
	started := time.Now()

	all, err := s.races.GetAllOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load races: %w", err)
	}
	tl, err := timeline.New(all)
	if err != nil {
		return nil, fmt.Errorf("failed to build timeline: %w", err)
	}
	settled := tl.Settled()
	pending := tl.Pending()

	minTrain := s.cfg.Prediction.MinTrainRaces
	if minTrain < 1 {
		minTrain = 1
	}
	if len(settled) < minTrain {
		return nil, fmt.Errorf("%d settled races available, need at least %d: %w",
			len(settled), minTrain, models.ErrModelNotFitted)
	}

	store := rating.NewStore(s.cfg.Rating.PerStratum)
	engine, err := rating.NewEngine(store, ratingParamsFromConfig(&s.cfg.Rating), s.logger, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rating engine: %w", err)
	}
	assembler, err := features.NewAssembler(store, s.cfg.Rating.DefaultRating)
	if err != nil {
		return nil, fmt.Errorf("failed to build feature assembler: %w", err)
	}

	// Replay: assemble each race's features strictly before applying its
	// outcome so training vectors never see their own result.
	trainRaces := make([]*models.Race, 0, len(settled))
	trainFeats := make([]*features.RaceFeatures, 0, len(settled))
	for _, race := range settled {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		feats, err := assembler.Assemble(race)
		if err != nil {
			return nil, fmt.Errorf("failed to assemble features for race %d: %w", race.ID, err)
		}
		trainRaces = append(trainRaces, race)
		trainFeats = append(trainFeats, feats)
		if err := engine.ApplyRace(race); err != nil {
			return nil, fmt.Errorf("failed to apply race %d: %w", race.ID, err)
		}
	}

	variant := s.cfg.Model.Variant
	model, err := racemodel.New(variant, modelOptionsFromConfig(&s.cfg.Model))
	if err != nil {
		return nil, err
	}

	fitStart := time.Now()
	if err := model.Fit(ctx, trainRaces, trainFeats); err != nil {
		metrics.RecordModelFit(variant, "error", time.Since(fitStart).Seconds())
		return nil, fmt.Errorf("model fit failed: %w", err)
	}
	metrics.RecordModelFit(variant, "success", time.Since(fitStart).Seconds())

	record, err := s.persistModel(ctx, model, variant, len(trainRaces))
	if err != nil {
		return nil, err
	}

	run := &PredictionRun{
		ModelID:      record.ID,
		Variant:      variant,
		TrainRaces:   len(trainRaces),
		PendingRaces: len(pending),
		TrainNLL:     model.TrainNLL(),
	}

	predictions := make([]*models.Prediction, 0, len(pending)*8)
	now := time.Now().UTC()
	for _, race := range pending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		assignment, err := s.predictPending(model, assembler, race)
		if err != nil {
			run.SkippedRaces++
			s.logger.WithFields(logrus.Fields{
				"race_id": race.ID,
				"error":   err,
			}).Warn("skipping race prediction")
			continue
		}
		for i, horseID := range assignment.HorseIDs {
			predictions = append(predictions, &models.Prediction{
				ID:          uuid.New(),
				ModelID:     record.ID,
				RaceID:      race.ID,
				HorseID:     horseID,
				Probability: assignment.Probabilities[i],
				PredictedAt: now,
			})
		}
		s.cache.Set(race.ID, record.ID, assignment)
		metrics.RecordPrediction(variant, false)
	}

	if len(predictions) > 0 {
		if err := s.predictions.UpsertBatch(ctx, predictions); err != nil {
			return nil, fmt.Errorf("failed to persist predictions: %w", err)
		}
	}
	run.Predictions = len(predictions)
	run.Duration = time.Since(started)

	s.logger.WithFields(logrus.Fields{
		"model_id":    run.ModelID,
		"variant":     run.Variant,
		"train_races": run.TrainRaces,
		"pending":     run.PendingRaces,
		"predictions": run.Predictions,
		"skipped":     run.SkippedRaces,
		"train_nll":   run.TrainNLL,
		"duration":    run.Duration,
	}).Info("prediction refresh complete")

	return run, nil
}

// PredictRace returns the win distribution for a race, from cache when warm,
// falling back to the persisted predictions.
func (s *PredictionService) PredictRace(ctx context.Context, raceID int64) (*racemodel.Assignment, error) {
	record, err := s.modelRepo.GetLatestByVariant(ctx, s.cfg.Model.Variant)
	if err != nil {
		return nil, fmt.Errorf("no fitted model for variant %s: %w", s.cfg.Model.Variant, err)
	}

	if assignment, ok := s.cache.Get(raceID, record.ID); ok {
		metrics.RecordPrediction(record.Variant, true)
		return assignment, nil
	}

	stored, err := s.predictions.GetByRaceID(ctx, raceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load predictions for race %d: %w", raceID, err)
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("race %d has no predictions: %w", raceID, models.ErrNotFound)
	}

	assignment := &racemodel.Assignment{RaceID: raceID}
	for _, prediction := range stored {
		assignment.HorseIDs = append(assignment.HorseIDs, prediction.HorseID)
		assignment.Probabilities = append(assignment.Probabilities, prediction.Probability)
	}
	s.cache.Set(raceID, record.ID, assignment)
	metrics.RecordPrediction(record.Variant, false)
	return assignment, nil
}

// Cache exposes the prediction cache for health reporting.
func (s *PredictionService) Cache() *PredictionCache {
	return s.cache
}

func (s *PredictionService) predictPending(model racemodel.Model, assembler *features.Assembler, race *models.Race) (*racemodel.Assignment, error) {
	feats, err := assembler.Assemble(race)
	if err != nil {
		var leak *models.LeakageError
		if errors.As(err, &leak) {
			metrics.RecordLeakageAbort()
		}
		return nil, err
	}
	return model.Predict(race, feats)
}

func (s *PredictionService) persistModel(ctx context.Context, model racemodel.Model, variant string, trainRaces int) (*models.Model, error) {
	weights, err := model.Export()
	if err != nil {
		return nil, fmt.Errorf("failed to export model weights: %w", err)
	}

	now := time.Now().UTC()
	record := &models.Model{
		ID:         models.DeterministicModelID(s.cfg.App.Name, variant),
		Name:       s.cfg.App.Name,
		Variant:    variant,
		TrainRaces: trainRaces,
		Weights:    weights,
		TrainedAt:  now,
		CreatedAt:  now,
	}
	if err := s.modelRepo.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist model: %w", err)
	}
	return record, nil
}

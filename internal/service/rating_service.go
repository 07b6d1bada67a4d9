package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/raceform/internal/config"
	"github.com/yourusername/raceform/internal/logger"
	"github.com/yourusername/raceform/internal/metrics"
	"github.com/yourusername/raceform/internal/models"
	"github.com/yourusername/raceform/internal/racemodel"
	"github.com/yourusername/raceform/internal/rating"
	"github.com/yourusername/raceform/internal/repository"
	"github.com/yourusername/raceform/internal/timeline"
)

// RatingService rebuilds the persisted rating history from settled races.
type RatingService struct {
	races   repository.RaceRepository
	ratings repository.RatingRepository
	cfg     *config.Config
	logger  *logrus.Logger
	audit   *logger.AuditLogger
}

// RatingRebuildRun summarizes one rebuild pass.
type RatingRebuildRun struct {
	Races     int
	Snapshots int
	Duration  time.Duration
}

// NewRatingService creates a new rating service. The audit logger is
// optional; when present every snapshot append is mirrored to it.
func NewRatingService(
	races repository.RaceRepository,
	ratings repository.RatingRepository,
	cfg *config.Config,
	log *logrus.Logger,
	audit *logger.AuditLogger,
) (*RatingService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Rating.NonFinisherPerf == nil {
		return nil, fmt.Errorf("rating.non_finisher_perf is required")
	}
	return &RatingService{
		races:   races,
		ratings: ratings,
		cfg:     cfg,
		logger:  log,
		audit:   audit,
	}, nil
}

// Rebuild replays every settled race in timeline order and replaces the
// persisted rating history with the result.
func (s *RatingService) Rebuild(ctx context.Context) (*RatingRebuildRun, error) {
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

	store := rating.NewStore(s.cfg.Rating.PerStratum)
	engine, err := rating.NewEngine(store, ratingParamsFromConfig(&s.cfg.Rating), s.logger, s.audit)
	if err != nil {
		return nil, fmt.Errorf("failed to build rating engine: %w", err)
	}
	if err := engine.Apply(ctx, settled); err != nil {
		return nil, fmt.Errorf("rating replay failed: %w", err)
	}

	snapshots := store.Snapshots()
	if err := s.ratings.DeleteAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to clear rating history: %w", err)
	}
	batch := make([]*models.RatingSnapshot, len(snapshots))
	for i := range snapshots {
		batch[i] = &snapshots[i]
	}
	if err := s.ratings.InsertBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to persist rating history: %w", err)
	}

	run := &RatingRebuildRun{
		Races:     len(settled),
		Snapshots: len(snapshots),
		Duration:  time.Since(started),
	}

	metrics.UpdateRatingStoreSize(float64(store.Size()))
	s.logger.WithFields(logrus.Fields{
		"races":     run.Races,
		"snapshots": run.Snapshots,
		"duration":  run.Duration,
	}).Info("rating rebuild complete")

	return run, nil
}

// ratingParamsFromConfig maps the rating section onto engine parameters.
// Callers have already checked NonFinisherPerf for nil.
func ratingParamsFromConfig(cfg *config.RatingConfig) rating.Params {
	return rating.Params{
		Alpha:           cfg.Alpha,
		DefaultRating:   cfg.DefaultRating,
		NonFinisherPerf: *cfg.NonFinisherPerf,
		ShrinkagePrior:  cfg.ShrinkagePrior,
	}
}

// modelOptionsFromConfig maps the model section onto fit options, falling
// back to defaults when the section leaves them all unset.
func modelOptionsFromConfig(cfg *config.ModelConfig) racemodel.Options {
	opts := racemodel.Options{
		LearningRate: cfg.LearningRate,
		MaxEpochs:    cfg.MaxEpochs,
		Tolerance:    cfg.Tolerance,
	}
	if (opts == racemodel.Options{}) {
		return racemodel.DefaultOptions()
	}
	return opts
}

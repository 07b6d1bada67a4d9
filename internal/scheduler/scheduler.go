// Package scheduler drives the recurring pipeline: ingest new form, rebuild
// ratings, refresh predictions. Job ordering within a day comes from the
// configured cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/raceform/internal/config"
	"github.com/yourusername/raceform/internal/service"
)

const (
	defaultSyncWindow  = 7 * 24 * time.Hour
	syncTimeout        = 4 * time.Hour
	rebuildTimeout     = time.Hour
	predictionsTimeout = 30 * time.Minute
)

// Ingestor runs one ingestion pass over every source.
type Ingestor interface {
	IngestAll(ctx context.Context, startDate, endDate time.Time) error
}

// RatingRebuilder replays the settled timeline into the rating store.
type RatingRebuilder interface {
	Rebuild(ctx context.Context) (*service.RatingRebuildRun, error)
}

// PredictionRefresher refits the model and rewrites pending predictions.
type PredictionRefresher interface {
	RefreshPredictions(ctx context.Context) (*service.PredictionRun, error)
}

// Scheduler manages the cron jobs of the ingestion daemon.
type Scheduler struct {
	cron        *cron.Cron
	ingestion   Ingestor
	ratings     RatingRebuilder
	predictions PredictionRefresher
	logger      *logrus.Logger
	syncWindow  time.Duration

	mu        sync.RWMutex
	isRunning bool
	jobIDs    []cron.EntryID
}

// NewScheduler creates a scheduler running in UTC. Jobs that are still
// running when their next tick arrives are skipped, not stacked.
func NewScheduler(ingestion Ingestor, ratings RatingRebuilder, predictions PredictionRefresher, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		ingestion:   ingestion,
		ratings:     ratings,
		predictions: predictions,
		logger:      logger,
		syncWindow:  defaultSyncWindow,
	}
}

// ScheduleAll registers the three pipeline jobs from the configured cron
// expressions.
func (s *Scheduler) ScheduleAll(schedule config.ScheduleConfig) error {
	if err := s.scheduleJob("historical_sync", schedule.HistoricalSync, s.runHistoricalSync); err != nil {
		return err
	}
	if err := s.scheduleJob("rating_rebuild", schedule.RatingRebuild, s.runRatingRebuild); err != nil {
		return err
	}
	return s.scheduleJob("predictions", schedule.Predictions, s.runPredictions)
}

// scheduleJob registers one job under its cron expression.
func (s *Scheduler) scheduleJob(name, expression string, run func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cannot schedule %s while scheduler is running", name)
	}

	entryID, err := s.cron.AddFunc(expression, func() {
		if err := run(context.Background()); err != nil {
			s.logger.WithFields(logrus.Fields{
				"job":   name,
				"error": err,
			}).Error("scheduled job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s (%q): %w", name, expression, err)
	}

	s.jobIDs = append(s.jobIDs, entryID)
	s.logger.WithFields(logrus.Fields{
		"job":  name,
		"cron": expression,
	}).Info("job scheduled")
	return nil
}

// RunOnce executes the full pipeline immediately: sync, rebuild, refresh.
// The daemon uses it to prime a fresh deployment before the first tick.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if err := s.runHistoricalSync(ctx); err != nil {
		return err
	}
	if err := s.runRatingRebuild(ctx); err != nil {
		return err
	}
	return s.runPredictions(ctx)
}

func (s *Scheduler) runHistoricalSync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	endDate := time.Now().UTC()
	startDate := endDate.Add(-s.syncWindow)
	s.logger.WithFields(logrus.Fields{
		"from": startDate.Format("2006-01-02"),
		"to":   endDate.Format("2006-01-02"),
	}).Info("historical sync starting")

	if err := s.ingestion.IngestAll(ctx, startDate, endDate); err != nil {
		return fmt.Errorf("historical sync: %w", err)
	}
	return nil
}

func (s *Scheduler) runRatingRebuild(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, rebuildTimeout)
	defer cancel()

	run, err := s.ratings.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rating rebuild: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"races":     run.Races,
		"snapshots": run.Snapshots,
	}).Info("scheduled rating rebuild complete")
	return nil
}

func (s *Scheduler) runPredictions(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, predictionsTimeout)
	defer cancel()

	run, err := s.predictions.RefreshPredictions(ctx)
	if err != nil {
		return fmt.Errorf("prediction refresh: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"predictions": run.Predictions,
		"skipped":     run.SkippedRaces,
	}).Info("scheduled prediction refresh complete")
	return nil
}

// Start starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if len(s.jobIDs) == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.WithField("jobs", len(s.jobIDs)).Info("scheduler started")
	return nil
}

// Stop stops the cron loop, waiting for running jobs up to the graceful
// timeout.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn("scheduler stop timed out with jobs still running")
	}
	s.isRunning = false
	s.logger.Info("scheduler stopped")
	return nil
}

// IsRunning reports whether the cron loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// NextRun returns the earliest upcoming job time, zero when idle.
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}

	next := time.Time{}
	for _, jobID := range s.jobIDs {
		entry := s.cron.Entry(jobID)
		if !entry.Valid() {
			continue
		}
		if next.IsZero() || entry.Next.Before(next) {
			next = entry.Next
		}
	}
	return next
}

// Entries returns the live cron entries.
func (s *Scheduler) Entries() []cron.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]cron.Entry, 0, len(s.jobIDs))
	for _, jobID := range s.jobIDs {
		entry := s.cron.Entry(jobID)
		if entry.Valid() {
			entries = append(entries, entry)
		}
	}
	return entries
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/raceform/internal/datasource"
	"github.com/yourusername/raceform/internal/metrics"
	"github.com/yourusername/raceform/internal/models"
	"github.com/yourusername/raceform/internal/repository"
)

// IngestionService runs the fetch, clean, validate, persist pipeline.
type IngestionService struct {
	sources   []datasource.Source
	races     repository.RaceRepository
	cleaner   *DataCleaner
	validator *DataValidator
	metrics   *IngestionMetrics
	logger    *logrus.Logger
	batchSize int
}

// NewIngestionService creates a new ingestion service.
func NewIngestionService(
	sources []datasource.Source,
	races repository.RaceRepository,
	cleaner *DataCleaner,
	validator *DataValidator,
	logger *logrus.Logger,
	batchSize int,
) *IngestionService {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &IngestionService{
		sources:   sources,
		races:     races,
		cleaner:   cleaner,
		validator: validator,
		metrics:   NewIngestionMetrics(),
		logger:    logger,
		batchSize: batchSize,
	}
}

// IngestFromSource fetches, cleans and persists one source's rows within the
// date range. A zero start and end date means the source's full history.
func (s *IngestionService) IngestFromSource(ctx context.Context, sourceName string, startDate, endDate time.Time) (*IngestionMetrics, error) {
	s.metrics.Reset()

	var source datasource.Source
	for _, candidate := range s.sources {
		if candidate.Name() == sourceName {
			source = candidate
			break
		}
	}
	if source == nil {
		return nil, fmt.Errorf("data source not found: %s", sourceName)
	}

	s.logger.WithFields(logrus.Fields{
		"source": sourceName,
		"from":   startDate.Format(datasource.DateLayout),
		"to":     endDate.Format(datasource.DateLayout),
	}).Info("starting ingestion")

	records, err := source.FetchRecords(ctx, startDate, endDate)
	if err != nil {
		s.metrics.RecordError()
		metrics.RecordIngestionRun("error")
		return s.metrics, fmt.Errorf("failed to fetch records from %s: %w", sourceName, err)
	}

	races, report := s.cleaner.CleanRecords(records)
	s.metrics.RecordClean(report)
	s.logger.WithField("source", sourceName).Info(report.String())

	for start := 0; start < len(races); start += s.batchSize {
		end := start + s.batchSize
		if end > len(races) {
			end = len(races)
		}
		if err := s.processBatch(ctx, races[start:end], sourceName); err != nil {
			s.metrics.Finish()
			metrics.RecordIngestionRun("error")
			return s.metrics, err
		}
	}

	s.metrics.Finish()
	metrics.ObserveIngestionDuration(s.metrics.Duration.Seconds())
	metrics.RecordIngestionRun("success")
	s.logger.WithField("source", sourceName).Info(s.metrics.String())

	return s.metrics, nil
}

// IngestAll runs one ingestion pass over every configured source.
func (s *IngestionService) IngestAll(ctx context.Context, startDate, endDate time.Time) error {
	var failed []string
	for _, source := range s.sources {
		if _, err := s.IngestFromSource(ctx, source.Name(), startDate, endDate); err != nil {
			failed = append(failed, source.Name())
			s.logger.WithFields(logrus.Fields{
				"source": source.Name(),
				"error":  err,
			}).Error("ingestion failed")
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("ingestion failed for sources: %s", strings.Join(failed, ", "))
	}
	return nil
}

// processBatch persists a batch of races, isolating per-race failures so one
// bad race does not abort the pass. Context cancellation does abort.
func (s *IngestionService) processBatch(ctx context.Context, races []*models.Race, sourceName string) error {
	for _, race := range races {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.processRace(ctx, race, sourceName); err != nil {
			s.metrics.RecordError()
			s.logger.WithFields(logrus.Fields{
				"race_id": race.ID,
				"error":   err,
			}).Error("failed to process race")
		}
	}
	return nil
}

// processRace validates and persists a single race. Known races are skipped
// as duplicates, except when a pending race can now be settled.
func (s *IngestionService) processRace(ctx context.Context, race *models.Race, sourceName string) error {
	if msgs := s.validator.ValidateRace(race); len(msgs) > 0 {
		s.metrics.RecordValidationError()
		return fmt.Errorf("race %d validation failed: %s", race.ID, strings.Join(msgs, "; "))
	}

	exists, err := s.races.Exists(ctx, race.ID)
	if err != nil {
		return fmt.Errorf("failed to check for existing race %d: %w", race.ID, err)
	}
	if exists {
		if race.IsSettled() {
			return s.settleExisting(ctx, race)
		}
		s.metrics.RecordDuplicate()
		return nil
	}

	if err := s.races.CreateWithRunners(ctx, race); err != nil {
		return fmt.Errorf("failed to persist race %d: %w", race.ID, err)
	}

	s.metrics.RecordRace()
	s.metrics.RecordRunners(len(race.Runners))
	metrics.RecordRaceIngested(sourceName)
	return nil
}

// settleExisting applies freshly arrived results to a race that was first
// ingested as a pending racecard.
func (s *IngestionService) settleExisting(ctx context.Context, race *models.Race) error {
	existing, err := s.races.GetByID(ctx, race.ID)
	if err != nil {
		return fmt.Errorf("failed to load existing race %d: %w", race.ID, err)
	}
	if existing.IsSettled() {
		s.metrics.RecordDuplicate()
		return nil
	}

	if err := s.races.SettleResults(ctx, race); err != nil {
		return fmt.Errorf("failed to settle race %d: %w", race.ID, err)
	}
	s.metrics.RecordSettled()
	s.logger.WithField("race_id", race.ID).Info("settled pending race")
	return nil
}

// GetMetrics returns the current ingestion metrics.
func (s *IngestionService) GetMetrics() *IngestionMetrics {
	return s.metrics
}

// ResetMetrics resets the ingestion metrics.
func (s *IngestionService) ResetMetrics() {
	s.metrics.Reset()
}

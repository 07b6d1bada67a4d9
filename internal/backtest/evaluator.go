package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/raceform/internal/features"
	"github.com/yourusername/raceform/internal/logger"
	"github.com/yourusername/raceform/internal/metrics"
	"github.com/yourusername/raceform/internal/models"
	"github.com/yourusername/raceform/internal/racemodel"
	"github.com/yourusername/raceform/internal/rating"
	"github.com/yourusername/raceform/internal/timeline"
)

// Phase labels what the evaluator is doing
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseTraining    Phase = "training"
	PhaseScoring     Phase = "scoring"
	PhaseAggregating Phase = "aggregating"
	PhaseComplete    Phase = "complete"
)

// Evaluator runs forward-chaining evaluation over an ordered race timeline.
// Each fold rebuilds ratings from scratch on its train window, fits a fresh
// model, then scores the test window against the frozen train-boundary
// store. No state crosses a fold boundary.
type Evaluator struct {
	cfg  BacktestConfig
	log  *logrus.Logger
	elog *logger.EvalLogger

	mu    sync.RWMutex
	phase Phase
}

// NewEvaluator creates an evaluator. The config is validated and defaulted
// in place.
func NewEvaluator(cfg BacktestConfig, log *logrus.Logger) (*Evaluator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required: %w", models.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest config: %w", err)
	}
	return &Evaluator{
		cfg:   cfg,
		log:   log,
		elog:  logger.NewEvalLogger(log),
		phase: PhaseIdle,
	}, nil
}

// Phase returns the evaluator's current phase.
func (e *Evaluator) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

func (e *Evaluator) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// Run evaluates the timeline with an automatically built fold plan.
func (e *Evaluator) Run(ctx context.Context, tl *timeline.Timeline) (*Report, error) {
	if tl == nil {
		return nil, fmt.Errorf("timeline is required: %w", models.ErrInvalidInput)
	}
	races := tl.Races()
	folds, err := BuildFolds(races, e.cfg)
	if err != nil {
		return nil, err
	}
	return e.RunFolds(ctx, races, folds)
}

// RunFolds evaluates an explicit fold plan over races already in timeline
// order. A train window reaching into its test window is information
// leakage and aborts the whole run; an undersized train window only skips
// its fold.
func (e *Evaluator) RunFolds(ctx context.Context, races []*models.Race, folds []Fold) (*Report, error) {
	if len(races) == 0 {
		return nil, fmt.Errorf("no races to evaluate: %w", models.ErrInvalidInput)
	}
	if len(folds) == 0 {
		return nil, fmt.Errorf("no folds to run: %w", models.ErrInvalidInput)
	}

	report := &Report{
		RunID:        uuid.New().String(),
		ModelVariant: e.cfg.ModelVariant,
		StartedAt:    time.Now().UTC(),
		TotalRaces:   len(races),
		Folds:        make([]FoldMetrics, 0, len(folds)),
	}
	pooled := newAccumulator(e.cfg.CalibrationBins)

	for _, fold := range folds {
		select {
		case <-ctx.Done():
			e.setPhase(PhaseIdle)
			return nil, ctx.Err()
		default:
		}

		foldStart := time.Now()
		fm, skip, err := e.runFold(ctx, races, fold, pooled)
		if err != nil {
			e.setPhase(PhaseIdle)
			var leak *models.LeakageError
			if errors.As(err, &leak) {
				metrics.RecordLeakageAbort()
				e.log.WithFields(logrus.Fields{
					"fold":        fold.Index,
					"race_id":     leak.RaceID,
					"race_start":  leak.RaceStart,
					"entity":      leak.Entity.String(),
					"snapshot_at": leak.SnapshotAt,
					"detail":      leak.Detail,
				}).Error("Leakage detected, aborting evaluation run")
			}
			return nil, fmt.Errorf("fold %d: %w", fold.Index, err)
		}
		if skip != nil {
			report.Skipped = append(report.Skipped, *skip)
			e.elog.LogFoldSkipped(fold.Index, skip.Reason)
			metrics.RecordFoldEvaluated("skipped")
			continue
		}

		fm.DurationMS = time.Since(foldStart).Milliseconds()
		report.Folds = append(report.Folds, *fm)
		e.elog.LogFoldComplete(fold.Index, fm.TestRaces, fm.LogLoss, fm.Brier, time.Since(foldStart))
		metrics.RecordFoldEvaluated("evaluated")
		metrics.ObserveFoldDuration(time.Since(foldStart).Seconds())
	}

	e.setPhase(PhaseAggregating)
	report.Aggregate = AggregateMetrics{
		Races:       pooled.races,
		Runners:     pooled.runners,
		LogLoss:     pooled.logLoss(),
		Brier:       pooled.brier(),
		FloorHits:   pooled.floorHits,
		Market:      pooled.market(),
		Calibration: pooled.calibration(),
	}
	report.FinishedAt = time.Now().UTC()
	report.Notes = buildNotes(pooled)

	metrics.SetEvaluationScores(e.cfg.ModelVariant, report.Aggregate.LogLoss, report.Aggregate.Brier)
	e.elog.LogRunComplete(report.RunID, len(report.Folds), len(report.Skipped),
		pooled.races, report.Aggregate.LogLoss, report.Aggregate.Brier)
	e.setPhase(PhaseComplete)
	return report, nil
}

// checkFold rejects malformed fold plans. Out-of-range indices are plain
// input errors; a train window overlapping its test window means train
// outcomes dated at or after the test start, which is leakage and fatal.
func checkFold(races []*models.Race, fold Fold) error {
	n := len(races)
	if fold.TrainEnd < 0 || fold.TestStart < 0 || fold.TestEnd < fold.TestStart || fold.TestEnd > n {
		return fmt.Errorf("fold %d indices [%d,%d,%d] outside %d races: %w",
			fold.Index, fold.TrainEnd, fold.TestStart, fold.TestEnd, n, models.ErrInvalidInput)
	}
	if fold.TrainEnd > fold.TestStart {
		offender := races[fold.TrainEnd-1]
		return &models.LeakageError{
			RaceID:    offender.ID,
			RaceStart: offender.Start,
			Detail: fmt.Sprintf("train window reaches race index %d, past test window start %d",
				fold.TrainEnd-1, fold.TestStart),
		}
	}
	if fold.TrainEnd > 0 && fold.TestStart < fold.TestEnd {
		lastTrain := races[fold.TrainEnd-1]
		firstTest := races[fold.TestStart]
		if !lastTrain.Start.Before(firstTest.Start) {
			return &models.LeakageError{
				RaceID:    lastTrain.ID,
				RaceStart: lastTrain.Start,
				Detail: fmt.Sprintf("train race %d at %s not strictly before test window start %s",
					lastTrain.ID, lastTrain.Start.Format(time.RFC3339), firstTest.Start.Format(time.RFC3339)),
			}
		}
	}
	return nil
}

func settledOnly(races []*models.Race) []*models.Race {
	out := make([]*models.Race, 0, len(races))
	for _, race := range races {
		if race.IsSettled() {
			out = append(out, race)
		}
	}
	return out
}

// runFold trains on the fold's train window and scores its test window,
// merging runner-level scores into the pooled accumulator on success.
func (e *Evaluator) runFold(ctx context.Context, races []*models.Race, fold Fold, pooled *accumulator) (*FoldMetrics, *SkippedFold, error) {
	if err := checkFold(races, fold); err != nil {
		return nil, nil, err
	}

	train := settledOnly(races[:fold.TrainEnd])
	testRaces := settledOnly(races[fold.TestStart:fold.TestEnd])
	if len(testRaces) == 0 {
		return nil, &SkippedFold{
			Index:      fold.Index,
			Reason:     "no settled races in test window",
			TrainRaces: len(train),
		}, nil
	}
	if len(train) < e.cfg.MinTrainRaces {
		return nil, &SkippedFold{
			Index:      fold.Index,
			Reason:     fmt.Sprintf("train window holds %d settled races, need %d", len(train), e.cfg.MinTrainRaces),
			TrainRaces: len(train),
			TestRaces:  len(testRaces),
		}, nil
	}

	e.setPhase(PhaseTraining)
	e.elog.LogFoldPhase(fold.Index, string(PhaseTraining), len(train), len(testRaces))

	store := rating.NewStore(e.cfg.PerStratum)
	engine, err := rating.NewEngine(store, e.cfg.RatingParams, e.log, nil)
	if err != nil {
		return nil, nil, err
	}
	asm, err := features.NewAssembler(store, e.cfg.RatingParams.DefaultRating)
	if err != nil {
		return nil, nil, err
	}

	// Assemble each train race's features before folding its outcome in, so
	// every vector sees only strictly earlier results.
	trainFeats := make([]*features.RaceFeatures, 0, len(train))
	for _, race := range train {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		feats, err := asm.Assemble(race)
		if err != nil {
			return nil, nil, fmt.Errorf("assemble train race %d: %w", race.ID, err)
		}
		if err := engine.ApplyRace(race); err != nil {
			return nil, nil, fmt.Errorf("apply train race %d: %w", race.ID, err)
		}
		trainFeats = append(trainFeats, feats)
	}

	model, err := racemodel.New(e.cfg.ModelVariant, e.cfg.FitOptions)
	if err != nil {
		return nil, nil, err
	}
	if err := model.Fit(ctx, train, trainFeats); err != nil {
		return nil, nil, fmt.Errorf("fit: %w", err)
	}

	e.setPhase(PhaseScoring)
	e.elog.LogFoldPhase(fold.Index, string(PhaseScoring), len(train), len(testRaces))

	scores, err := e.scoreTestWindow(ctx, model, asm, testRaces)
	if err != nil {
		return nil, nil, err
	}

	acc := newAccumulator(e.cfg.CalibrationBins)
	for _, sc := range scores {
		acc.addRace(sc)
		if market, ok := marketProbs(sc.race); ok {
			acc.addMarket(sc, market)
		}
	}
	pooled.merge(acc)

	return &FoldMetrics{
		Index:       fold.Index,
		TrainRaces:  len(train),
		TestRaces:   len(testRaces),
		TestRunners: acc.runners,
		TrainNLL:    model.TrainNLL(),
		LogLoss:     acc.logLoss(),
		Brier:       acc.brier(),
		FloorHits:   acc.floorHits,
		Market:      acc.market(),
		Calibration: acc.calibration(),
	}, nil, nil
}

// scoreTestWindow predicts every test race against the frozen train-boundary
// store. Races fan out across cfg.Workers goroutines into indexed slots, so
// results aggregate in race order regardless of scheduling.
func (e *Evaluator) scoreTestWindow(ctx context.Context, model racemodel.Model, asm *features.Assembler, testRaces []*models.Race) ([]raceScore, error) {
	scores := make([]raceScore, len(testRaces))
	errs := make([]error, len(testRaces))

	workers := e.cfg.Workers
	if workers > len(testRaces) {
		workers = len(testRaces)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				scores[idx], errs[idx] = scoreRace(model, asm, testRaces[idx])
			}
		}()
	}

	var feedErr error
feed:
	for idx := range testRaces {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			feedErr = ctx.Err()
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if feedErr != nil {
		return nil, feedErr
	}
	for idx, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("score race %d: %w", testRaces[idx].ID, err)
		}
	}
	return scores, nil
}

func scoreRace(model racemodel.Model, asm *features.Assembler, race *models.Race) (raceScore, error) {
	feats, err := asm.Assemble(race)
	if err != nil {
		return raceScore{}, err
	}
	asgn, err := model.Predict(race, feats)
	if err != nil {
		return raceScore{}, err
	}
	return newRaceScore(race, asgn.Probabilities)
}

func buildNotes(pooled *accumulator) []string {
	var notes []string
	if pooled.floorHits > 0 {
		notes = append(notes, fmt.Sprintf(
			"%d winner probabilities clamped to %.0e before taking logs", pooled.floorHits, winnerProbFloor))
	}
	if pooled.mktRaces == 0 {
		notes = append(notes, "no race carried a full set of market probabilities; market baseline omitted")
	} else if pooled.mktRaces < pooled.races {
		notes = append(notes, fmt.Sprintf(
			"market baseline covers %d of %d races; model is rescored on that subset for the comparison",
			pooled.mktRaces, pooled.races))
	}
	return notes
}

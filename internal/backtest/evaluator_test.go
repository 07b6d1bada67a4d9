package backtest

import (
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/raceform/internal/models"
	"github.com/yourusername/raceform/internal/racemodel"
	"github.com/yourusername/raceform/internal/rating"
	"github.com/yourusername/raceform/internal/timeline"
)

var testStart = time.Date(2023, 4, 1, 13, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func evalConfig() BacktestConfig {
	return BacktestConfig{
		Folds:           3,
		WarmupRaces:     6,
		MinTrainRaces:   1,
		CalibrationBins: 10,
		Workers:         2,
		ModelVariant:    models.ModelVariantConditionalLogit,
		FitOptions:      racemodel.DefaultOptions(),
		RatingParams:    rating.Params{Alpha: 0.3, DefaultRating: 0.5, NonFinisherPerf: 0.1, ShrinkagePrior: 2},
	}
}

// settledRace builds a settled race. order lists horse IDs by finishing
// position; runners are carried in ascending horse order regardless, so the
// winner's slice index varies between races.
func settledRace(id int64, start time.Time, order ...int64) *models.Race {
	horses := append([]int64(nil), order...)
	sort.Slice(horses, func(i, j int) bool { return horses[i] < horses[j] })
	posOf := make(map[int64]int, len(order))
	for i, horseID := range order {
		posOf[horseID] = i + 1
	}

	race := &models.Race{
		ID:            id,
		Start:         start,
		Course:        "Kempton",
		RaceType:      "flat",
		DistanceYards: 1760,
		FieldSize:     len(order),
		Status:        models.RaceStatusSettled,
	}
	for _, horseID := range horses {
		pos := posOf[horseID]
		race.Runners = append(race.Runners, &models.Runner{
			RaceID:         id,
			HorseID:        horseID,
			FinishPosition: &pos,
		})
	}
	return race
}

// syntheticSeason produces hourly races over four horses with a mostly
// stable pecking order, so fitted models find genuine signal.
func syntheticSeason(n int) []*models.Race {
	races := make([]*models.Race, 0, n)
	for i := 0; i < n; i++ {
		start := testStart.Add(time.Duration(i) * time.Hour)
		order := []int64{1, 2, 3, 4}
		if i%5 == 4 {
			order = []int64{2, 1, 4, 3}
		}
		races = append(races, settledRace(int64(i+1), start, order...))
	}
	return races
}

func newTestEvaluator(t *testing.T, cfg BacktestConfig) *Evaluator {
	t.Helper()
	ev, err := NewEvaluator(cfg, testLogger())
	require.NoError(t, err)
	return ev
}

func TestNewEvaluatorRejectsBadInputs(t *testing.T) {
	_, err := NewEvaluator(evalConfig(), nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	cfg := evalConfig()
	cfg.Folds = -1
	_, err = NewEvaluator(cfg, testLogger())
	assert.Error(t, err)

	cfg = evalConfig()
	cfg.CalibrationBins = 1
	_, err = NewEvaluator(cfg, testLogger())
	assert.Error(t, err)
}

func TestRunProducesExpandingFolds(t *testing.T) {
	tl, err := timeline.New(syntheticSeason(24))
	require.NoError(t, err)
	ev := newTestEvaluator(t, evalConfig())

	report, err := ev.Run(context.Background(), tl)
	require.NoError(t, err)
	require.Len(t, report.Folds, 3)
	assert.Empty(t, report.Skipped)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, models.ModelVariantConditionalLogit, report.ModelVariant)
	assert.Equal(t, 24, report.TotalRaces)
	assert.Equal(t, PhaseComplete, ev.Phase())

	scored := 0
	prevTrain := 0
	for _, fm := range report.Folds {
		assert.Greater(t, fm.TrainRaces, prevTrain, "train windows must expand")
		prevTrain = fm.TrainRaces
		assert.Positive(t, fm.TestRaces)
		assert.Positive(t, fm.LogLoss)
		assert.Positive(t, fm.Brier)
		assert.Len(t, fm.Calibration, 10)
		scored += fm.TestRaces
	}
	assert.Equal(t, 18, scored)
	assert.Equal(t, scored, report.Aggregate.Races)
	assert.Equal(t, 18*4, report.Aggregate.Runners)
	assert.Positive(t, report.Aggregate.LogLoss)
	assert.Positive(t, report.Aggregate.Brier)
}

func TestRunFoldsTrainOverlapIsFatal(t *testing.T) {
	races := syntheticSeason(24)
	cfg := evalConfig()
	ev := newTestEvaluator(t, cfg)

	folds, err := BuildFolds(races, cfg)
	require.NoError(t, err)
	folds[1].TrainEnd = folds[1].TestStart + 5

	report, err := ev.RunFolds(context.Background(), races, folds)
	require.Error(t, err)
	assert.Nil(t, report)

	var leak *models.LeakageError
	require.ErrorAs(t, err, &leak)
	assert.Equal(t, races[folds[1].TrainEnd-1].ID, leak.RaceID)
	assert.Contains(t, err.Error(), "leakage")
	assert.Equal(t, PhaseIdle, ev.Phase())
}

func TestRunFoldsBoundaryTimestampIsFatal(t *testing.T) {
	races := syntheticSeason(8)
	races[4].Start = races[3].Start
	ev := newTestEvaluator(t, evalConfig())

	folds := []Fold{{Index: 0, TrainEnd: 4, TestStart: 4, TestEnd: 8}}
	_, err := ev.RunFolds(context.Background(), races, folds)
	require.Error(t, err)

	var leak *models.LeakageError
	require.ErrorAs(t, err, &leak)
	assert.Contains(t, leak.Detail, "not strictly before")
}

func TestRunFoldsSkipsUndersizedTrain(t *testing.T) {
	races := syntheticSeason(12)
	cfg := evalConfig()
	cfg.MinTrainRaces = 5
	ev := newTestEvaluator(t, cfg)

	folds := []Fold{
		{Index: 0, TrainEnd: 2, TestStart: 2, TestEnd: 7},
		{Index: 1, TrainEnd: 7, TestStart: 7, TestEnd: 12},
	}
	report, err := ev.RunFolds(context.Background(), races, folds)
	require.NoError(t, err)

	require.Len(t, report.Skipped, 1)
	assert.Equal(t, 0, report.Skipped[0].Index)
	assert.Contains(t, report.Skipped[0].Reason, "need 5")
	require.Len(t, report.Folds, 1)
	assert.Equal(t, 1, report.Folds[0].Index)
	assert.Equal(t, 5, report.Aggregate.Races)
}

func TestRunFoldsSkipsEmptyTestWindow(t *testing.T) {
	races := syntheticSeason(12)
	ev := newTestEvaluator(t, evalConfig())

	folds := []Fold{
		{Index: 0, TrainEnd: 6, TestStart: 6, TestEnd: 6},
		{Index: 1, TrainEnd: 6, TestStart: 6, TestEnd: 12},
	}
	report, err := ev.RunFolds(context.Background(), races, folds)
	require.NoError(t, err)

	require.Len(t, report.Skipped, 1)
	assert.Contains(t, report.Skipped[0].Reason, "no settled races")
	require.Len(t, report.Folds, 1)
	assert.Equal(t, 6, report.Folds[0].TestRaces)
}

func TestRunIsDeterministic(t *testing.T) {
	races := syntheticSeason(24)

	run := func() *Report {
		tl, err := timeline.New(races)
		require.NoError(t, err)
		ev := newTestEvaluator(t, evalConfig())
		report, err := ev.Run(context.Background(), tl)
		require.NoError(t, err)
		return report
	}

	first := run()
	second := run()
	require.Len(t, second.Folds, len(first.Folds))
	for i := range first.Folds {
		assert.Equal(t, first.Folds[i].TrainNLL, second.Folds[i].TrainNLL)
		assert.Equal(t, first.Folds[i].LogLoss, second.Folds[i].LogLoss)
		assert.Equal(t, first.Folds[i].Brier, second.Folds[i].Brier)
	}
	assert.Equal(t, first.Aggregate.LogLoss, second.Aggregate.LogLoss)
	assert.Equal(t, first.Aggregate.Brier, second.Aggregate.Brier)
	assert.Equal(t, first.Aggregate.Calibration, second.Aggregate.Calibration)
}

func TestRunMarketBaselineCoversPricedSubset(t *testing.T) {
	races := syntheticSeason(16)
	prices := []float64{0.40, 0.30, 0.20, 0.15}
	for i, race := range races {
		if i%2 != 0 {
			continue
		}
		for j, runner := range race.Runners {
			p := prices[j]
			runner.MarketProb = &p
		}
	}

	cfg := evalConfig()
	cfg.Folds = 2
	cfg.WarmupRaces = 4
	tl, err := timeline.New(races)
	require.NoError(t, err)
	ev := newTestEvaluator(t, cfg)

	report, err := ev.Run(context.Background(), tl)
	require.NoError(t, err)
	assert.Equal(t, 12, report.Aggregate.Races)

	mkt := report.Aggregate.Market
	require.NotNil(t, mkt)
	assert.Equal(t, 6, mkt.Races)
	assert.Positive(t, mkt.MarketLogLoss)
	assert.Positive(t, mkt.ModelLogLoss)
	assert.Positive(t, mkt.MarketBrier)
	assert.Contains(t, strings.Join(report.Notes, "\n"), "covers 6 of 12")
}

func TestRunFoldsSingleEntrantScoresCertainty(t *testing.T) {
	races := []*models.Race{
		settledRace(1, testStart, 1, 2),
		settledRace(2, testStart.Add(time.Hour), 2, 1),
		settledRace(3, testStart.Add(2*time.Hour), 1, 2),
		settledRace(4, testStart.Add(3*time.Hour), 9),
	}
	ev := newTestEvaluator(t, evalConfig())

	folds := []Fold{{Index: 0, TrainEnd: 3, TestStart: 3, TestEnd: 4}}
	report, err := ev.RunFolds(context.Background(), races, folds)
	require.NoError(t, err)
	require.Len(t, report.Folds, 1)

	// A one-entrant race is certain, so it contributes exactly zero loss.
	assert.Zero(t, report.Folds[0].LogLoss)
	assert.Zero(t, report.Folds[0].Brier)
	assert.Zero(t, report.Folds[0].FloorHits)
}

func TestRunCancelledContext(t *testing.T) {
	tl, err := timeline.New(syntheticSeason(24))
	require.NoError(t, err)
	ev := newTestEvaluator(t, evalConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ev.Run(ctx, tl)
	assert.ErrorIs(t, err, context.Canceled)
}

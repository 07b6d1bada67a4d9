package rating

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/raceform/internal/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testParams() Params {
	return Params{Alpha: 0.3, DefaultRating: 0.5, NonFinisherPerf: 0.1, ShrinkagePrior: 2}
}

// entry describes one runner: pos 0 marks a non-finisher, jockey/trainer 0
// mark absent agents.
type entry struct {
	horse   int64
	pos     int
	jockey  int64
	trainer int64
}

func raceAt(id int64, start time.Time, entries []entry) *models.Race {
	race := &models.Race{
		ID:        id,
		Start:     start,
		Course:    "Newmarket",
		RaceType:  "flat",
		FieldSize: len(entries),
		Status:    models.RaceStatusSettled,
	}
	for _, e := range entries {
		runner := &models.Runner{RaceID: id, HorseID: e.horse}
		if e.pos > 0 {
			pos := e.pos
			runner.FinishPosition = &pos
		} else {
			runner.NonFinisher = true
		}
		if e.jockey > 0 {
			j := e.jockey
			runner.JockeyID = &j
		}
		if e.trainer > 0 {
			tr := e.trainer
			runner.TrainerID = &tr
		}
		race.Runners = append(race.Runners, runner)
	}
	return race
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(NewStore(false), testParams(), testLogger(), nil)
	require.NoError(t, err)
	return engine
}

func TestEngineHandComputedSequence(t *testing.T) {
	engine := newTestEngine(t)
	t1 := t0
	t2 := t0.Add(24 * time.Hour)
	t3 := t0.Add(48 * time.Hour)

	races := []*models.Race{
		raceAt(101, t1, []entry{{horse: 1, pos: 1}, {horse: 2, pos: 2}}),
		raceAt(102, t2, []entry{{horse: 1, pos: 2}, {horse: 2, pos: 1}}),
		raceAt(103, t3, []entry{{horse: 1, pos: 1}, {horse: 2, pos: 2}}),
	}
	require.NoError(t, engine.Apply(context.Background(), races))

	store := engine.Store()
	horseA, horseB := models.HorseRef(1), models.HorseRef(2)

	// After race 1: 0.3*perf + 0.7*0.5.
	gotA, ok := store.AsOf(horseA, "flat", t2)
	require.True(t, ok)
	assert.InDelta(t, 0.65, gotA.Rating, 1e-12)
	gotB, ok := store.AsOf(horseB, "flat", t2)
	require.True(t, ok)
	assert.InDelta(t, 0.35, gotB.Rating, 1e-12)

	// After race 2 the blend compounds.
	gotA, ok = store.AsOf(horseA, "flat", t3)
	require.True(t, ok)
	assert.InDelta(t, 0.455, gotA.Rating, 1e-12)
	gotB, ok = store.AsOf(horseB, "flat", t3)
	require.True(t, ok)
	assert.InDelta(t, 0.545, gotB.Rating, 1e-12)

	// Final state after race 3.
	lastA, ok := store.Latest(horseA, "flat")
	require.True(t, ok)
	assert.InDelta(t, 0.6185, lastA.Rating, 1e-12)
	assert.Equal(t, 3, lastA.Observations)
	lastB, ok := store.Latest(horseB, "flat")
	require.True(t, ok)
	assert.InDelta(t, 0.3815, lastB.Rating, 1e-12)

	// Before any race both horses are cold.
	_, ok = store.AsOf(horseA, "flat", t1)
	assert.False(t, ok)
	assert.Equal(t, 3, engine.Applied())
}

func TestEngineAgentShrinkage(t *testing.T) {
	engine := newTestEngine(t)
	t1 := t0
	t2 := t0.Add(24 * time.Hour)

	// Jockey 7 rides horse 1 to a win, then to last place.
	require.NoError(t, engine.ApplyRace(raceAt(101, t1, []entry{
		{horse: 1, pos: 1, jockey: 7},
		{horse: 2, pos: 2},
	})))
	require.NoError(t, engine.ApplyRace(raceAt(102, t2, []entry{
		{horse: 1, pos: 2, jockey: 7},
		{horse: 2, pos: 1},
	})))

	store := engine.Store()
	jockey := models.JockeyRef(7)

	// First ride: blended 0.65 shrunk with confidence 1/3 toward 0.5.
	first, ok := store.AsOf(jockey, "flat", t2)
	require.True(t, ok)
	assert.InDelta(t, 0.55, first.Rating, 1e-12)
	assert.Equal(t, 1, first.Observations)

	// Second ride: blended 0.7*0.55, confidence 1/2.
	second, ok := store.Latest(jockey, "flat")
	require.True(t, ok)
	assert.InDelta(t, 0.4425, second.Rating, 1e-12)
	assert.Equal(t, 2, second.Observations)
}

func TestEngineTrainerWithMultipleRunners(t *testing.T) {
	engine := newTestEngine(t)

	// Trainer 9 saddles both the winner and the last-placed runner: one
	// snapshot with the mean performance and two observations.
	require.NoError(t, engine.ApplyRace(raceAt(101, t0, []entry{
		{horse: 1, pos: 1, trainer: 9},
		{horse: 2, pos: 2, trainer: 9},
	})))

	trainer, ok := engine.Store().Latest(models.TrainerRef(9), "flat")
	require.True(t, ok)
	assert.Equal(t, 2, trainer.Observations)
	assert.InDelta(t, 0.5, trainer.Rating, 1e-12)
	assert.Equal(t, 1, len(engine.Store().History(models.TrainerRef(9), "flat")))
}

func TestEngineOrderingViolationIsFatal(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.ApplyRace(raceAt(102, t0.Add(time.Hour), []entry{{horse: 1, pos: 1}, {horse: 2, pos: 2}})))

	err := engine.ApplyRace(raceAt(101, t0, []entry{{horse: 3, pos: 1}, {horse: 4, pos: 2}}))
	require.Error(t, err)
	var ordErr *models.OrderingError
	require.True(t, errors.As(err, &ordErr))
	assert.Equal(t, int64(101), ordErr.RaceID)
	assert.Equal(t, int64(102), ordErr.LastID)
}

func TestEngineEqualTimestampsOrderByID(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.ApplyRace(raceAt(5, t0, []entry{{horse: 1, pos: 1}, {horse: 2, pos: 2}})))
	require.NoError(t, engine.ApplyRace(raceAt(6, t0, []entry{{horse: 3, pos: 1}, {horse: 4, pos: 2}})))

	err := engine.ApplyRace(raceAt(4, t0, []entry{{horse: 5, pos: 1}, {horse: 6, pos: 2}}))
	require.Error(t, err)
	var ordErr *models.OrderingError
	assert.True(t, errors.As(err, &ordErr))
}

func TestEngineRejectsDuplicateRace(t *testing.T) {
	engine := newTestEngine(t)
	race := raceAt(101, t0, []entry{{horse: 1, pos: 1}, {horse: 2, pos: 2}})

	require.NoError(t, engine.ApplyRace(race))
	err := engine.ApplyRace(race)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDuplicateKey))
}

func TestEngineRejectsUnsettledRaceAtomically(t *testing.T) {
	engine := newTestEngine(t)
	race := raceAt(101, t0, []entry{{horse: 1, pos: 1}, {horse: 2, pos: 2}})
	race.Status = models.RaceStatusPending

	err := engine.ApplyRace(race)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotSettled))
	assert.Equal(t, 0, engine.Store().Size())
	assert.Equal(t, 0, engine.Applied())
}

func TestEnginePerformanceMapping(t *testing.T) {
	engine := newTestEngine(t)

	prev := 2.0
	for rank := 1; rank <= 5; rank++ {
		pos := rank
		perf, err := engine.performance(&models.Runner{RaceID: 1, HorseID: 1, FinishPosition: &pos}, 5)
		require.NoError(t, err)
		assert.Less(t, perf, prev, "performance must fall with rank")
		assert.GreaterOrEqual(t, perf, 0.0)
		assert.LessOrEqual(t, perf, 1.0)
		prev = perf
	}

	pos := 1
	top, err := engine.performance(&models.Runner{FinishPosition: &pos}, 5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, top)

	pos = 5
	bottom, err := engine.performance(&models.Runner{FinishPosition: &pos}, 5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, bottom)

	nf, err := engine.performance(&models.Runner{NonFinisher: true}, 5)
	require.NoError(t, err)
	assert.Equal(t, 0.1, nf)
}

func TestEngineSingleEntrantField(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.ApplyRace(raceAt(101, t0, []entry{{horse: 1, pos: 1}})))

	got, ok := engine.Store().Latest(models.HorseRef(1), "flat")
	require.True(t, ok)
	// perf 1.0 outright: 0.3*1 + 0.7*0.5.
	assert.InDelta(t, 0.65, got.Rating, 1e-12)
}

func TestEngineNonFinisherPolicy(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.ApplyRace(raceAt(101, t0, []entry{{horse: 1, pos: 1}, {horse: 2, pos: 0}})))

	got, ok := engine.Store().Latest(models.HorseRef(2), "flat")
	require.True(t, ok)
	// 0.3*0.1 + 0.7*0.5.
	assert.InDelta(t, 0.38, got.Rating, 1e-12)
}

func TestEngineContextCancellation(t *testing.T) {
	engine := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := engine.Apply(ctx, []*models.Race{raceAt(101, t0, []entry{{horse: 1, pos: 1}, {horse: 2, pos: 2}})})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, engine.Applied())
}

func TestNewEngineValidatesParams(t *testing.T) {
	store := NewStore(false)
	log := testLogger()

	cases := []struct {
		name   string
		params Params
	}{
		{"zero alpha", Params{Alpha: 0, DefaultRating: 0.5, NonFinisherPerf: 0.1}},
		{"alpha above one", Params{Alpha: 1.5, DefaultRating: 0.5, NonFinisherPerf: 0.1}},
		{"default out of range", Params{Alpha: 0.3, DefaultRating: 1.2, NonFinisherPerf: 0.1}},
		{"non-finisher out of range", Params{Alpha: 0.3, DefaultRating: 0.5, NonFinisherPerf: -0.2}},
		{"negative prior", Params{Alpha: 0.3, DefaultRating: 0.5, NonFinisherPerf: 0.1, ShrinkagePrior: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEngine(store, tc.params, log, nil)
			assert.Error(t, err)
		})
	}

	_, err := NewEngine(nil, testParams(), log, nil)
	assert.Error(t, err)
}

func TestEngineDeterminism(t *testing.T) {
	run := func() []models.RatingSnapshot {
		engine := newTestEngine(t)
		races := []*models.Race{
			raceAt(101, t0, []entry{{horse: 1, pos: 1, jockey: 7, trainer: 9}, {horse: 2, pos: 2, jockey: 8, trainer: 9}}),
			raceAt(102, t0.Add(time.Hour), []entry{{horse: 2, pos: 1, jockey: 7}, {horse: 3, pos: 0, jockey: 8}}),
		}
		require.NoError(t, engine.Apply(context.Background(), races))
		return engine.Store().Snapshots()
	}

	first := run()
	second := run()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i], second[i])
	}
}

package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/raceform/internal/config"
	"github.com/yourusername/raceform/internal/service"
)

type fakePipeline struct {
	ingestCalls  int
	rebuildCalls int
	refreshCalls int
	ingestErr    error
	rebuildErr   error
	refreshErr   error
	lastStart    time.Time
	lastEnd      time.Time
}

func (f *fakePipeline) IngestAll(ctx context.Context, startDate, endDate time.Time) error {
	f.ingestCalls++
	f.lastStart = startDate
	f.lastEnd = endDate
	return f.ingestErr
}

func (f *fakePipeline) Rebuild(ctx context.Context) (*service.RatingRebuildRun, error) {
	f.rebuildCalls++
	if f.rebuildErr != nil {
		return nil, f.rebuildErr
	}
	return &service.RatingRebuildRun{Races: 3, Snapshots: 6}, nil
}

func (f *fakePipeline) RefreshPredictions(ctx context.Context) (*service.PredictionRun, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &service.PredictionRun{Predictions: 4}, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestScheduler(pipeline *fakePipeline) *Scheduler {
	return NewScheduler(pipeline, pipeline, pipeline, testLogger())
}

func validSchedule() config.ScheduleConfig {
	return config.ScheduleConfig{
		HistoricalSync: "0 2 * * *",
		RatingRebuild:  "0 3 * * *",
		Predictions:    "30 3 * * *",
	}
}

func TestScheduleAll(t *testing.T) {
	s := newTestScheduler(&fakePipeline{})

	require.NoError(t, s.ScheduleAll(validSchedule()))
	assert.Len(t, s.jobIDs, 3)
	assert.Len(t, s.Entries(), 3)
}

func TestScheduleAllRejectsBadExpression(t *testing.T) {
	s := newTestScheduler(&fakePipeline{})

	schedule := validSchedule()
	schedule.RatingRebuild = "not a cron line"
	err := s.ScheduleAll(schedule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rating_rebuild")
}

func TestStartStopLifecycle(t *testing.T) {
	s := newTestScheduler(&fakePipeline{})

	require.Error(t, s.Start(), "starting with no jobs is an error")

	require.NoError(t, s.ScheduleAll(validSchedule()))
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.Error(t, s.Start(), "double start is an error")

	next := s.NextRun()
	assert.False(t, next.IsZero())
	assert.True(t, next.After(time.Now().Add(-time.Minute)))
	assert.Len(t, s.Entries(), 3)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.True(t, s.NextRun().IsZero())
	require.NoError(t, s.Stop(), "stop is idempotent")
}

func TestScheduleWhileRunning(t *testing.T) {
	s := newTestScheduler(&fakePipeline{})
	require.NoError(t, s.ScheduleAll(validSchedule()))
	require.NoError(t, s.Start())
	defer s.Stop()

	err := s.ScheduleAll(validSchedule())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "while scheduler is running")
}

func TestRunOnce(t *testing.T) {
	pipeline := &fakePipeline{}
	s := newTestScheduler(pipeline)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, pipeline.ingestCalls)
	assert.Equal(t, 1, pipeline.rebuildCalls)
	assert.Equal(t, 1, pipeline.refreshCalls)

	window := pipeline.lastEnd.Sub(pipeline.lastStart)
	assert.Equal(t, defaultSyncWindow, window)
}

func TestRunOnceStopsOnFailure(t *testing.T) {
	pipeline := &fakePipeline{rebuildErr: errors.New("replay out of order")}
	s := newTestScheduler(pipeline)

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rating rebuild")
	assert.Equal(t, 1, pipeline.ingestCalls)
	assert.Equal(t, 1, pipeline.rebuildCalls)
	assert.Equal(t, 0, pipeline.refreshCalls, "refresh never runs after a rebuild failure")
}

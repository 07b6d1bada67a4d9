package backtest

import (
	"fmt"

	"github.com/yourusername/raceform/internal/models"
)

// Fold is one expanding-window evaluation step. Indices slice the ordered
// race timeline: train is races[:TrainEnd], test is races[TestStart:TestEnd].
// TrainEnd never exceeds TestStart, so every train race precedes every test
// race.
type Fold struct {
	Index     int `json:"index"`
	TrainEnd  int `json:"train_end"`
	TestStart int `json:"test_start"`
	TestEnd   int `json:"test_end"`
}

// BuildFolds partitions the races after the warmup segment into cfg.Folds
// contiguous test windows, the remainder spread over the earliest folds. A
// cut never splits a run of identical start times; the whole run stays on
// the train side so train races are strictly before test races.
func BuildFolds(races []*models.Race, cfg BacktestConfig) ([]Fold, error) {
	n := len(races)
	if n == 0 {
		return nil, fmt.Errorf("no races to evaluate: %w", models.ErrInvalidInput)
	}
	if cfg.Folds < 1 {
		return nil, fmt.Errorf("fold count %d: %w", cfg.Folds, models.ErrInvalidInput)
	}
	evaluable := n - cfg.WarmupRaces
	if evaluable < cfg.Folds {
		return nil, fmt.Errorf("%d races after warmup cannot fill %d folds: %w",
			evaluable, cfg.Folds, models.ErrInvalidInput)
	}

	cuts := make([]int, cfg.Folds+1)
	cuts[0] = cfg.WarmupRaces
	per := evaluable / cfg.Folds
	rem := evaluable % cfg.Folds
	for i := 1; i < cfg.Folds; i++ {
		cuts[i] = cuts[i-1] + per
		if i <= rem {
			cuts[i]++
		}
	}
	cuts[cfg.Folds] = n

	for i := 0; i < cfg.Folds; i++ {
		for cuts[i] > 0 && cuts[i] < n && races[cuts[i]].Start.Equal(races[cuts[i]-1].Start) {
			cuts[i]++
		}
		if i > 0 && cuts[i] < cuts[i-1] {
			cuts[i] = cuts[i-1]
		}
	}

	folds := make([]Fold, cfg.Folds)
	for i := 0; i < cfg.Folds; i++ {
		folds[i] = Fold{
			Index:     i,
			TrainEnd:  cuts[i],
			TestStart: cuts[i],
			TestEnd:   cuts[i+1],
		}
	}
	return folds, nil
}

package backtest

import (
	"fmt"

	"github.com/yourusername/raceform/internal/config"
	"github.com/yourusername/raceform/internal/models"
	"github.com/yourusername/raceform/internal/racemodel"
	"github.com/yourusername/raceform/internal/rating"
)

// BacktestConfig carries everything one forward-chaining evaluation run needs
type BacktestConfig struct {
	Folds           int
	WarmupRaces     int
	MinTrainRaces   int
	CalibrationBins int
	Workers         int
	OutputDir       string
	ModelVariant    string
	FitOptions      racemodel.Options
	RatingParams    rating.Params
	PerStratum      bool
}

// FromConfig converts app config to an evaluation config
func FromConfig(cfg *config.Config) (BacktestConfig, error) {
	if cfg == nil {
		return BacktestConfig{}, fmt.Errorf("config is required")
	}
	if cfg.Rating.NonFinisherPerf == nil {
		return BacktestConfig{}, fmt.Errorf("rating.non_finisher_perf is required")
	}

	bt := BacktestConfig{
		Folds:           cfg.Backtest.Folds,
		WarmupRaces:     cfg.Backtest.WarmupRaces,
		MinTrainRaces:   cfg.Backtest.MinTrainRaces,
		CalibrationBins: cfg.Backtest.CalibrationBins,
		Workers:         cfg.Backtest.Workers,
		OutputDir:       cfg.Backtest.OutputDir,
		ModelVariant:    cfg.Model.Variant,
		FitOptions: racemodel.Options{
			LearningRate: cfg.Model.LearningRate,
			MaxEpochs:    cfg.Model.MaxEpochs,
			Tolerance:    cfg.Model.Tolerance,
		},
		RatingParams: rating.Params{
			Alpha:           cfg.Rating.Alpha,
			DefaultRating:   cfg.Rating.DefaultRating,
			NonFinisherPerf: *cfg.Rating.NonFinisherPerf,
			ShrinkagePrior:  cfg.Rating.ShrinkagePrior,
		},
		PerStratum: cfg.Rating.PerStratum,
	}

	return bt, bt.Validate()
}

// Validate fills zero values with defaults and rejects out-of-range settings
func (b *BacktestConfig) Validate() error {
	if b.Folds == 0 {
		b.Folds = 5
	}
	if b.MinTrainRaces == 0 {
		b.MinTrainRaces = 1
	}
	if b.CalibrationBins == 0 {
		b.CalibrationBins = 10
	}
	if b.Workers == 0 {
		b.Workers = 1
	}
	if b.ModelVariant == "" {
		b.ModelVariant = models.ModelVariantConditionalLogit
	}
	if (b.FitOptions == racemodel.Options{}) {
		b.FitOptions = racemodel.DefaultOptions()
	}

	if b.Folds < 1 {
		return fmt.Errorf("folds must be positive, got %d", b.Folds)
	}
	if b.WarmupRaces < 0 {
		return fmt.Errorf("warmup races cannot be negative, got %d", b.WarmupRaces)
	}
	if b.MinTrainRaces < 1 {
		return fmt.Errorf("min train races must be positive, got %d", b.MinTrainRaces)
	}
	if b.CalibrationBins < 2 {
		return fmt.Errorf("calibration bins must be at least 2, got %d", b.CalibrationBins)
	}
	if b.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", b.Workers)
	}
	return nil
}

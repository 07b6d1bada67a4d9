// Package main provides the entry point for the forward-chaining evaluation CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/raceform/internal/backtest"
	"github.com/yourusername/raceform/internal/config"
	"github.com/yourusername/raceform/internal/database"
	"github.com/yourusername/raceform/internal/datasource"
	"github.com/yourusername/raceform/internal/models"
	"github.com/yourusername/raceform/internal/repository"
	"github.com/yourusername/raceform/internal/service"
	"github.com/yourusername/raceform/internal/timeline"
)

func main() {
	var (
		configPath = flag.String("config", "config/config.yaml", "Path to config file")
		csvPath    = flag.String("csv", "", "Evaluate a CSV form file instead of the database")
		folds      = flag.Int("folds", 0, "Override the number of evaluation folds")
		variant    = flag.String("variant", "", "Override the model variant: conditional_logit, plackett_luce")
		output     = flag.String("output", "", "Output path for the JSON report")
		persist    = flag.Bool("persist", false, "Persist the evaluation run to the database")
	)
	flag.Parse()

	logger := newLogger()
	ctx := context.Background()

	cfg := loadConfigWithSecrets(*configPath, logger)
	if level, err := logrus.ParseLevel(cfg.App.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	btConfig := buildBacktestConfig(cfg, *folds, *variant, logger)

	if *csvPath != "" && *persist {
		logger.Fatalf("-persist needs the database and cannot be combined with -csv")
	}

	var (
		races []*models.Race
		repos *repository.Repositories
	)
	if *csvPath != "" {
		races = loadRacesFromCSV(ctx, *csvPath, logger)
	} else {
		db, err := database.NewDB(ctx, &cfg.Database)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		repos, err = repository.NewRepositories(db)
		if err != nil {
			logger.Fatalf("Failed to initialize repositories: %v", err)
		}
		races, err = repos.Race.GetAllOrdered(ctx)
		if err != nil {
			logger.Fatalf("Failed to load races: %v", err)
		}
	}

	tl, err := timeline.New(races)
	if err != nil {
		logger.Fatalf("Failed to build timeline: %v", err)
	}

	evaluator, err := backtest.NewEvaluator(btConfig, logger)
	if err != nil {
		logger.Fatalf("Failed to create evaluator: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"races":   tl.Len(),
		"folds":   btConfig.Folds,
		"variant": btConfig.ModelVariant,
	}).Info("Starting evaluation")

	report, err := evaluator.Run(ctx, tl)
	if err != nil {
		var leak *models.LeakageError
		if errors.As(err, &leak) {
			logger.WithError(err).Error("Future-dated snapshot reached a training fold; aborting")
			os.Exit(2)
		}
		logger.Fatalf("Evaluation failed: %v", err)
	}

	fmt.Print(backtest.GenerateConsoleReport(report))

	outputPath := *output
	if outputPath == "" {
		outputPath = filepath.Join(btConfig.OutputDir, fmt.Sprintf("evaluation_%s.json", report.RunID))
	}
	if err := backtest.ExportJSON(report, outputPath); err != nil {
		logger.Fatalf("Failed to export report: %v", err)
	}
	logger.WithField("path", outputPath).Info("Report written")

	if *persist {
		persistReport(ctx, repos.Evaluation, report, logger)
	}
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	return logger
}

func loadConfigWithSecrets(path string, logger *logrus.Logger) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if cfg.AWS.SecretName != "" {
		if cfg.AWS.Region == "" {
			logger.Fatalf("aws.region must be set when aws.secret_name is configured")
		}
		if err := config.LoadSecretsFromAWS(cfg, cfg.AWS.Region, cfg.AWS.SecretName); err != nil {
			logger.Fatalf("Failed to load secrets: %v", err)
		}
	}
	if err := config.Validate(cfg); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

func buildBacktestConfig(cfg *config.Config, folds int, variant string, logger *logrus.Logger) backtest.BacktestConfig {
	btConfig, err := backtest.FromConfig(cfg)
	if err != nil {
		logger.Fatalf("Invalid backtest config: %v", err)
	}
	if folds > 0 {
		btConfig.Folds = folds
	}
	if variant != "" {
		btConfig.ModelVariant = variant
	}
	if err := btConfig.Validate(); err != nil {
		logger.Fatalf("Invalid backtest config: %v", err)
	}
	return btConfig
}

// loadRacesFromCSV cleans a raw form file into settled races without touching
// the database, for evaluating exported datasets.
func loadRacesFromCSV(ctx context.Context, path string, logger *logrus.Logger) []*models.Race {
	source, err := datasource.NewSource(config.DataSourceConfig{
		Name:    "backtest_csv",
		Kind:    "csv",
		Enabled: true,
		Path:    path,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to open CSV source: %v", err)
	}

	records, err := source.FetchRecords(ctx, time.Time{}, time.Time{})
	if err != nil {
		logger.Fatalf("Failed to read CSV records: %v", err)
	}

	cleaner := service.NewDataCleaner(logger)
	races, cleanReport := cleaner.CleanRecords(records)
	if cleanReport.TotalDropped() > 0 {
		droppedRaces := 0
		for _, n := range cleanReport.DroppedRaces {
			droppedRaces += n
		}
		logger.WithFields(logrus.Fields{
			"dropped_rows":  cleanReport.TotalDropped(),
			"dropped_races": droppedRaces,
		}).Warn("Cleaning dropped part of the input")
	}
	return races
}

func persistReport(ctx context.Context, repo repository.EvaluationRepository, report *backtest.Report, logger *logrus.Logger) {
	runID, err := uuid.Parse(report.RunID)
	if err != nil {
		logger.Fatalf("Malformed run ID %q: %v", report.RunID, err)
	}
	raw, err := json.Marshal(report)
	if err != nil {
		logger.Fatalf("Failed to marshal report: %v", err)
	}

	run := &models.EvaluationRun{
		ID:           runID,
		ModelVariant: report.ModelVariant,
		Races:        report.Aggregate.Races,
		Folds:        len(report.Folds),
		SkippedFolds: len(report.Skipped),
		LogLoss:      report.Aggregate.LogLoss,
		BrierScore:   report.Aggregate.Brier,
		Report:       raw,
		StartedAt:    report.StartedAt,
		CompletedAt:  report.FinishedAt,
	}
	if report.Aggregate.Market != nil {
		run.MarketLogLoss = &report.Aggregate.Market.MarketLogLoss
	}

	if err := repo.Insert(ctx, run); err != nil {
		logger.Fatalf("Failed to persist evaluation run: %v", err)
	}
	logger.WithField("run_id", runID).Info("Evaluation run persisted")
}

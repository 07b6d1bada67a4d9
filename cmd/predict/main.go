package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/raceform/internal/config"
	"github.com/yourusername/raceform/internal/database"
	applogger "github.com/yourusername/raceform/internal/logger"
	"github.com/yourusername/raceform/internal/models"
	"github.com/yourusername/raceform/internal/repository"
	"github.com/yourusername/raceform/internal/service"
)

// Build information - set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var (
	configFile        string
	raceID            int64
	logger            *logrus.Logger
	cfg               *config.Config
	db                *database.DB
	repos             *repository.Repositories
	predictionService *service.PredictionService
)

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./config/config.yaml", "Path to configuration file")
	showCmd.Flags().Int64Var(&raceID, "race", 0, "Race ID to predict")
}

var rootCmd = &cobra.Command{
	Use:   "predict",
	Short: "Fit the race model and inspect win probabilities",
	Long:  `Fits a win-probability model on the settled race timeline and serves per-runner distributions for pending races.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := setupDependencies(); err != nil {
			return fmt.Errorf("failed to setup dependencies: %w", err)
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refit the model and regenerate predictions for every pending race",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return refreshPredictions(ctx)
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the win distribution for one race",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return showPrediction(ctx)
	},
}

func main() {
	rootCmd.AddCommand(refreshCmd, showCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func loadConfig() error {
	var err error
	cfg, err = config.Load(configFile)
	if err != nil {
		return err
	}
	if cfg.AWS.SecretName != "" {
		if cfg.AWS.Region == "" {
			return fmt.Errorf("aws.region must be set when aws.secret_name is configured")
		}
		if err := config.LoadSecretsFromAWS(cfg, cfg.AWS.Region, cfg.AWS.SecretName); err != nil {
			return fmt.Errorf("failed to load secrets: %w", err)
		}
	}
	return config.Validate(cfg)
}

func setupDependencies() error {
	// Tables go to stdout; keep log noise down
	logger = applogger.NewLogger("warn", cfg.App.LogFormat)

	var err error
	db, err = database.NewDB(context.Background(), &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	repos, err = repository.NewRepositories(db)
	if err != nil {
		return fmt.Errorf("failed to initialize repositories: %w", err)
	}

	predictionService, err = service.NewPredictionService(repos.Race, repos.Model, repos.Prediction, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create prediction service: %w", err)
	}

	return nil
}

func refreshPredictions(ctx context.Context) error {
	run, err := predictionService.RefreshPredictions(ctx)
	if err != nil {
		if errors.Is(err, models.ErrModelNotFitted) {
			return fmt.Errorf("not enough settled races to fit a model (need at least %d): %w",
				cfg.Prediction.MinTrainRaces, err)
		}
		return fmt.Errorf("refresh failed: %w", err)
	}

	fmt.Println("\nPrediction refresh complete:")
	fmt.Printf("  Model:         %s (%s)\n", run.ModelID, run.Variant)
	fmt.Printf("  Train races:   %d\n", run.TrainRaces)
	fmt.Printf("  Train NLL:     %.4f\n", run.TrainNLL)
	fmt.Printf("  Pending races: %d\n", run.PendingRaces)
	fmt.Printf("  Predictions:   %d\n", run.Predictions)
	if run.SkippedRaces > 0 {
		fmt.Printf("  Skipped races: %d\n", run.SkippedRaces)
	}
	fmt.Printf("  Duration:      %s\n", run.Duration.Round(time.Millisecond))
	return nil
}

func showPrediction(ctx context.Context) error {
	if raceID == 0 {
		return fmt.Errorf("--race must be set")
	}

	assignment, err := predictionService.PredictRace(ctx, raceID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("no prediction available for race %d; run `predict refresh` first", raceID)
		}
		return fmt.Errorf("failed to load prediction: %w", err)
	}

	// Rank runners by win probability
	order := make([]int, len(assignment.HorseIDs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return assignment.Probabilities[order[a]] > assignment.Probabilities[order[b]]
	})

	fmt.Printf("\nWin probabilities for race %d:\n\n", assignment.RaceID)
	fmt.Printf("  %4s  %10s  %12s  %8s\n", "RANK", "HORSE", "PROBABILITY", "ODDS")
	for rank, i := range order {
		prob := assignment.Probabilities[i]
		odds := math.Inf(1)
		if prob > 0 {
			odds = 1 / prob
		}
		fmt.Printf("  %4d  %10d  %11.2f%%  %8.2f\n", rank+1, assignment.HorseIDs[i], prob*100, odds)
	}
	fmt.Println()
	return nil
}

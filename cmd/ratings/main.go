package main

import (
	"context"
	"errors"
	"fmt"
	"log"
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
	configFile string
	horseID    int64
	jockeyID   int64
	trainerID  int64
	stratum    string
	logger     *logrus.Logger
	cfg        *config.Config
	db         *database.DB
	repos      *repository.Repositories
)

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./config/config.yaml", "Path to configuration file")

	for _, cmd := range []*cobra.Command{historyCmd, latestCmd} {
		cmd.Flags().Int64Var(&horseID, "horse", 0, "Horse ID")
		cmd.Flags().Int64Var(&jockeyID, "jockey", 0, "Jockey ID")
		cmd.Flags().Int64Var(&trainerID, "trainer", 0, "Trainer ID")
		cmd.Flags().StringVar(&stratum, "stratum", "flat", "Race type stratum: flat, hurdle, chase, nh_flat")
	}
}

var rootCmd = &cobra.Command{
	Use:   "ratings",
	Short: "Inspect and rebuild temporal ratings",
	Long:  `Rebuilds the append-only rating history from the settled race timeline and inspects per-entity rating trajectories.`,
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

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Replay the settled timeline and replace the rating history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return rebuildRatings(ctx)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the full rating trajectory for one entity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return showHistory(ctx)
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the most recent rating for one entity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return showLatest(ctx)
	},
}

func main() {
	rootCmd.AddCommand(rebuildCmd, historyCmd, latestCmd)

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

	return nil
}

func rebuildRatings(ctx context.Context) error {
	svc, err := service.NewRatingService(repos.Race, repos.Rating, cfg, logger, applogger.NewAuditLogger(logger))
	if err != nil {
		return err
	}

	run, err := svc.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}

	fmt.Println("\nRating rebuild complete:")
	fmt.Printf("  Settled races: %d\n", run.Races)
	fmt.Printf("  Snapshots:     %d\n", run.Snapshots)
	fmt.Printf("  Duration:      %s\n", run.Duration.Round(time.Millisecond))
	return nil
}

func showHistory(ctx context.Context) error {
	entity, err := resolveEntity()
	if err != nil {
		return err
	}

	history, err := repos.Rating.GetHistory(ctx, entity, stratum)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	if len(history) == 0 {
		fmt.Printf("No snapshots recorded for %s %d in stratum %q.\n", entity.Kind, entity.ID, stratum)
		fmt.Printf("The cold-start default %.2f applies until a settled race is observed.\n", cfg.Rating.DefaultRating)
		return nil
	}

	fmt.Printf("\nRating history for %s %d (stratum %s):\n\n", entity.Kind, entity.ID, stratum)
	fmt.Printf("  %-17s  %8s  %12s  %8s\n", "RECORDED", "RATING", "OBSERVATIONS", "RACE")
	for _, snap := range history {
		fmt.Printf("  %-17s  %8.4f  %12d  %8d\n",
			snap.At.Format("2006-01-02 15:04"), snap.Rating, snap.Observations, snap.RaceID)
	}
	fmt.Println()
	return nil
}

func showLatest(ctx context.Context) error {
	entity, err := resolveEntity()
	if err != nil {
		return err
	}

	snap, err := repos.Rating.GetLatest(ctx, entity, stratum)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			fmt.Printf("No rating recorded for %s %d in stratum %q; the cold-start default is %.2f.\n",
				entity.Kind, entity.ID, stratum, cfg.Rating.DefaultRating)
			return nil
		}
		return fmt.Errorf("failed to load latest rating: %w", err)
	}

	fmt.Printf("\n%s %d (stratum %s):\n", entity.Kind, entity.ID, stratum)
	fmt.Printf("  Rating:       %.4f\n", snap.Rating)
	fmt.Printf("  Observations: %d\n", snap.Observations)
	fmt.Printf("  Recorded:     %s (race %d)\n", snap.At.Format(time.RFC3339), snap.RaceID)
	return nil
}

func resolveEntity() (models.EntityRef, error) {
	set := 0
	var entity models.EntityRef
	if horseID != 0 {
		set++
		entity = models.HorseRef(horseID)
	}
	if jockeyID != 0 {
		set++
		entity = models.JockeyRef(jockeyID)
	}
	if trainerID != 0 {
		set++
		entity = models.TrainerRef(trainerID)
	}
	if set != 1 {
		return models.EntityRef{}, fmt.Errorf("exactly one of --horse, --jockey or --trainer must be set")
	}
	return entity, nil
}

// Package main provides the entry point for the raceform ingestion daemon.
// It syncs form data on a schedule, rebuilds ratings, and refreshes race
// predictions, exposing health probes and Prometheus metrics while running.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/raceform/internal/config"
	"github.com/yourusername/raceform/internal/database"
	"github.com/yourusername/raceform/internal/datasource"
	"github.com/yourusername/raceform/internal/health"
	"github.com/yourusername/raceform/internal/logger"
	"github.com/yourusername/raceform/internal/metrics"
	"github.com/yourusername/raceform/internal/repository"
	"github.com/yourusername/raceform/internal/scheduler"
	"github.com/yourusername/raceform/internal/service"
)

// Build information - set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "config/config.yaml", "Path to config file")
		syncOnStart = flag.Bool("sync-on-start", false, "Run a full sync, rebuild and prediction pass before the first scheduled tick")
	)
	flag.Parse()

	var (
		cfg    *config.Config
		err    error
		appLog *logrus.Logger
		db     *database.DB
	)

	// Load configuration
	cfg, err = config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Overlay AWS secrets when configured
	if cfg.AWS.SecretName != "" {
		if cfg.AWS.Region == "" {
			log.Fatalf("aws.region must be set when aws.secret_name is configured")
		}
		if err := config.LoadSecretsFromAWS(cfg, cfg.AWS.Region, cfg.AWS.SecretName); err != nil {
			log.Fatalf("Failed to load secrets: %v", err)
		}
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Set up logging
	appLog = logger.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	appLog.WithFields(logrus.Fields{
		"version":     Version,
		"git_commit":  GitCommit,
		"build_date":  BuildDate,
		"environment": cfg.App.Environment,
		"log_level":   cfg.App.LogLevel,
	}).Info("Raceform ingestion daemon starting")

	metrics.InitRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection and schema
	db, err = database.Initialize(ctx, cfg)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	appLog.Info("Database connection established")

	// Initialize repositories
	repos, err := repository.NewRepositories(db)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize repositories")
	}

	// Initialize data sources
	sources, err := datasource.NewSources(&cfg.Ingestion, appLog)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize data sources")
	}
	for _, src := range sources {
		appLog.WithField("source", src.Name()).Info("Data source registered")
	}

	// Wire up the pipeline services
	cleaner := service.NewDataCleaner(appLog)
	validator := service.NewDataValidator(appLog)
	// Batch size 0 selects the service default.
	ingestionService := service.NewIngestionService(sources, repos.Race, cleaner, validator, appLog, 0)

	ratingService, err := service.NewRatingService(repos.Race, repos.Rating, cfg, appLog, logger.NewAuditLogger(appLog))
	if err != nil {
		appLog.WithError(err).Fatal("Failed to create rating service")
	}

	predictionService, err := service.NewPredictionService(repos.Race, repos.Model, repos.Prediction, cfg, appLog)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to create prediction service")
	}

	// Register the scheduled jobs
	sched := scheduler.NewScheduler(ingestionService, ratingService, predictionService, appLog)
	if err := sched.ScheduleAll(cfg.Ingestion.Schedule); err != nil {
		appLog.WithError(err).Fatal("Failed to schedule jobs")
	}

	// Start the health server before any long-running work so liveness
	// probes answer while the initial sync is still in progress.
	healthServer := health.NewServer(health.Config{
		ServiceName: cfg.App.Name,
		Version:     Version,
		Port:        cfg.Health.Port,
		Logger:      appLog,
		DB:          db,
	})
	if err := healthServer.Start(ctx); err != nil {
		appLog.WithError(err).Fatal("Failed to start health server")
	}

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, appLog)
		if err := metricsServer.Start(ctx); err != nil {
			appLog.WithError(err).Fatal("Failed to start metrics server")
		}
	}

	// Prime a fresh deployment before the first tick
	if *syncOnStart {
		appLog.Info("Running startup sync")
		if err := sched.RunOnce(ctx); err != nil {
			appLog.WithError(err).Error("Startup sync failed; scheduled runs will retry")
		}
	}

	if err := sched.Start(); err != nil {
		appLog.WithError(err).Fatal("Failed to start scheduler")
	}
	healthServer.SetReady(true)

	appLog.WithFields(logrus.Fields{
		"jobs":     len(sched.Entries()),
		"next_run": sched.NextRun().Format(time.RFC3339),
	}).Info("Scheduler running")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	appLog.WithField("signal", sig).Info("Shutdown signal received")

	// Graceful shutdown
	healthServer.SetReady(false)
	cancel()

	if err := sched.Stop(); err != nil {
		appLog.WithError(err).Error("Error during scheduler shutdown")
	}

	// Give components time to cleanup
	time.Sleep(2 * time.Second)

	appLog.Info("Raceform ingestion daemon shut down successfully")
}

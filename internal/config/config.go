// Package config provides configuration management for the raceform engine.
package config

import (
	"fmt"
)

// Config represents the complete application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database" validate:"required"`
	AWS        AWSConfig        `mapstructure:"aws"`
	Ingestion  IngestionConfig  `mapstructure:"ingestion" validate:"required"`
	Rating     RatingConfig     `mapstructure:"rating" validate:"required"`
	Model      ModelConfig      `mapstructure:"model" validate:"required"`
	Backtest   BacktestConfig   `mapstructure:"backtest" validate:"required"`
	Prediction PredictionConfig `mapstructure:"prediction" validate:"required"`
	Metrics    MetricsConfig    `mapstructure:"metrics" validate:"required"`
	Health     HealthConfig     `mapstructure:"health" validate:"required"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,environment"`
	LogLevel    string `mapstructure:"log_level" validate:"required,loglevel"`
	LogFormat   string `mapstructure:"log_format" validate:"required,logformat"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host" validate:"required"`
	Port               int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Name               string `mapstructure:"name" validate:"required"`
	User               string `mapstructure:"user" validate:"required"`
	Password           string `mapstructure:"password" validate:"required"`
	SSLMode            string `mapstructure:"ssl_mode" validate:"required,oneof=disable require verify-full"`
	MaxConnections     int    `mapstructure:"max_connections" validate:"required,gt=0"`
	MaxIdleConnections int    `mapstructure:"max_idle_connections" validate:"required,gt=0"`
}

// AWSConfig points at the Secrets Manager entry overlaid onto the
// configuration at startup. Both fields empty disables the overlay.
type AWSConfig struct {
	Region     string `mapstructure:"region"`
	SecretName string `mapstructure:"secret_name"`
}

// IngestionConfig represents data ingestion configuration
type IngestionConfig struct {
	Sources  []DataSourceConfig `mapstructure:"sources" validate:"required,min=1,dive"`
	Schedule ScheduleConfig     `mapstructure:"schedule" validate:"required"`
}

// DataSourceConfig represents a single data source configuration
type DataSourceConfig struct {
	Name               string  `mapstructure:"name" validate:"required"`
	Kind               string  `mapstructure:"kind" validate:"required,oneof=csv http"`
	Enabled            bool    `mapstructure:"enabled"`
	Path               string  `mapstructure:"path"`
	URL                string  `mapstructure:"url" validate:"omitempty,url"`
	APIKey             string  `mapstructure:"api_key"`
	BatchSize          int     `mapstructure:"batch_size" validate:"omitempty,gt=0"`
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second" validate:"omitempty,gt=0"`
}

// ScheduleConfig holds the cron expressions driving the ingestion daemon
type ScheduleConfig struct {
	HistoricalSync string `mapstructure:"historical_sync" validate:"required,cron"`
	RatingRebuild  string `mapstructure:"rating_rebuild" validate:"required,cron"`
	Predictions    string `mapstructure:"predictions" validate:"required,cron"`
}

// RatingConfig represents rating engine parameters. NonFinisherPerf is a
// pointer because it has no sensible implicit default: leaving it unset is a
// configuration error, not a zero.
type RatingConfig struct {
	Alpha           float64  `mapstructure:"alpha" validate:"required,gt=0,lte=1"`
	DefaultRating   float64  `mapstructure:"default_rating" validate:"gte=0,lte=1"`
	NonFinisherPerf *float64 `mapstructure:"non_finisher_perf" validate:"required"`
	ShrinkagePrior  float64  `mapstructure:"shrinkage_prior" validate:"gte=0"`
	PerStratum      bool     `mapstructure:"per_stratum"`
}

// ModelConfig represents race-probability model configuration
type ModelConfig struct {
	Variant      string  `mapstructure:"variant" validate:"required,oneof=conditional_logit plackett_luce"`
	LearningRate float64 `mapstructure:"learning_rate" validate:"omitempty,gt=0"`
	MaxEpochs    int     `mapstructure:"max_epochs" validate:"omitempty,gt=0"`
	Tolerance    float64 `mapstructure:"tolerance" validate:"omitempty,gt=0"`
}

// BacktestConfig represents forward-chaining evaluation configuration
type BacktestConfig struct {
	Folds           int    `mapstructure:"folds" validate:"omitempty,gt=1"`
	WarmupRaces     int    `mapstructure:"warmup_races" validate:"gte=0"`
	MinTrainRaces   int    `mapstructure:"min_train_races" validate:"omitempty,gte=1"`
	CalibrationBins int    `mapstructure:"calibration_bins" validate:"omitempty,gte=2"`
	Workers         int    `mapstructure:"workers" validate:"omitempty,gte=1"`
	OutputDir       string `mapstructure:"output_dir"`
}

// PredictionConfig represents prediction serving configuration
type PredictionConfig struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds" validate:"required,gt=0"`
	MinTrainRaces   int `mapstructure:"min_train_races" validate:"omitempty,gte=1"`
}

// MetricsConfig represents metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Path    string `mapstructure:"path" validate:"required"`
}

// HealthConfig represents health endpoint configuration
type HealthConfig struct {
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`
}

// IsDevelopment checks if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsStaging checks if the application is running in staging mode
func (c *Config) IsStaging() bool {
	return c.App.Environment == "staging"
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// GetDatabaseDSN returns a PostgreSQL DSN string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// EnabledSources returns the data sources switched on in configuration.
func (c *Config) EnabledSources() []DataSourceConfig {
	out := make([]DataSourceConfig, 0, len(c.Ingestion.Sources))
	for _, src := range c.Ingestion.Sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}

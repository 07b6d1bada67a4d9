package database

import (
	"context"
	"fmt"

	"github.com/yourusername/raceform/internal/config"
)

// schemaDDL holds the idempotent schema bootstrap. Each statement uses
// IF NOT EXISTS so Initialize is safe to run against a populated database.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS races (
		id BIGINT PRIMARY KEY,
		start_time TIMESTAMPTZ NOT NULL,
		course TEXT NOT NULL,
		race_type TEXT NOT NULL,
		distance_yards INTEGER NOT NULL,
		field_size INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_races_start_time ON races (start_time, id)`,
	`CREATE TABLE IF NOT EXISTS runners (
		race_id BIGINT NOT NULL REFERENCES races(id) ON DELETE CASCADE,
		horse_id BIGINT NOT NULL,
		jockey_id BIGINT,
		trainer_id BIGINT,
		age DOUBLE PRECISION,
		weight_lbs DOUBLE PRECISION,
		draw DOUBLE PRECISION,
		finish_position INTEGER,
		non_finisher BOOLEAN NOT NULL DEFAULT FALSE,
		starting_price NUMERIC,
		market_prob DOUBLE PRECISION,
		PRIMARY KEY (race_id, horse_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runners_horse ON runners (horse_id)`,
	`CREATE TABLE IF NOT EXISTS ratings (
		entity_kind TEXT NOT NULL,
		entity_id BIGINT NOT NULL,
		stratum TEXT NOT NULL DEFAULT '',
		race_id BIGINT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		rating DOUBLE PRECISION NOT NULL,
		observations INTEGER NOT NULL,
		PRIMARY KEY (entity_kind, entity_id, stratum, race_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ratings_entity_time ON ratings (entity_kind, entity_id, stratum, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS models (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		variant TEXT NOT NULL,
		train_races INTEGER NOT NULL,
		weights JSONB,
		trained_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS predictions (
		id UUID PRIMARY KEY,
		model_id UUID NOT NULL,
		race_id BIGINT NOT NULL,
		horse_id BIGINT NOT NULL,
		probability DOUBLE PRECISION NOT NULL,
		predicted_at TIMESTAMPTZ NOT NULL,
		UNIQUE (model_id, race_id, horse_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_predictions_race ON predictions (race_id)`,
	`CREATE TABLE IF NOT EXISTS evaluations (
		id UUID PRIMARY KEY,
		model_variant TEXT NOT NULL,
		races INTEGER NOT NULL,
		folds INTEGER NOT NULL,
		skipped_folds INTEGER NOT NULL,
		log_loss DOUBLE PRECISION NOT NULL,
		brier_score DOUBLE PRECISION NOT NULL,
		market_log_loss DOUBLE PRECISION,
		report JSONB,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
}

// Initialize creates a database connection pool and bootstraps the schema
func Initialize(ctx context.Context, cfg *config.Config) (*DB, error) {
	db, err := NewDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// EnsureSchema applies the schema bootstrap statements in order
func EnsureSchema(ctx context.Context, db *DB) error {
	for _, stmt := range schemaDDL {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/yourusername/raceform/internal/database"
	"github.com/yourusername/raceform/internal/models"
)

const modelColumns = "id, name, variant, train_races, weights, trained_at, created_at"

// PostgresModelRepository implements ModelRepository for PostgreSQL
type PostgresModelRepository struct {
	db *database.DB
}

// NewPostgresModelRepository creates a new model repository
func NewPostgresModelRepository(db *database.DB) ModelRepository {
	return &PostgresModelRepository{db: db}
}

// Upsert stores a fitted model, replacing any prior fit with the same ID
func (r *PostgresModelRepository) Upsert(ctx context.Context, model *models.Model) error {
	query := `
		INSERT INTO models (id, name, variant, train_races, weights, trained_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			train_races = EXCLUDED.train_races,
			weights = EXCLUDED.weights,
			trained_at = EXCLUDED.trained_at
	`

	_, err := r.db.GetPool().Exec(ctx, query,
		model.ID, model.Name, model.Variant, model.TrainRaces,
		[]byte(model.Weights), model.TrainedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert model: %w", err)
	}

	return nil
}

// GetByID retrieves a model by ID
func (r *PostgresModelRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE id = $1`

	model := &models.Model{}
	err := r.db.GetPool().QueryRow(ctx, query, id).Scan(
		&model.ID, &model.Name, &model.Variant, &model.TrainRaces,
		&model.Weights, &model.TrainedAt, &model.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model: %w", err)
	}

	return model, nil
}

// GetLatestByVariant retrieves the most recently trained model of a variant
func (r *PostgresModelRepository) GetLatestByVariant(ctx context.Context, variant string) (*models.Model, error) {
	query := `
		SELECT ` + modelColumns + `
		FROM models
		WHERE variant = $1
		ORDER BY trained_at DESC
		LIMIT 1
	`

	model := &models.Model{}
	err := r.db.GetPool().QueryRow(ctx, query, variant).Scan(
		&model.ID, &model.Name, &model.Variant, &model.TrainRaces,
		&model.Weights, &model.TrainedAt, &model.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest model: %w", err)
	}

	return model, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/yourusername/raceform/internal/database"
	"github.com/yourusername/raceform/internal/models"
)

// PostgresPredictionRepository implements PredictionRepository for PostgreSQL
type PostgresPredictionRepository struct {
	db *database.DB
}

// NewPostgresPredictionRepository creates a new prediction repository
func NewPostgresPredictionRepository(db *database.DB) PredictionRepository {
	return &PostgresPredictionRepository{db: db}
}

// UpsertBatch stores predictions, replacing earlier ones for the same
// (model, race, horse) so refreshed assignments supersede stale probabilities
func (r *PostgresPredictionRepository) UpsertBatch(ctx context.Context, predictions []*models.Prediction) error {
	if len(predictions) == 0 {
		return nil
	}

	query := `
		INSERT INTO predictions (id, model_id, race_id, horse_id, probability, predicted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (model_id, race_id, horse_id) DO UPDATE SET
			probability = EXCLUDED.probability,
			predicted_at = EXCLUDED.predicted_at
	`

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		for _, pred := range predictions {
			if _, err := tx.Exec(ctx, query,
				pred.ID, pred.ModelID, pred.RaceID, pred.HorseID,
				pred.Probability, pred.PredictedAt,
			); err != nil {
				return fmt.Errorf("failed to upsert prediction for horse %d: %w", pred.HorseID, err)
			}
		}
		return nil
	})
}

// GetByRaceID retrieves all predictions for a race
func (r *PostgresPredictionRepository) GetByRaceID(ctx context.Context, raceID int64) ([]*models.Prediction, error) {
	query := `
		SELECT id, model_id, race_id, horse_id, probability, predicted_at
		FROM predictions
		WHERE race_id = $1
		ORDER BY probability DESC
	`

	rows, err := r.db.GetPool().Query(ctx, query, raceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var predictions []*models.Prediction
	for rows.Next() {
		pred := &models.Prediction{}
		err := rows.Scan(
			&pred.ID, &pred.ModelID, &pred.RaceID, &pred.HorseID,
			&pred.Probability, &pred.PredictedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		predictions = append(predictions, pred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}

	return predictions, nil
}

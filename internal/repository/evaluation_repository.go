package repository

import (
	"context"
	"fmt"

	"github.com/yourusername/raceform/internal/database"
	"github.com/yourusername/raceform/internal/models"
)

// PostgresEvaluationRepository implements EvaluationRepository for PostgreSQL
type PostgresEvaluationRepository struct {
	db *database.DB
}

// NewPostgresEvaluationRepository creates a new evaluation repository
func NewPostgresEvaluationRepository(db *database.DB) EvaluationRepository {
	return &PostgresEvaluationRepository{db: db}
}

// Insert stores a completed evaluation run
func (r *PostgresEvaluationRepository) Insert(ctx context.Context, run *models.EvaluationRun) error {
	query := `
		INSERT INTO evaluations (id, model_variant, races, folds, skipped_folds,
			log_loss, brier_score, market_log_loss, report, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.GetPool().Exec(ctx, query,
		run.ID, run.ModelVariant, run.Races, run.Folds, run.SkippedFolds,
		run.LogLoss, run.BrierScore, run.MarketLogLoss, []byte(run.Report),
		run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation run: %w", err)
	}

	return nil
}

// GetRecent retrieves the most recent evaluation runs
func (r *PostgresEvaluationRepository) GetRecent(ctx context.Context, limit int) ([]*models.EvaluationRun, error) {
	query := `
		SELECT id, model_variant, races, folds, skipped_folds,
			log_loss, brier_score, market_log_loss, report, started_at, completed_at
		FROM evaluations
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.db.GetPool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluation runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.EvaluationRun
	for rows.Next() {
		run := &models.EvaluationRun{}
		err := rows.Scan(
			&run.ID, &run.ModelVariant, &run.Races, &run.Folds, &run.SkippedFolds,
			&run.LogLoss, &run.BrierScore, &run.MarketLogLoss, &run.Report,
			&run.StartedAt, &run.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evaluation runs: %w", err)
	}

	return runs, nil
}

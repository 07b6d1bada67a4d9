package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/yourusername/raceform/internal/database"
	"github.com/yourusername/raceform/internal/models"
)

const errScanSnapshot = "failed to scan rating snapshot: %w"

const ratingColumns = "entity_kind, entity_id, stratum, race_id, recorded_at, rating, observations"

// PostgresRatingRepository implements RatingRepository for PostgreSQL
type PostgresRatingRepository struct {
	db *database.DB
}

// NewPostgresRatingRepository creates a new rating repository
func NewPostgresRatingRepository(db *database.DB) RatingRepository {
	return &PostgresRatingRepository{db: db}
}

// InsertBatch appends rating snapshots using high-performance batch insert
func (r *PostgresRatingRepository) InsertBatch(ctx context.Context, snapshots []*models.RatingSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	columns := []string{"entity_kind", "entity_id", "stratum", "race_id", "recorded_at", "rating", "observations"}

	rows := make([][]interface{}, len(snapshots))
	for i, snap := range snapshots {
		rows[i] = []interface{}{
			string(snap.Entity.Kind), snap.Entity.ID, snap.Stratum, snap.RaceID,
			snap.At, snap.Rating, snap.Observations,
		}
	}

	copied, err := r.db.GetPool().CopyFrom(
		ctx,
		pgx.Identifier{"ratings"},
		columns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to batch insert rating snapshots: %w", err)
	}

	if copied != int64(len(snapshots)) {
		return fmt.Errorf("inserted %d rows, expected %d", copied, len(snapshots))
	}

	return nil
}

// GetHistory retrieves an entity's snapshot history in append order
func (r *PostgresRatingRepository) GetHistory(ctx context.Context, entity models.EntityRef, stratum string) ([]*models.RatingSnapshot, error) {
	query := `
		SELECT ` + ratingColumns + `
		FROM ratings
		WHERE entity_kind = $1 AND entity_id = $2 AND stratum = $3
		ORDER BY recorded_at ASC, race_id ASC
	`

	rows, err := r.db.GetPool().Query(ctx, query, string(entity.Kind), entity.ID, stratum)
	if err != nil {
		return nil, fmt.Errorf("failed to query rating history: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.RatingSnapshot
	for rows.Next() {
		snap := &models.RatingSnapshot{}
		err := rows.Scan(
			&snap.Entity.Kind, &snap.Entity.ID, &snap.Stratum, &snap.RaceID,
			&snap.At, &snap.Rating, &snap.Observations,
		)
		if err != nil {
			return nil, fmt.Errorf(errScanSnapshot, err)
		}
		snapshots = append(snapshots, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rating snapshots: %w", err)
	}

	return snapshots, nil
}

// GetLatest retrieves an entity's most recent snapshot
func (r *PostgresRatingRepository) GetLatest(ctx context.Context, entity models.EntityRef, stratum string) (*models.RatingSnapshot, error) {
	query := `
		SELECT ` + ratingColumns + `
		FROM ratings
		WHERE entity_kind = $1 AND entity_id = $2 AND stratum = $3
		ORDER BY recorded_at DESC, race_id DESC
		LIMIT 1
	`

	snap := &models.RatingSnapshot{}
	err := r.db.GetPool().QueryRow(ctx, query, string(entity.Kind), entity.ID, stratum).Scan(
		&snap.Entity.Kind, &snap.Entity.ID, &snap.Stratum, &snap.RaceID,
		&snap.At, &snap.Rating, &snap.Observations,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest rating: %w", err)
	}

	return snap, nil
}

// DeleteAll clears every snapshot ahead of a full rebuild
func (r *PostgresRatingRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.GetPool().Exec(ctx, "TRUNCATE ratings"); err != nil {
		return fmt.Errorf("failed to truncate ratings: %w", err)
	}
	return nil
}

// Count returns the number of stored snapshots
func (r *PostgresRatingRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetPool().QueryRow(ctx, "SELECT COUNT(*) FROM ratings").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rating snapshots: %w", err)
	}
	return count, nil
}

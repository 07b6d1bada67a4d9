package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/yourusername/raceform/internal/database"
	"github.com/yourusername/raceform/internal/models"
)

const errScanRace = "failed to scan race: %w"

const raceColumns = "id, start_time, course, race_type, distance_yards, field_size, status, created_at, updated_at"

// PostgresRaceRepository implements RaceRepository for PostgreSQL
type PostgresRaceRepository struct {
	db *database.DB
}

// NewPostgresRaceRepository creates a new race repository
func NewPostgresRaceRepository(db *database.DB) RaceRepository {
	return &PostgresRaceRepository{db: db}
}

// CreateWithRunners inserts a race and its runners in a single transaction
func (r *PostgresRaceRepository) CreateWithRunners(ctx context.Context, race *models.Race) error {
	query := `
		INSERT INTO races (id, start_time, course, race_type, distance_yards, field_size, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query,
			race.ID, race.Start, race.Course, race.RaceType, race.DistanceYards,
			race.FieldSize, race.Status,
		); err != nil {
			return fmt.Errorf("failed to create race: %w", err)
		}

		if len(race.Runners) == 0 {
			return nil
		}

		rows := make([][]interface{}, len(race.Runners))
		for i, runner := range race.Runners {
			rows[i] = []interface{}{
				runner.RaceID, runner.HorseID, runner.JockeyID, runner.TrainerID,
				runner.Age, runner.WeightLbs, runner.Draw, runner.FinishPosition,
				runner.NonFinisher, runner.StartingPrice, runner.MarketProb,
			}
		}

		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"runners"}, runnerColumnList, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to insert runners: %w", err)
		}
		if copied != int64(len(race.Runners)) {
			return fmt.Errorf("inserted %d runners, expected %d", copied, len(race.Runners))
		}

		return nil
	})
}

// GetByID retrieves a race by ID with its runners attached
func (r *PostgresRaceRepository) GetByID(ctx context.Context, id int64) (*models.Race, error) {
	query := `SELECT ` + raceColumns + ` FROM races WHERE id = $1`

	race := &models.Race{}
	err := r.db.GetPool().QueryRow(ctx, query, id).Scan(
		&race.ID, &race.Start, &race.Course, &race.RaceType, &race.DistanceYards,
		&race.FieldSize, &race.Status, &race.CreatedAt, &race.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get race: %w", err)
	}

	runners, err := queryRunners(ctx, r.db, `SELECT `+runnerColumns+` FROM runners WHERE race_id = $1 ORDER BY horse_id`, race.ID)
	if err != nil {
		return nil, err
	}
	race.Runners = runners

	return race, nil
}

// GetAllOrdered retrieves every race with runners attached, ordered by
// (start_time, id) for timeline construction
func (r *PostgresRaceRepository) GetAllOrdered(ctx context.Context) ([]*models.Race, error) {
	query := `SELECT ` + raceColumns + ` FROM races ORDER BY start_time ASC, id ASC`

	rows, err := r.db.GetPool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query races: %w", err)
	}
	defer rows.Close()

	races, byID, err := scanRaces(rows)
	if err != nil {
		return nil, err
	}

	if err := attachRunners(ctx, r.db, byID); err != nil {
		return nil, err
	}

	return races, nil
}

// GetByDateRange retrieves races within a date range
func (r *PostgresRaceRepository) GetByDateRange(ctx context.Context, start, end time.Time) ([]*models.Race, error) {
	query := `
		SELECT ` + raceColumns + `
		FROM races
		WHERE start_time >= $1 AND start_time <= $2
		ORDER BY start_time ASC, id ASC
	`

	rows, err := r.db.GetPool().Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query races by date range: %w", err)
	}
	defer rows.Close()

	races, byID, err := scanRaces(rows)
	if err != nil {
		return nil, err
	}

	if err := attachRunners(ctx, r.db, byID); err != nil {
		return nil, err
	}

	return races, nil
}

// GetPending retrieves unsettled races ordered by start time
func (r *PostgresRaceRepository) GetPending(ctx context.Context, limit int) ([]*models.Race, error) {
	query := `
		SELECT ` + raceColumns + `
		FROM races
		WHERE status = 'pending'
		ORDER BY start_time ASC, id ASC
		LIMIT $1
	`

	rows, err := r.db.GetPool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending races: %w", err)
	}
	defer rows.Close()

	races, byID, err := scanRaces(rows)
	if err != nil {
		return nil, err
	}

	if err := attachRunners(ctx, r.db, byID); err != nil {
		return nil, err
	}

	return races, nil
}

// Exists reports whether a race with the given ID is already stored
func (r *PostgresRaceRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.GetPool().QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM races WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check race existence: %w", err)
	}
	return exists, nil
}

// SettleResults writes a settled race's outcome: the race status plus each
// runner's finishing position
func (r *PostgresRaceRepository) SettleResults(ctx context.Context, race *models.Race) error {
	raceQuery := `UPDATE races SET status = $2, updated_at = NOW() WHERE id = $1`
	runnerQuery := `
		UPDATE runners SET finish_position = $3, non_finisher = $4
		WHERE race_id = $1 AND horse_id = $2
	`

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, raceQuery, race.ID, race.Status)
		if err != nil {
			return fmt.Errorf("failed to update race status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		for _, runner := range race.Runners {
			if _, err := tx.Exec(ctx, runnerQuery,
				runner.RaceID, runner.HorseID, runner.FinishPosition, runner.NonFinisher,
			); err != nil {
				return fmt.Errorf("failed to update result for horse %d: %w", runner.HorseID, err)
			}
		}

		return nil
	})
}

// Delete deletes a race and, by cascade, its runners
func (r *PostgresRaceRepository) Delete(ctx context.Context, id int64) error {
	commandTag, err := r.db.GetPool().Exec(ctx, "DELETE FROM races WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete race: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// scanRaces drains a race row set into a slice plus an ID lookup map
func scanRaces(rows pgx.Rows) ([]*models.Race, map[int64]*models.Race, error) {
	races := []*models.Race{}
	byID := make(map[int64]*models.Race)

	for rows.Next() {
		race := &models.Race{}
		err := rows.Scan(
			&race.ID, &race.Start, &race.Course, &race.RaceType, &race.DistanceYards,
			&race.FieldSize, &race.Status, &race.CreatedAt, &race.UpdatedAt,
		)
		if err != nil {
			return nil, nil, fmt.Errorf(errScanRace, err)
		}
		races = append(races, race)
		byID[race.ID] = race
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating races: %w", err)
	}

	return races, byID, nil
}

// attachRunners loads the runners for every race in byID with one query
func attachRunners(ctx context.Context, db *database.DB, byID map[int64]*models.Race) error {
	if len(byID) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	query := `SELECT ` + runnerColumns + ` FROM runners WHERE race_id = ANY($1) ORDER BY race_id, horse_id`
	runners, err := queryRunners(ctx, db, query, ids)
	if err != nil {
		return err
	}

	for _, runner := range runners {
		if race, ok := byID[runner.RaceID]; ok {
			race.Runners = append(race.Runners, runner)
		}
	}

	return nil
}

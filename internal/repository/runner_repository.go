package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/yourusername/raceform/internal/database"
	"github.com/yourusername/raceform/internal/models"
)

const errScanRunner = "failed to scan runner: %w"

const runnerColumns = "race_id, horse_id, jockey_id, trainer_id, age, weight_lbs, draw, finish_position, non_finisher, starting_price, market_prob"

var runnerColumnList = []string{
	"race_id", "horse_id", "jockey_id", "trainer_id", "age", "weight_lbs",
	"draw", "finish_position", "non_finisher", "starting_price", "market_prob",
}

// PostgresRunnerRepository implements RunnerRepository for PostgreSQL
type PostgresRunnerRepository struct {
	db *database.DB
}

// NewPostgresRunnerRepository creates a new runner repository
func NewPostgresRunnerRepository(db *database.DB) RunnerRepository {
	return &PostgresRunnerRepository{db: db}
}

// InsertBatch inserts runners using high-performance batch insert
func (r *PostgresRunnerRepository) InsertBatch(ctx context.Context, runners []*models.Runner) error {
	if len(runners) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(runners))
	for i, runner := range runners {
		rows[i] = []interface{}{
			runner.RaceID, runner.HorseID, runner.JockeyID, runner.TrainerID,
			runner.Age, runner.WeightLbs, runner.Draw, runner.FinishPosition,
			runner.NonFinisher, runner.StartingPrice, runner.MarketProb,
		}
	}

	copied, err := r.db.GetPool().CopyFrom(
		ctx,
		pgx.Identifier{"runners"},
		runnerColumnList,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to batch insert runners: %w", err)
	}

	if copied != int64(len(runners)) {
		return fmt.Errorf("inserted %d rows, expected %d", copied, len(runners))
	}

	return nil
}

// GetByRaceID retrieves all runners in a race ordered by horse ID
func (r *PostgresRunnerRepository) GetByRaceID(ctx context.Context, raceID int64) ([]*models.Runner, error) {
	query := `SELECT ` + runnerColumns + ` FROM runners WHERE race_id = $1 ORDER BY horse_id`
	return queryRunners(ctx, r.db, query, raceID)
}

// GetByHorseID retrieves a horse's most recent runs
func (r *PostgresRunnerRepository) GetByHorseID(ctx context.Context, horseID int64, limit int) ([]*models.Runner, error) {
	query := `
		SELECT ` + runnerColumns + `
		FROM runners
		JOIN races ON races.id = runners.race_id
		WHERE horse_id = $1
		ORDER BY races.start_time DESC, races.id DESC
		LIMIT $2
	`
	return queryRunners(ctx, r.db, query, horseID, limit)
}

// queryRunners executes a runner query and scans the full row set
func queryRunners(ctx context.Context, db *database.DB, query string, args ...interface{}) ([]*models.Runner, error) {
	rows, err := db.GetPool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runners: %w", err)
	}
	defer rows.Close()

	var runners []*models.Runner
	for rows.Next() {
		runner := &models.Runner{}
		err := rows.Scan(
			&runner.RaceID, &runner.HorseID, &runner.JockeyID, &runner.TrainerID,
			&runner.Age, &runner.WeightLbs, &runner.Draw, &runner.FinishPosition,
			&runner.NonFinisher, &runner.StartingPrice, &runner.MarketProb,
		)
		if err != nil {
			return nil, fmt.Errorf(errScanRunner, err)
		}
		runners = append(runners, runner)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runners: %w", err)
	}

	return runners, nil
}

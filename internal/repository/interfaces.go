package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/raceform/internal/models"
)

// RaceRepository defines the interface for race data access
type RaceRepository interface {
	CreateWithRunners(ctx context.Context, race *models.Race) error
	GetByID(ctx context.Context, id int64) (*models.Race, error)
	GetAllOrdered(ctx context.Context) ([]*models.Race, error)
	GetByDateRange(ctx context.Context, start, end time.Time) ([]*models.Race, error)
	GetPending(ctx context.Context, limit int) ([]*models.Race, error)
	Exists(ctx context.Context, id int64) (bool, error)
	SettleResults(ctx context.Context, race *models.Race) error
	Delete(ctx context.Context, id int64) error
}

// RunnerRepository defines the interface for runner data access
type RunnerRepository interface {
	InsertBatch(ctx context.Context, runners []*models.Runner) error
	GetByRaceID(ctx context.Context, raceID int64) ([]*models.Runner, error)
	GetByHorseID(ctx context.Context, horseID int64, limit int) ([]*models.Runner, error)
}

// RatingRepository defines the interface for rating snapshot persistence
type RatingRepository interface {
	InsertBatch(ctx context.Context, snapshots []*models.RatingSnapshot) error
	GetHistory(ctx context.Context, entity models.EntityRef, stratum string) ([]*models.RatingSnapshot, error)
	GetLatest(ctx context.Context, entity models.EntityRef, stratum string) (*models.RatingSnapshot, error)
	DeleteAll(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// ModelRepository defines the interface for fitted model persistence
type ModelRepository interface {
	Upsert(ctx context.Context, model *models.Model) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Model, error)
	GetLatestByVariant(ctx context.Context, variant string) (*models.Model, error)
}

// PredictionRepository defines the interface for prediction data access
type PredictionRepository interface {
	UpsertBatch(ctx context.Context, predictions []*models.Prediction) error
	GetByRaceID(ctx context.Context, raceID int64) ([]*models.Prediction, error)
}

// EvaluationRepository defines the interface for evaluation run persistence
type EvaluationRepository interface {
	Insert(ctx context.Context, run *models.EvaluationRun) error
	GetRecent(ctx context.Context, limit int) ([]*models.EvaluationRun, error)
}

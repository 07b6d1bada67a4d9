package repository

import (
	"fmt"

	"github.com/yourusername/raceform/internal/database"
)

// Repositories holds all repository implementations
type Repositories struct {
	Race       RaceRepository
	Runner     RunnerRepository
	Rating     RatingRepository
	Model      ModelRepository
	Prediction PredictionRepository
	Evaluation EvaluationRepository
}

// NewRepositories creates and returns all repository implementations
func NewRepositories(db *database.DB) (*Repositories, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &Repositories{
		Race:       NewPostgresRaceRepository(db),
		Runner:     NewPostgresRunnerRepository(db),
		Rating:     NewPostgresRatingRepository(db),
		Model:      NewPostgresModelRepository(db),
		Prediction: NewPostgresPredictionRepository(db),
		Evaluation: NewPostgresEvaluationRepository(db),
	}, nil
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Prediction is one entrant's share of a race win-probability assignment.
type Prediction struct {
	ID          uuid.UUID `db:"id" json:"id" validate:"required"`
	ModelID     uuid.UUID `db:"model_id" json:"model_id" validate:"required"`
	RaceID      int64     `db:"race_id" json:"race_id" validate:"required"`
	HorseID     int64     `db:"horse_id" json:"horse_id" validate:"required"`
	Probability float64   `db:"probability" json:"probability" validate:"gte=0,lte=1"`
	PredictedAt time.Time `db:"predicted_at" json:"predicted_at" validate:"required"`
}

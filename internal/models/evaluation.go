package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EvaluationRun records one forward-chaining evaluation pass for later
// comparison across model and rating configurations.
type EvaluationRun struct {
	ID            uuid.UUID       `db:"id" json:"id" validate:"required"`
	ModelVariant  string          `db:"model_variant" json:"model_variant" validate:"required"`
	Races         int             `db:"races" json:"races" validate:"gte=0"`
	Folds         int             `db:"folds" json:"folds" validate:"gte=0"`
	SkippedFolds  int             `db:"skipped_folds" json:"skipped_folds" validate:"gte=0"`
	LogLoss       float64         `db:"log_loss" json:"log_loss"`
	BrierScore    float64         `db:"brier_score" json:"brier_score"`
	MarketLogLoss *float64        `db:"market_log_loss" json:"market_log_loss"`
	Report        json.RawMessage `db:"report" json:"report"`
	StartedAt     time.Time       `db:"started_at" json:"started_at" validate:"required"`
	CompletedAt   time.Time       `db:"completed_at" json:"completed_at"`
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Model variants supported by the probability engine.
const (
	ModelVariantConditionalLogit = "conditional_logit"
	ModelVariantPlackettLuce     = "plackett_luce"
)

// Model records a fitted race-probability model.
type Model struct {
	ID         uuid.UUID       `db:"id" json:"id" validate:"required"`
	Name       string          `db:"name" json:"name" validate:"required"`
	Variant    string          `db:"variant" json:"variant" validate:"required,oneof=conditional_logit plackett_luce"`
	TrainRaces int             `db:"train_races" json:"train_races" validate:"gte=0"`
	Weights    json.RawMessage `db:"weights" json:"weights"`
	TrainedAt  time.Time       `db:"trained_at" json:"trained_at" validate:"required"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// DeterministicModelID derives a stable model ID from name and variant so
// repeated fits of the same configuration share an identity.
func DeterministicModelID(name, variant string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name+"/"+variant))
}

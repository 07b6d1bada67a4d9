package models

import (
	"github.com/shopspring/decimal"
)

// Runner represents one entrant in a race. Jockey and trainer are the
// entrant's agents; either may be absent in the source data. Age, carried
// weight and draw are nullable because historical records are incomplete.
type Runner struct {
	RaceID         int64            `db:"race_id" json:"race_id" validate:"required"`
	HorseID        int64            `db:"horse_id" json:"horse_id" validate:"required"`
	JockeyID       *int64           `db:"jockey_id" json:"jockey_id"`
	TrainerID      *int64           `db:"trainer_id" json:"trainer_id"`
	Age            *float64         `db:"age" json:"age"`
	WeightLbs      *float64         `db:"weight_lbs" json:"weight_lbs"`
	Draw           *float64         `db:"draw" json:"draw"`
	FinishPosition *int             `db:"finish_position" json:"finish_position"`
	NonFinisher    bool             `db:"non_finisher" json:"non_finisher"`
	StartingPrice  *decimal.Decimal `db:"starting_price" json:"starting_price"`
	MarketProb     *float64         `db:"market_prob" json:"market_prob" validate:"omitempty,gte=0,lte=1"`
}

// Finished reports whether the runner completed the race with a recorded
// position.
func (r *Runner) Finished() bool {
	return r.FinishPosition != nil && !r.NonFinisher
}

// HasOutcome reports whether any outcome has been recorded for the runner.
func (r *Runner) HasOutcome() bool {
	return r.FinishPosition != nil || r.NonFinisher
}

// Agents returns the entity refs for the runner's jockey and trainer where
// present.
func (r *Runner) Agents() []EntityRef {
	refs := make([]EntityRef, 0, 2)
	if r.JockeyID != nil {
		refs = append(refs, JockeyRef(*r.JockeyID))
	}
	if r.TrainerID != nil {
		refs = append(refs, TrainerRef(*r.TrainerID))
	}
	return refs
}

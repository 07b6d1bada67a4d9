package models

import (
	"fmt"
	"time"
)

// EntityKind enumerates the participant types that carry ratings.
type EntityKind string

const (
	EntityHorse   EntityKind = "horse"
	EntityJockey  EntityKind = "jockey"
	EntityTrainer EntityKind = "trainer"
)

// EntityRef identifies a rated participant.
type EntityRef struct {
	Kind EntityKind `db:"entity_kind" json:"kind" validate:"required,oneof=horse jockey trainer"`
	ID   int64      `db:"entity_id" json:"id" validate:"required"`
}

// HorseRef builds a horse entity ref.
func HorseRef(id int64) EntityRef { return EntityRef{Kind: EntityHorse, ID: id} }

// JockeyRef builds a jockey entity ref.
func JockeyRef(id int64) EntityRef { return EntityRef{Kind: EntityJockey, ID: id} }

// TrainerRef builds a trainer entity ref.
func TrainerRef(id int64) EntityRef { return EntityRef{Kind: EntityTrainer, ID: id} }

func (e EntityRef) String() string {
	return fmt.Sprintf("%s/%d", e.Kind, e.ID)
}

// RatingSnapshot is one append-only entry in an entity's rating history.
// Observations counts the settled races folded into the rating so far,
// including the race that produced this snapshot.
type RatingSnapshot struct {
	Entity       EntityRef `json:"entity"`
	Stratum      string    `db:"stratum" json:"stratum"`
	RaceID       int64     `db:"race_id" json:"race_id" validate:"required"`
	At           time.Time `db:"recorded_at" json:"recorded_at" validate:"required"`
	Rating       float64   `db:"rating" json:"rating" validate:"gte=0,lte=1"`
	Observations int       `db:"observations" json:"observations" validate:"gte=1"`
}

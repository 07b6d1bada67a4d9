package rating

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/raceform/internal/logger"
	"github.com/yourusername/raceform/internal/metrics"
	"github.com/yourusername/raceform/internal/models"
)

// Params configure the update engine.
type Params struct {
	// Alpha is the exponential-decay weight on the newest performance.
	Alpha float64
	// DefaultRating is the cold-start rating and the global mean that agent
	// ratings shrink toward.
	DefaultRating float64
	// NonFinisherPerf is the performance assigned to entrants that did not
	// finish. There is no implicit default; config validation requires it.
	NonFinisherPerf float64
	// ShrinkagePrior is the pseudo-count controlling how quickly agent
	// confidence accumulates.
	ShrinkagePrior float64
}

func (p Params) validate() error {
	if p.Alpha <= 0 || p.Alpha > 1 {
		return fmt.Errorf("alpha %v outside (0,1]: %w", p.Alpha, models.ErrInvalidInput)
	}
	if p.DefaultRating < 0 || p.DefaultRating > 1 {
		return fmt.Errorf("default rating %v outside [0,1]: %w", p.DefaultRating, models.ErrInvalidInput)
	}
	if p.NonFinisherPerf < 0 || p.NonFinisherPerf > 1 {
		return fmt.Errorf("non-finisher performance %v outside [0,1]: %w", p.NonFinisherPerf, models.ErrInvalidInput)
	}
	if p.ShrinkagePrior < 0 {
		return fmt.Errorf("shrinkage prior %v negative: %w", p.ShrinkagePrior, models.ErrInvalidInput)
	}
	return nil
}

// Engine folds settled races into a rating store in timeline order. Horses
// take the plain decay blend; jockeys and trainers additionally shrink
// toward the global mean while their observation counts are low.
type Engine struct {
	store        *Store
	params       Params
	horseUpdater Updater
	agentUpdater Updater
	logger       *logrus.Logger
	audit        *logger.AuditLogger

	lastStart time.Time
	lastID    int64
	applied   int
	seen      map[int64]bool
}

// NewEngine creates an update engine over the given store. The audit logger
// may be nil when no trail is wanted.
func NewEngine(store *Store, params Params, log *logrus.Logger, audit *logger.AuditLogger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required: %w", models.ErrInvalidInput)
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required: %w", models.ErrInvalidInput)
	}
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("invalid rating params: %w", err)
	}
	return &Engine{
		store:        store,
		params:       params,
		horseUpdater: DecayUpdater{Alpha: params.Alpha},
		agentUpdater: ShrinkageUpdater{
			Alpha:       params.Alpha,
			GlobalMean:  params.DefaultRating,
			PriorWeight: params.ShrinkagePrior,
		},
		logger: log,
		audit:  audit,
		seen:   make(map[int64]bool),
	}, nil
}

// Store returns the engine's underlying store.
func (e *Engine) Store() *Store {
	return e.store
}

// Applied returns the number of races folded in so far.
func (e *Engine) Applied() int {
	return e.applied
}

// performance maps an entrant's outcome onto [0,1], monotonically decreasing
// in finishing rank. A single-entrant field scores 1.0 outright.
func (e *Engine) performance(runner *models.Runner, fieldSize int) (float64, error) {
	if runner.NonFinisher {
		return e.params.NonFinisherPerf, nil
	}
	if runner.FinishPosition == nil {
		return 0, fmt.Errorf("race %d horse %d: %w", runner.RaceID, runner.HorseID, models.ErrNotSettled)
	}
	if fieldSize == 1 {
		return 1.0, nil
	}
	rank := *runner.FinishPosition
	return 1.0 - float64(rank-1)/float64(fieldSize-1), nil
}

// pendingUpdate accumulates one entity's performances within a single race.
// A trainer saddling several runners contributes a mean performance and
// gains one observation per runner.
type pendingUpdate struct {
	entity  models.EntityRef
	updater Updater
	sumPerf float64
	count   int
}

// ApplyRace folds one settled race into the store atomically: every snapshot
// is computed against pre-race state, then all are appended together.
// Races must arrive in timeline order; violations are fatal.
func (e *Engine) ApplyRace(race *models.Race) error {
	if race == nil {
		return fmt.Errorf("nil race: %w", models.ErrInvalidInput)
	}
	if !race.IsSettled() {
		return fmt.Errorf("race %d: %w", race.ID, models.ErrNotSettled)
	}
	if len(race.Runners) == 0 {
		return fmt.Errorf("race %d: %w", race.ID, models.ErrNoEntrants)
	}
	if e.seen[race.ID] {
		return fmt.Errorf("race %d already applied: %w", race.ID, models.ErrDuplicateKey)
	}
	if e.applied > 0 && (race.Start.Before(e.lastStart) ||
		(race.Start.Equal(e.lastStart) && race.ID < e.lastID)) {
		if e.audit != nil {
			e.audit.LogOrderingAbort(race.ID, race.Start, e.lastStart)
		}
		metrics.RecordOrderingAbort()
		return &models.OrderingError{
			RaceID:    race.ID,
			RaceStart: race.Start,
			LastID:    e.lastID,
			LastStart: e.lastStart,
		}
	}

	updates := make([]*pendingUpdate, 0, len(race.Runners)*3)
	index := make(map[models.EntityRef]*pendingUpdate, len(race.Runners)*3)
	accumulate := func(entity models.EntityRef, updater Updater, perf float64) {
		upd, ok := index[entity]
		if !ok {
			upd = &pendingUpdate{entity: entity, updater: updater}
			index[entity] = upd
			updates = append(updates, upd)
		}
		upd.sumPerf += perf
		upd.count++
	}

	for _, runner := range race.Runners {
		perf, err := e.performance(runner, race.FieldSize)
		if err != nil {
			return err
		}
		accumulate(models.HorseRef(runner.HorseID), e.horseUpdater, perf)
		for _, agent := range runner.Agents() {
			accumulate(agent, e.agentUpdater, perf)
		}
	}

	// Compute every snapshot against pre-race state before touching the
	// store, so a failure leaves no partial appends.
	snaps := make([]models.RatingSnapshot, 0, len(updates))
	olds := make([]float64, 0, len(updates))
	colds := make([]bool, 0, len(updates))
	for _, upd := range updates {
		old := e.params.DefaultRating
		priorObs := 0
		coldStart := true
		if prev, ok := e.store.AsOf(upd.entity, race.RaceType, race.Start); ok {
			old = prev.Rating
			priorObs = prev.Observations
			coldStart = false
		}
		perf := upd.sumPerf / float64(upd.count)
		snaps = append(snaps, models.RatingSnapshot{
			Entity:       upd.entity,
			Stratum:      race.RaceType,
			RaceID:       race.ID,
			At:           race.Start,
			Rating:       upd.updater.Update(old, perf, priorObs),
			Observations: priorObs + upd.count,
		})
		olds = append(olds, old)
		colds = append(colds, coldStart)
	}

	for i, snap := range snaps {
		if err := e.store.Append(snap); err != nil {
			return fmt.Errorf("race %d: append %s: %w", race.ID, snap.Entity, err)
		}
		if e.audit != nil {
			e.audit.LogSnapshotAppend(snap, olds[i], colds[i])
		}
		metrics.RecordRatingSnapshot(string(snap.Entity.Kind))
	}

	e.lastStart = race.Start
	e.lastID = race.ID
	e.applied++
	e.seen[race.ID] = true
	return nil
}

// Apply folds a sequence of settled races, checking for cancellation between
// races. The caller supplies races already in timeline order.
func (e *Engine) Apply(ctx context.Context, races []*models.Race) error {
	started := time.Now()
	for i, race := range races {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := e.ApplyRace(race); err != nil {
			return fmt.Errorf("apply race %d of %d: %w", i+1, len(races), err)
		}
		if (i+1)%5000 == 0 {
			e.logger.WithFields(logrus.Fields{
				"races":     i + 1,
				"snapshots": e.store.Size(),
			}).Info("Rating pass progress")
		}
	}
	metrics.ObserveRatingPassDuration(time.Since(started).Seconds())
	return nil
}

// Package logger provides audit logging.
package logger

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/raceform/internal/models"
)

// AuditLogger mirrors every rating-store mutation to a dedicated audit
// trail. Snapshots are append-only, so the trail plus the initial state
// reconstructs any historical rating.
type AuditLogger struct {
	*logrus.Entry
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(baseLogger *logrus.Logger) *AuditLogger {
	return &AuditLogger{
		Entry: baseLogger.WithField("component", "audit"),
	}
}

// LogSnapshotAppend records one rating snapshot being appended.
func (al *AuditLogger) LogSnapshotAppend(snap models.RatingSnapshot, oldRating float64, coldStart bool) {
	al.WithFields(logrus.Fields{
		"entity":       snap.Entity.String(),
		"stratum":      snap.Stratum,
		"race_id":      snap.RaceID,
		"recorded_at":  snap.At.Unix(),
		"old_rating":   oldRating,
		"new_rating":   snap.Rating,
		"observations": snap.Observations,
		"cold_start":   coldStart,
	}).Info("Rating snapshot appended")
}

// LogRaceSettled records a race outcome transition.
func (al *AuditLogger) LogRaceSettled(raceID int64, start time.Time, fieldSize, finishers int) {
	al.WithFields(logrus.Fields{
		"race_id":    raceID,
		"start_time": start.Unix(),
		"field_size": fieldSize,
		"finishers":  finishers,
	}).Info("Race settled")
}

// LogOrderingAbort records a rejected out-of-order update.
func (al *AuditLogger) LogOrderingAbort(raceID int64, raceStart, lastStart time.Time) {
	al.WithFields(logrus.Fields{
		"race_id":    raceID,
		"race_start": raceStart.Unix(),
		"last_start": lastStart.Unix(),
	}).Error("Out-of-order rating update rejected")
}

// LogLeakageAbort records a tripped leakage guard with full context.
func (al *AuditLogger) LogLeakageAbort(raceID int64, raceStart time.Time, entity string, snapshotAt time.Time) {
	al.WithFields(logrus.Fields{
		"race_id":     raceID,
		"race_start":  raceStart.Unix(),
		"entity":      entity,
		"snapshot_at": snapshotAt.Unix(),
	}).Error("Leakage guard tripped")
}

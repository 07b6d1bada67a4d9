// Package logger provides evaluation lifecycle logging.
package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// EvalLogger provides structured logging for forward-chaining evaluation
// runs: fold phase transitions, skips and final aggregates.
type EvalLogger struct {
	*logrus.Entry
}

// NewEvalLogger creates a new evaluation logger.
func NewEvalLogger(baseLogger *logrus.Logger) *EvalLogger {
	return &EvalLogger{
		Entry: baseLogger.WithField("component", "evaluation"),
	}
}

// LogFoldPhase records a fold moving between evaluator phases.
func (el *EvalLogger) LogFoldPhase(fold int, phase string, trainRaces, testRaces int) {
	el.WithFields(logrus.Fields{
		"fold":        fold,
		"phase":       phase,
		"train_races": trainRaces,
		"test_races":  testRaces,
	}).Info("Fold phase transition")
}

// LogFoldSkipped records a fold skipped for an empty train window.
func (el *EvalLogger) LogFoldSkipped(fold int, reason string) {
	el.WithFields(logrus.Fields{
		"fold":   fold,
		"reason": reason,
	}).Warn("Fold skipped")
}

// LogFoldComplete records per-fold metrics.
func (el *EvalLogger) LogFoldComplete(fold int, races int, logLoss, brier float64, duration time.Duration) {
	el.WithFields(logrus.Fields{
		"fold":        fold,
		"races":       races,
		"log_loss":    logLoss,
		"brier_score": brier,
		"duration_ms": duration.Milliseconds(),
	}).Info("Fold complete")
}

// LogRunComplete records the aggregate result of an evaluation run.
func (el *EvalLogger) LogRunComplete(runID string, folds, skipped, races int, logLoss, brier float64) {
	el.WithFields(logrus.Fields{
		"run_id":        runID,
		"folds":         folds,
		"skipped_folds": skipped,
		"races":         races,
		"log_loss":      logLoss,
		"brier_score":   brier,
	}).Info("Evaluation run complete")
}

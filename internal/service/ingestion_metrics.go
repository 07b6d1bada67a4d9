package service

import (
	"fmt"
	"sync"
	"time"
)

// IngestionMetrics tracks statistics about one data ingestion pass.
type IngestionMetrics struct {
	mu               sync.RWMutex
	StartTime        time.Time
	Duration         time.Duration
	TotalRows        int
	DroppedRows      int
	TotalRaces       int
	SuccessfulRaces  int
	SettledRaces     int
	TotalRunners     int
	Duplicates       int
	ValidationErrors int
	Errors           int
}

// NewIngestionMetrics creates a new metrics tracker.
func NewIngestionMetrics() *IngestionMetrics {
	return &IngestionMetrics{
		StartTime: time.Now(),
	}
}

// Reset resets all metrics.
func (m *IngestionMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StartTime = time.Now()
	m.Duration = 0
	m.TotalRows = 0
	m.DroppedRows = 0
	m.TotalRaces = 0
	m.SuccessfulRaces = 0
	m.SettledRaces = 0
	m.TotalRunners = 0
	m.Duplicates = 0
	m.ValidationErrors = 0
	m.Errors = 0
}

// RecordClean folds a cleaning report into the counters.
func (m *IngestionMetrics) RecordClean(report *CleanReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalRows += report.TotalRows
	m.DroppedRows += report.TotalDropped()
	m.TotalRaces += report.Races
}

// RecordRace increments the persisted race count.
func (m *IngestionMetrics) RecordRace() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SuccessfulRaces++
}

// RecordRunners adds to the persisted runner count.
func (m *IngestionMetrics) RecordRunners(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalRunners += count
}

// RecordSettled increments the count of races settled in place.
func (m *IngestionMetrics) RecordSettled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SettledRaces++
}

// RecordDuplicate increments the duplicate count.
func (m *IngestionMetrics) RecordDuplicate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Duplicates++
}

// RecordValidationError increments the validation error count.
func (m *IngestionMetrics) RecordValidationError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ValidationErrors++
}

// RecordError increments the error count.
func (m *IngestionMetrics) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors++
}

// Finish stamps the elapsed duration.
func (m *IngestionMetrics) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Duration = time.Since(m.StartTime)
}

// String returns a formatted string representation of the metrics.
func (m *IngestionMetrics) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	successRate := float64(0)
	if m.TotalRaces > 0 {
		successRate = float64(m.SuccessfulRaces) / float64(m.TotalRaces) * 100
	}

	return fmt.Sprintf(
		"IngestionMetrics{Rows=%d, Dropped=%d, Races=%d, Persisted=%d (%.1f%%), Settled=%d, Runners=%d, Duplicates=%d, ValidationErrors=%d, Errors=%d, Duration=%v}",
		m.TotalRows,
		m.DroppedRows,
		m.TotalRaces,
		m.SuccessfulRaces,
		successRate,
		m.SettledRaces,
		m.TotalRunners,
		m.Duplicates,
		m.ValidationErrors,
		m.Errors,
		m.Duration,
	)
}

// Package metrics defines ingestion-specific metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingestion counter vectors
var (
	RacesIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raceform",
		Name:      "races_ingested_total",
		Help:      "Total number of races accepted into the timeline, by source",
	}, []string{"source"})
	RowsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raceform",
		Name:      "rows_dropped_total",
		Help:      "Total number of raw rows dropped during cleaning, by reason",
	}, []string{"reason"})
	IngestionRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raceform",
		Name:      "ingestion_runs_total",
		Help:      "Total number of ingestion runs by status",
	}, []string{"status"})
)

// Ingestion histogram metrics
var (
	IngestionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "raceform",
		Name:      "ingestion_duration_seconds",
		Help:      "Duration of ingestion runs in seconds",
		Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800},
	})
)

// RecordRaceIngested records one race accepted from a source.
func RecordRaceIngested(source string) {
	RacesIngestedTotal.WithLabelValues(source).Inc()
}

// RecordRowsDropped records raw rows discarded during cleaning.
func RecordRowsDropped(reason string, count int) {
	RowsDroppedTotal.WithLabelValues(reason).Add(float64(count))
}

// RecordIngestionRun records an ingestion run event.
// status should be one of: "success", "failure"
func RecordIngestionRun(status string) {
	IngestionRunsTotal.WithLabelValues(status).Inc()
}

// ObserveIngestionDuration records the duration of an ingestion run.
func ObserveIngestionDuration(durationSeconds float64) {
	IngestionDuration.Observe(durationSeconds)
}

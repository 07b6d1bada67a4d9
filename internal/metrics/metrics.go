// Package metrics provides the centralized Prometheus registry for the
// rating and evaluation pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Global registry instance
var (
	registry *prometheus.Registry
	once     sync.Once
)

// Counter metrics
var (
	RatingSnapshotsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raceform",
		Name:      "rating_snapshots_total",
		Help:      "Total number of rating snapshots appended, by entity kind",
	}, []string{"kind"})
	OrderingAbortsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raceform",
		Name:      "ordering_aborts_total",
		Help:      "Total number of rating passes aborted by out-of-order races",
	})
	LeakageAbortsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raceform",
		Name:      "leakage_aborts_total",
		Help:      "Total number of evaluation runs aborted by detected leakage",
	})
	FoldsEvaluatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raceform",
		Name:      "folds_evaluated_total",
		Help:      "Total number of evaluation folds by outcome",
	}, []string{"status"})
)

// Gauge metrics
var (
	EvaluationLogLoss = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "raceform",
		Name:      "evaluation_log_loss",
		Help:      "Aggregate log loss from the latest evaluation run per model variant",
	}, []string{"variant"})
	EvaluationBrier = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "raceform",
		Name:      "evaluation_brier_score",
		Help:      "Aggregate Brier score from the latest evaluation run per model variant",
	}, []string{"variant"})
	RatingStoreSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raceform",
		Name:      "rating_store_snapshots",
		Help:      "Number of snapshots currently held by the rating store",
	})
)

// Histogram metrics
var (
	RatingPassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "raceform",
		Name:      "rating_pass_duration_seconds",
		Help:      "Duration of full rating passes over the timeline in seconds",
		Buckets:   prometheus.DefBuckets,
	})
	FoldDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "raceform",
		Name:      "fold_duration_seconds",
		Help:      "Duration of single evaluation folds in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		// Register counter metrics
		registry.MustRegister(RatingSnapshotsTotal)
		registry.MustRegister(OrderingAbortsTotal)
		registry.MustRegister(LeakageAbortsTotal)
		registry.MustRegister(FoldsEvaluatedTotal)

		// Register gauge metrics
		registry.MustRegister(EvaluationLogLoss)
		registry.MustRegister(EvaluationBrier)
		registry.MustRegister(RatingStoreSize)

		// Register histogram metrics
		registry.MustRegister(RatingPassDuration)
		registry.MustRegister(FoldDuration)

		// Register ingestion metrics
		registry.MustRegister(RacesIngestedTotal)
		registry.MustRegister(RowsDroppedTotal)
		registry.MustRegister(IngestionRunsTotal)
		registry.MustRegister(IngestionDuration)

		// Register prediction metrics
		registry.MustRegister(PredictionsServedTotal)
		registry.MustRegister(PredictionCacheTotal)
		registry.MustRegister(ModelFitsTotal)
		registry.MustRegister(ModelFitDuration)
	})
	return registry
}

// GetRegistry returns the global Prometheus registry.
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return InitRegistry()
	}
	return registry
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{})
}

// RecordRatingSnapshot records one appended rating snapshot.
func RecordRatingSnapshot(kind string) {
	RatingSnapshotsTotal.WithLabelValues(kind).Inc()
}

// RecordOrderingAbort records a rating pass aborted by an out-of-order race.
func RecordOrderingAbort() {
	OrderingAbortsTotal.Inc()
}

// RecordLeakageAbort records an evaluation run aborted by detected leakage.
func RecordLeakageAbort() {
	LeakageAbortsTotal.Inc()
}

// RecordFoldEvaluated records a fold outcome, "evaluated" or "skipped".
func RecordFoldEvaluated(status string) {
	FoldsEvaluatedTotal.WithLabelValues(status).Inc()
}

// SetEvaluationScores publishes the aggregate scores of an evaluation run.
func SetEvaluationScores(variant string, logLoss, brier float64) {
	EvaluationLogLoss.WithLabelValues(variant).Set(logLoss)
	EvaluationBrier.WithLabelValues(variant).Set(brier)
}

// UpdateRatingStoreSize updates the rating store size gauge.
func UpdateRatingStoreSize(snapshots float64) {
	RatingStoreSize.Set(snapshots)
}

// ObserveRatingPassDuration records the duration of a full rating pass.
func ObserveRatingPassDuration(durationSeconds float64) {
	RatingPassDuration.Observe(durationSeconds)
}

// ObserveFoldDuration records the duration of one evaluation fold.
func ObserveFoldDuration(durationSeconds float64) {
	FoldDuration.Observe(durationSeconds)
}

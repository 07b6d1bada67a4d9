// Package metrics defines prediction-serving metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prediction counter vectors
var (
	PredictionsServedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raceform",
		Name:      "predictions_served_total",
		Help:      "Total number of race predictions served, by model variant",
	}, []string{"variant"})
	PredictionCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raceform",
		Name:      "prediction_cache_total",
		Help:      "Prediction cache lookups by outcome",
	}, []string{"outcome"})
	ModelFitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raceform",
		Name:      "model_fits_total",
		Help:      "Total number of model fits by variant and status",
	}, []string{"variant", "status"})
)

// Prediction histogram metrics
var (
	ModelFitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "raceform",
		Name:      "model_fit_duration_seconds",
		Help:      "Duration of model fitting in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
)

// RecordPrediction records one served prediction.
func RecordPrediction(variant string, cacheHit bool) {
	PredictionsServedTotal.WithLabelValues(variant).Inc()
	outcome := "miss"
	if cacheHit {
		outcome = "hit"
	}
	PredictionCacheTotal.WithLabelValues(outcome).Inc()
}

// RecordModelFit records a model fit event.
// status should be one of: "success", "failure"
func RecordModelFit(variant, status string, durationSeconds float64) {
	ModelFitsTotal.WithLabelValues(variant, status).Inc()
	ModelFitDuration.Observe(durationSeconds)
}

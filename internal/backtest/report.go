package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Report is the full result of one evaluation run
type Report struct {
	RunID        string           `json:"run_id"`
	ModelVariant string           `json:"model_variant"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	TotalRaces   int              `json:"total_races"`
	Folds        []FoldMetrics    `json:"folds"`
	Skipped      []SkippedFold    `json:"skipped_folds,omitempty"`
	Aggregate    AggregateMetrics `json:"aggregate"`
	Notes        []string         `json:"notes,omitempty"`
}

// SkippedFold records a fold that produced no metrics and why
type SkippedFold struct {
	Index      int    `json:"index"`
	Reason     string `json:"reason"`
	TrainRaces int    `json:"train_races"`
	TestRaces  int    `json:"test_races"`
}

// GenerateConsoleReport formats an evaluation report for terminal output
func GenerateConsoleReport(report *Report) string {
	var builder strings.Builder
	builder.WriteString("Forward-Chaining Evaluation\n")
	builder.WriteString("===========================\n")
	builder.WriteString(fmt.Sprintf("Run ID: %s\n", report.RunID))
	builder.WriteString(fmt.Sprintf("Model: %s\n", report.ModelVariant))
	builder.WriteString(fmt.Sprintf("Races: %d on the timeline, %d scored\n", report.TotalRaces, report.Aggregate.Races))
	builder.WriteString(fmt.Sprintf("Folds: %d evaluated, %d skipped\n\n", len(report.Folds), len(report.Skipped)))

	builder.WriteString(fmt.Sprintf("%5s %8s %7s %10s %10s %8s\n",
		"Fold", "Train", "Test", "Train NLL", "Log Loss", "Brier"))
	for _, fm := range report.Folds {
		builder.WriteString(fmt.Sprintf("%5d %8d %7d %10.4f %10.4f %8.4f\n",
			fm.Index, fm.TrainRaces, fm.TestRaces, fm.TrainNLL, fm.LogLoss, fm.Brier))
	}
	for _, sk := range report.Skipped {
		builder.WriteString(fmt.Sprintf("%5d skipped: %s\n", sk.Index, sk.Reason))
	}

	builder.WriteString(fmt.Sprintf("\nAggregate Log Loss: %.4f\n", report.Aggregate.LogLoss))
	builder.WriteString(fmt.Sprintf("Aggregate Brier: %.4f\n", report.Aggregate.Brier))

	if mkt := report.Aggregate.Market; mkt != nil {
		builder.WriteString(fmt.Sprintf("\nMarket Baseline (%d races)\n", mkt.Races))
		builder.WriteString(fmt.Sprintf("  Log Loss: model %.4f, market %.4f\n", mkt.ModelLogLoss, mkt.MarketLogLoss))
		builder.WriteString(fmt.Sprintf("  Brier: model %.4f, market %.4f\n", mkt.ModelBrier, mkt.MarketBrier))
	}

	builder.WriteString("\nCalibration\n")
	for _, bin := range report.Aggregate.Calibration {
		if bin.Runners == 0 {
			continue
		}
		builder.WriteString(fmt.Sprintf("  [%.2f, %.2f) %7d runners, predicted %.4f, observed %.4f\n",
			bin.Lo, bin.Hi, bin.Runners, bin.MeanPredicted, bin.ObservedRate))
	}

	for _, note := range report.Notes {
		builder.WriteString(fmt.Sprintf("\nNote: %s\n", note))
	}
	return builder.String()
}

// ExportJSON writes the report to disk for downstream analysis
func ExportJSON(report *Report, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return os.WriteFile(outputPath, data, 0o644)
}

package backtest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/raceform/internal/timeline"
)

func runSmallEvaluation(t *testing.T) *Report {
	t.Helper()
	tl, err := timeline.New(syntheticSeason(24))
	require.NoError(t, err)
	ev := newTestEvaluator(t, evalConfig())
	report, err := ev.Run(context.Background(), tl)
	require.NoError(t, err)
	return report
}

func TestGenerateConsoleReport(t *testing.T) {
	report := runSmallEvaluation(t)

	text := GenerateConsoleReport(report)
	assert.Contains(t, text, "Forward-Chaining Evaluation")
	assert.Contains(t, text, report.RunID)
	assert.Contains(t, text, "Aggregate Log Loss")
	assert.Contains(t, text, "Calibration")
	assert.Contains(t, text, "market baseline omitted")
}

func TestExportJSONRoundTrip(t *testing.T) {
	report := runSmallEvaluation(t)

	path := filepath.Join(t.TempDir(), "eval", "report.json")
	require.NoError(t, ExportJSON(report, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.RunID, decoded.RunID)
	assert.Equal(t, report.ModelVariant, decoded.ModelVariant)
	assert.Len(t, decoded.Folds, len(report.Folds))
	assert.InDelta(t, report.Aggregate.LogLoss, decoded.Aggregate.LogLoss, 1e-12)
	assert.Len(t, decoded.Aggregate.Calibration, 10)
}

package report

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perfguard/internal/accounts"
	"github.com/sawpanic/perfguard/internal/detector"
	"github.com/sawpanic/perfguard/internal/features/featuretest"
)

func fitted(t *testing.T) (*detector.Model, detector.FitSummary) {
	t.Helper()
	table := make(accounts.StaticLookup)
	for player, label := range featuretest.TrainStatuses() {
		status, err := accounts.ParseStatus(label)
		require.NoError(t, err)
		table[player] = status
	}

	m := detector.New(accounts.NewOracle(table))
	summary, err := m.Fit(context.Background(), featuretest.TrainRows(), detector.FitOptions{})
	require.NoError(t, err)
	return m, summary
}

func TestBuild(t *testing.T) {
	m, summary := fitted(t)
	fr := NewFitReport("player_anomaly_detection_model", "saved_models/player_anomaly_detection_model.json")
	fr.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	out := fr.Build(summary, m.Store())

	assert.Contains(t, out, "# Threshold Fit Report: player_anomaly_detection_model")
	assert.Contains(t, out, "**Generated:** 2024-03-01 12:00:00 UTC")
	assert.Contains(t, out, summary.RunID)
	assert.Contains(t, out, "| Segments in training data | 2 |")
	assert.Contains(t, out, "| Calibrated above default | 2 |")
	assert.Contains(t, out, "| blitz | 1500-1600 | 6 | 0.16 |")
	assert.Contains(t, out, "| bullet | 1600-1700 | 6 | 0.17 |")
}

func TestBuildWithoutSegments(t *testing.T) {
	m := detector.New(accounts.NewOracle(accounts.StaticLookup{}))
	summary, err := m.Fit(context.Background(), nil, detector.FitOptions{})
	require.NoError(t, err)

	out := NewFitReport("empty", "").Build(summary, m.Store())
	assert.Contains(t, out, "_No segments in the training data._")
	assert.NotContains(t, out, "Model file")
}

func TestWrite(t *testing.T) {
	m, summary := fitted(t)
	path := filepath.Join(t.TempDir(), "report.md")

	require.NoError(t, NewFitReport("m", "").Write(path, summary, m.Store()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Segments")
}

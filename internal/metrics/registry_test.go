package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry()

	r.RecordLookup("hit")
	r.RecordLookup("hit")
	r.RecordLookup("miss")
	r.RecordCandidates("blitz", 12)
	r.RecordSegment("blitz", 0.16, true, 5*time.Millisecond)
	r.RecordSegment("bullet", 0.15, false, time.Millisecond)
	r.RecordPrediction("blitz", true)
	r.SetFitted(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.OracleLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.OracleLookups.WithLabelValues("miss")))
	assert.Equal(t, 12.0, testutil.ToFloat64(r.CandidatesEvaluated.WithLabelValues("blitz")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SegmentsCalibrated.WithLabelValues("blitz", "improved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SegmentsCalibrated.WithLabelValues("bullet", "default")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RowsPredicted.WithLabelValues("blitz", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ModelFitted))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRegistry()
	r.RecordCandidates("rapid", 3)

	path := filepath.Join(t.TempDir(), "perfguard.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `perfguard_calibration_candidates_total{time_control="rapid"} 3`))
}

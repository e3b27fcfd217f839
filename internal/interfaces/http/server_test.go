package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perfguard/internal/accounts"
	"github.com/sawpanic/perfguard/internal/detector"
	"github.com/sawpanic/perfguard/internal/features"
	"github.com/sawpanic/perfguard/internal/interfaces/http/handlers"
	"github.com/sawpanic/perfguard/internal/metrics"
	"github.com/sawpanic/perfguard/internal/persistence"
	"github.com/sawpanic/perfguard/internal/thresholds"
)

type stubHealth struct{ err error }

func (s stubHealth) Health(context.Context) persistence.HealthCheck {
	if s.err != nil {
		return persistence.HealthCheck{Healthy: false, Errors: []string{s.err.Error()}}
	}
	return persistence.HealthCheck{Healthy: true}
}

func (s stubHealth) Ping(context.Context) error { return s.err }

func newTestServer(t *testing.T, db persistence.RepositoryHealth) (*httptest.Server, *metrics.Registry) {
	t.Helper()

	store := thresholds.New(thresholds.DefaultThreshold)
	store.Set(features.Segment{TimeControl: features.Blitz, Bin: 1500}, 0.16, 1.5089)
	store.Set(features.Segment{TimeControl: features.Bullet, Bin: 1600}, 0.17, 1.5089)
	meta := thresholds.Meta{Name: "player_anomaly_detection_model", RunID: "run-1", CreatedAt: time.Now().UTC()}

	reg := metrics.NewRegistry()
	model := detector.FromStore(store, meta, accounts.NewOracle(accounts.StaticLookup{}), detector.WithRecorder(reg))

	config := DefaultServerConfig()
	config.Port = 0
	srv, err := NewServer(config, handlers.NewHandlers(model, meta, db), reg.Gatherer())
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, reg
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var body handlers.HealthResponse
	resp := getJSON(t, ts.URL+"/health", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Len(t, resp.Header.Get("X-Request-ID"), 8)
	assert.Equal(t, "healthy", body.Status)
	assert.True(t, body.Model.Fitted)
	assert.Equal(t, "run-1", body.Model.RunID)
	assert.Equal(t, 160, body.Model.Segments)
	assert.Equal(t, 2, body.Model.Calibrated)
	assert.Nil(t, body.Database)
}

func TestHealthDegradedDatabase(t *testing.T) {
	ts, _ := newTestServer(t, stubHealth{err: errors.New("ping failed")})

	var body handlers.HealthResponse
	resp := getJSON(t, ts.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "degraded", body.Status)
	require.NotNil(t, body.Database)
	assert.False(t, body.Database.Healthy)
}

func TestThresholds(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var all handlers.ThresholdsResponse
	getJSON(t, ts.URL+"/thresholds", &all)
	assert.Equal(t, 160, all.Count)
	assert.Equal(t, "player_anomaly_detection_model", all.Model)

	var blitz handlers.ThresholdsResponse
	getJSON(t, ts.URL+"/thresholds?time_control=blitz", &blitz)
	assert.Equal(t, 40, blitz.Count)

	var calibrated handlers.ThresholdsResponse
	getJSON(t, ts.URL+"/thresholds?calibrated=true", &calibrated)
	require.Equal(t, 2, calibrated.Count)
	assert.Equal(t, "blitz", calibrated.Thresholds[0].TimeControl)
	assert.Equal(t, "1500-1600", calibrated.Thresholds[0].RatingBin)
	assert.Equal(t, 0.16, calibrated.Thresholds[0].Threshold)
	assert.Equal(t, "bullet", calibrated.Thresholds[1].TimeControl)

	resp := getJSON(t, ts.URL+"/thresholds?time_control=correspondence", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestThresholdBySegment(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for _, bin := range []string{"1500", "1500-1600"} {
		var rec handlers.ThresholdRecord
		resp := getJSON(t, ts.URL+"/thresholds/blitz/"+bin, &rec)
		assert.Equal(t, http.StatusOK, resp.StatusCode, bin)
		assert.Equal(t, 0.16, rec.Threshold)
		require.NotNil(t, rec.Metric)
		assert.InDelta(t, 1.5089, *rec.Metric, 1e-9)
	}

	var rec handlers.ThresholdRecord
	getJSON(t, ts.URL+"/thresholds/rapid/2000", &rec)
	assert.Equal(t, 0.15, rec.Threshold)
	assert.Nil(t, rec.Metric)

	var errBody handlers.ErrorResponse
	resp := getJSON(t, ts.URL+"/thresholds/blitz/4000", &errBody)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "segment_not_found", errBody.Code)
	assert.Len(t, errBody.RequestID, 8)

	resp = getJSON(t, ts.URL+"/thresholds/blitz/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = getJSON(t, ts.URL+"/thresholds/chess960/1500", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotFound(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var errBody handlers.ErrorResponse
	resp := getJSON(t, ts.URL+"/candidates", &errBody)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "endpoint_not_found", errBody.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "perfguard_model_fitted 1")
}

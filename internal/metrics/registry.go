package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics for perfguard
type Registry struct {
	reg *prometheus.Registry

	// Calibration
	CandidatesEvaluated *prometheus.CounterVec
	SegmentsCalibrated  *prometheus.CounterVec
	SelectedThreshold   *prometheus.HistogramVec
	SegmentDuration     prometheus.Histogram

	// Account service
	OracleLookups *prometheus.CounterVec

	// Prediction
	RowsPredicted *prometheus.CounterVec

	// Model state
	ModelFitted prometheus.Gauge
}

// NewRegistry creates a registry with all perfguard metrics registered
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		CandidatesEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfguard_calibration_candidates_total",
				Help: "Candidate thresholds evaluated during calibration",
			},
			[]string{"time_control"},
		),

		SegmentsCalibrated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfguard_segments_calibrated_total",
				Help: "Segments calibrated by outcome (improved, default)",
			},
			[]string{"time_control", "outcome"},
		),

		SelectedThreshold: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perfguard_selected_threshold",
				Help:    "Distribution of calibrated perf diff thresholds",
				Buckets: prometheus.LinearBuckets(0.05, 0.05, 12),
			},
			[]string{"time_control"},
		),

		SegmentDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "perfguard_segment_calibration_seconds",
				Help:    "Wall time spent calibrating one segment",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),

		OracleLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfguard_account_lookups_total",
				Help: "Account status resolutions by outcome (hit, miss, not_found, error)",
			},
			[]string{"outcome"},
		),

		RowsPredicted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perfguard_rows_predicted_total",
				Help: "Rows labeled by prediction",
			},
			[]string{"time_control", "anomaly"},
		),

		ModelFitted: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "perfguard_model_fitted",
				Help: "1 once the model has been fitted or restored",
			},
		),
	}

	r.reg.MustRegister(
		r.CandidatesEvaluated,
		r.SegmentsCalibrated,
		r.SelectedThreshold,
		r.SegmentDuration,
		r.OracleLookups,
		r.RowsPredicted,
		r.ModelFitted,
		collectors.NewGoCollector(),
	)

	return r
}

// Gatherer exposes the registry for promhttp and textfile export
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// RecordLookup counts an account status resolution
func (r *Registry) RecordLookup(outcome string) {
	r.OracleLookups.WithLabelValues(outcome).Inc()
}

// RecordCandidates counts evaluated candidate thresholds for a time control
func (r *Registry) RecordCandidates(timeControl string, n int) {
	r.CandidatesEvaluated.WithLabelValues(timeControl).Add(float64(n))
}

// RecordSegment records the result of one segment calibration
func (r *Registry) RecordSegment(timeControl string, threshold float64, improved bool, elapsed time.Duration) {
	outcome := "default"
	if improved {
		outcome = "improved"
	}
	r.SegmentsCalibrated.WithLabelValues(timeControl, outcome).Inc()
	r.SelectedThreshold.WithLabelValues(timeControl).Observe(threshold)
	r.SegmentDuration.Observe(elapsed.Seconds())
}

// RecordPrediction counts one labeled row
func (r *Registry) RecordPrediction(timeControl string, anomaly bool) {
	label := "false"
	if anomaly {
		label = "true"
	}
	r.RowsPredicted.WithLabelValues(timeControl, label).Inc()
}

// SetFitted flips the fitted gauge
func (r *Registry) SetFitted(fitted bool) {
	if fitted {
		r.ModelFitted.Set(1)
		return
	}
	r.ModelFitted.Set(0)
}

// WriteTextfile dumps the registry in the node exporter textfile format
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}

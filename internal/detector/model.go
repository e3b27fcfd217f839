// Package detector fits per-segment perf diff thresholds against account
// statuses and labels new feature rows with them.
package detector

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/perfguard/internal/accounts"
	"github.com/sawpanic/perfguard/internal/calibration"
	"github.com/sawpanic/perfguard/internal/diagnostics"
	"github.com/sawpanic/perfguard/internal/features"
	"github.com/sawpanic/perfguard/internal/thresholds"
)

// Recorder receives fit and predict metrics
type Recorder interface {
	RecordCandidates(timeControl string, n int)
	RecordSegment(timeControl string, threshold float64, improved bool, elapsed time.Duration)
	RecordPrediction(timeControl string, anomaly bool)
	SetFitted(fitted bool)
}

// Progress reports segment completion during a fit
type Progress interface {
	Increment(message string)
	Finish()
	Fail(reason string)
}

// ProgressFactory creates a progress reporter for total segments
type ProgressFactory func(total int) Progress

// Model owns the threshold store and everything needed to fit it
type Model struct {
	mu      sync.Mutex
	fitted  bool
	runID   string
	loaded  thresholds.Meta
	store   *thresholds.Store
	oracle  *accounts.Oracle
	cfg     calibration.Config
	sink    diagnostics.Sink
	rec     Recorder
	newProg ProgressFactory
	workers int
}

// Option configures a Model
type Option func(*Model)

// WithCalibration overrides the sweep configuration
func WithCalibration(cfg calibration.Config) Option {
	return func(m *Model) { m.cfg = cfg }
}

// WithSink sets where calibration traces go when diagnostics are enabled
func WithSink(s diagnostics.Sink) Option {
	return func(m *Model) { m.sink = s }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(m *Model) { m.rec = r }
}

// WithProgress sets the progress reporter used by Fit
func WithProgress(f ProgressFactory) Option {
	return func(m *Model) { m.newProg = f }
}

// WithWorkers bounds how many segments calibrate concurrently; n <= 0 uses
// GOMAXPROCS
func WithWorkers(n int) Option {
	return func(m *Model) {
		if n <= 0 {
			n = runtime.GOMAXPROCS(0)
		}
		m.workers = n
	}
}

// WithDefaultThreshold sets the threshold for segments the fit never sees
func WithDefaultThreshold(th float64) Option {
	return func(m *Model) { m.store = thresholds.New(th) }
}

// New creates an unfitted model whose store holds the default threshold for
// every recognized segment
func New(oracle *accounts.Oracle, opts ...Option) *Model {
	m := &Model{
		store:   thresholds.New(thresholds.DefaultThreshold),
		oracle:  oracle,
		cfg:     calibration.DefaultConfig(),
		sink:    diagnostics.NopSink{},
		workers: 1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FromStore wraps a restored store; the model counts as fitted
func FromStore(store *thresholds.Store, meta thresholds.Meta, oracle *accounts.Oracle, opts ...Option) *Model {
	m := New(oracle, opts...)
	m.store = store
	m.runID = meta.RunID
	m.loaded = meta
	m.fitted = true
	if m.rec != nil {
		m.rec.SetFitted(true)
	}
	return m
}

// Meta describes where a restored model came from; its RunID tracks the
// latest fit
func (m *Model) Meta() thresholds.Meta {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := m.loaded
	meta.RunID = m.runID
	return meta
}

// Store exposes the threshold store
func (m *Model) Store() *thresholds.Store { return m.store }

// Oracle exposes the account status oracle
func (m *Model) Oracle() *accounts.Oracle { return m.oracle }

// Fitted reports whether Fit completed or the model was restored
func (m *Model) Fitted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fitted
}

// RunID identifies the fit that produced the thresholds
func (m *Model) RunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runID
}

// FitOptions controls a single fit
type FitOptions struct {
	Diagnostics bool
}

// SegmentResult is the calibration outcome for one segment
type SegmentResult struct {
	Segment features.Segment
	Rows    int
	Elapsed time.Duration
	calibration.Result
}

// MaxFlagged is the size of the largest flagged set in the sweep
func (r SegmentResult) MaxFlagged() int {
	n := 0
	for _, c := range r.Trace {
		if c.Flagged > n {
			n = c.Flagged
		}
	}
	return n
}

// FitSummary describes a completed fit
type FitSummary struct {
	RunID     string
	StartedAt time.Time
	Elapsed   time.Duration
	Rows      int // rows with a recognized time control
	Dropped   int // rows dropped for an unrecognized time control
	Segments  []SegmentResult
	Skipped   bool // the model was already fitted
}

// Fit calibrates every segment present in rows. Calling Fit on a fitted model
// logs a warning and changes nothing, and a failed fit leaves the store as it was.
func (m *Model) Fit(ctx context.Context, rows []features.Row, opts FitOptions) (FitSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fitted {
		log.Warn().Str("run_id", m.runID).Msg("model already fitted, skipping fit")
		return FitSummary{RunID: m.runID, Skipped: true}, nil
	}

	summary := FitSummary{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}

	if err := features.Validate(rows); err != nil {
		return summary, fmt.Errorf("invalid training rows: %w", err)
	}
	recognized := features.FilterRecognized(rows)
	summary.Rows = len(recognized)
	summary.Dropped = len(rows) - len(recognized)

	groups, segments := features.GroupBySegment(recognized)
	for _, seg := range segments {
		if _, err := m.store.Threshold(seg); err != nil {
			return summary, fmt.Errorf("segment %s: %w", seg, err)
		}
	}

	log.Info().
		Str("run_id", summary.RunID).
		Int("rows", summary.Rows).
		Int("dropped", summary.Dropped).
		Int("segments", len(segments)).
		Int("workers", m.workers).
		Msg("fitting thresholds")

	calibrator, err := calibration.New(m.oracle, m.cfg)
	if err != nil {
		return summary, err
	}

	var prog Progress
	if m.newProg != nil {
		prog = m.newProg(len(segments))
	}

	results := make([]SegmentResult, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			res, err := m.fitSegment(gctx, calibrator, seg, groups[seg], opts)
			if err != nil {
				return err
			}
			results[i] = res
			if prog != nil {
				prog.Increment(seg.String())
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if prog != nil {
			prog.Fail(err.Error())
		}
		return summary, err
	}
	if prog != nil {
		prog.Finish()
	}

	// the store only changes once every segment has calibrated
	for _, res := range results {
		m.store.Set(res.Segment, res.Threshold, res.Metric)
		if m.rec != nil {
			m.rec.RecordSegment(string(res.Segment.TimeControl), res.Threshold, res.Improved, res.Elapsed)
		}
	}

	summary.Segments = results
	summary.Elapsed = time.Since(summary.StartedAt)

	m.fitted = true
	m.runID = summary.RunID
	if m.rec != nil {
		m.rec.SetFitted(true)
	}

	log.Info().
		Str("run_id", summary.RunID).
		Int("segments", len(results)).
		Dur("elapsed", summary.Elapsed).
		Msg("model fitted")
	return summary, nil
}

func (m *Model) fitSegment(ctx context.Context, c *calibration.Calibrator, seg features.Segment, rows []features.Row, opts FitOptions) (SegmentResult, error) {
	start := m.store.DefaultThreshold()
	began := time.Now()

	res, err := c.Calibrate(ctx, rows, start)
	if err != nil {
		return SegmentResult{}, fmt.Errorf("calibrate %s: %w", seg, err)
	}
	elapsed := time.Since(began)

	if m.rec != nil {
		m.rec.RecordCandidates(string(seg.TimeControl), len(res.Trace))
	}

	log.Debug().
		Str("segment", seg.String()).
		Int("rows", len(rows)).
		Int("candidates", len(res.Trace)).
		Float64("threshold", res.Threshold).
		Float64("metric", res.Metric).
		Msg("segment calibrated")

	if opts.Diagnostics {
		if err := m.sink.Record(ctx, seg, res.Trace, res.Threshold); err != nil {
			log.Warn().Err(err).Str("segment", seg.String()).Msg("failed to write diagnostics")
		}
	}

	return SegmentResult{Segment: seg, Rows: len(rows), Elapsed: elapsed, Result: res}, nil
}

// Prediction is a feature row labelled by the model
type Prediction struct {
	features.Row
	Threshold     float64
	IsAnomaly     bool
	AccountStatus accounts.Status
	HasStatus     bool // a known status was observed during fitting
}

// Predict labels each row with a recognized time control as anomalous when
// its mean perf diff exceeds its segment threshold. Output preserves input
// order. Account statuses come from the oracle cache only.
func (m *Model) Predict(ctx context.Context, rows []features.Row) ([]Prediction, error) {
	if !m.Fitted() {
		log.Warn().Msg("model has not been fitted, predicting with default thresholds")
	}

	if err := features.Validate(rows); err != nil {
		return nil, fmt.Errorf("invalid rows: %w", err)
	}

	recognized := features.FilterRecognized(rows)
	out := make([]Prediction, 0, len(recognized))

	for _, r := range recognized {
		seg := r.Segment()
		th, err := m.store.Threshold(seg)
		if err != nil {
			return nil, fmt.Errorf("predict %s for %s: %w", seg, r.Player, err)
		}

		status, ok, err := m.oracle.Cached(ctx, r.Player)
		if err != nil {
			return nil, fmt.Errorf("account status for %s: %w", r.Player, err)
		}

		p := Prediction{
			Row:           r,
			Threshold:     th,
			IsAnomaly:     r.MeanPerfDiff > th,
			AccountStatus: status,
			HasStatus:     ok && status.Known(),
		}
		if m.rec != nil {
			m.rec.RecordPrediction(string(seg.TimeControl), p.IsAnomaly)
		}
		out = append(out, p)
	}

	if dropped := len(rows) - len(recognized); dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("rows with unrecognized time control skipped")
	}
	return out, nil
}

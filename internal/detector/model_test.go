package detector

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perfguard/internal/accounts"
	"github.com/sawpanic/perfguard/internal/diagnostics"
	"github.com/sawpanic/perfguard/internal/features"
	"github.com/sawpanic/perfguard/internal/features/featuretest"
	"github.com/sawpanic/perfguard/internal/thresholds"
)

var (
	blitz1500  = features.Segment{TimeControl: features.Blitz, Bin: 1500}
	bullet1600 = features.Segment{TimeControl: features.Bullet, Bin: 1600}
)

func newOracle(t *testing.T, statuses map[string]string) *accounts.Oracle {
	t.Helper()
	table := make(accounts.StaticLookup)
	for player, label := range statuses {
		status, err := accounts.ParseStatus(label)
		require.NoError(t, err)
		table[player] = status
	}
	return accounts.NewOracle(table)
}

func threshold(t *testing.T, m *Model, seg features.Segment) float64 {
	t.Helper()
	th, err := m.Store().Threshold(seg)
	require.NoError(t, err)
	return th
}

type fakeRecorder struct {
	mu          sync.Mutex
	candidates  int
	segments    int
	predictions map[bool]int
	fitted      bool
}

func (f *fakeRecorder) RecordCandidates(_ string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates += n
}

func (f *fakeRecorder) RecordSegment(string, float64, bool, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments++
}

func (f *fakeRecorder) RecordPrediction(_ string, anomaly bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.predictions == nil {
		f.predictions = make(map[bool]int)
	}
	f.predictions[anomaly]++
}

func (f *fakeRecorder) SetFitted(fitted bool) { f.fitted = fitted }

func TestFitCalibratesPresentSegments(t *testing.T) {
	rec := &fakeRecorder{}
	m := New(newOracle(t, featuretest.TrainStatuses()), WithRecorder(rec))

	summary, err := m.Fit(context.Background(), featuretest.TrainRows(), FitOptions{})
	require.NoError(t, err)

	assert.True(t, m.Fitted())
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, summary.RunID, m.RunID())
	assert.False(t, summary.Skipped)
	assert.Equal(t, 12, summary.Rows)

	assert.Equal(t, 0.16, threshold(t, m, blitz1500))
	assert.Equal(t, 0.17, threshold(t, m, bullet1600))

	// segments absent from the training data keep the default
	assert.Equal(t, 0.15, threshold(t, m, features.Segment{TimeControl: features.Blitz, Bin: 1600}))
	assert.Equal(t, 0.15, threshold(t, m, features.Segment{TimeControl: features.Rapid, Bin: 1500}))
	assert.ElementsMatch(t, []features.Segment{blitz1500, bullet1600}, m.Store().Calibrated())

	require.Len(t, summary.Segments, 2)
	assert.Equal(t, blitz1500, summary.Segments[0].Segment)
	assert.Equal(t, bullet1600, summary.Segments[1].Segment)
	assert.Equal(t, 6, summary.Segments[0].Rows)
	assert.Equal(t, 6, summary.Segments[0].MaxFlagged())

	assert.True(t, rec.fitted)
	assert.Equal(t, 2, rec.segments)
	assert.Equal(t, len(summary.Segments[0].Trace)+len(summary.Segments[1].Trace), rec.candidates)
}

func TestFitTwiceIsNoop(t *testing.T) {
	m := New(newOracle(t, featuretest.TrainStatuses()))

	first, err := m.Fit(context.Background(), featuretest.TrainRows(), FitOptions{})
	require.NoError(t, err)
	before := m.Store().Entries()

	second, err := m.Fit(context.Background(), featuretest.TestRows(), FitOptions{})
	require.NoError(t, err)

	assert.True(t, second.Skipped)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, before, m.Store().Entries())
}

func TestFitParallelMatchesSequential(t *testing.T) {
	rows := append(featuretest.TrainRows(),
		featuretest.Rows(featuretest.Players(1, 3), features.Rapid, 1500, []float64{0.3, 0.2, 0.1})...)

	sequential := New(newOracle(t, featuretest.TrainStatuses()))
	_, err := sequential.Fit(context.Background(), rows, FitOptions{})
	require.NoError(t, err)

	parallel := New(newOracle(t, featuretest.TrainStatuses()), WithWorkers(4))
	_, err = parallel.Fit(context.Background(), rows, FitOptions{})
	require.NoError(t, err)

	assert.Equal(t, sequential.Store().Entries(), parallel.Store().Entries())
}

func TestFitDropsUnrecognizedTimeControls(t *testing.T) {
	rows := append(featuretest.TrainRows(),
		featuretest.Rows([]string{"corr"}, "correspondence", 1500, []float64{0.9})...)

	m := New(newOracle(t, featuretest.TrainStatuses()))
	summary, err := m.Fit(context.Background(), rows, FitOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Dropped)
	assert.Len(t, summary.Segments, 2)
}

func TestFitRejectsNonFinite(t *testing.T) {
	rows := featuretest.TrainRows()
	rows[3].MeanPerfDiff = math.Inf(1)

	m := New(newOracle(t, featuretest.TrainStatuses()))
	_, err := m.Fit(context.Background(), rows, FitOptions{})
	assert.ErrorIs(t, err, features.ErrNonFinite)
	assert.False(t, m.Fitted())
}

func TestFitLookupErrorLeavesModelUnfitted(t *testing.T) {
	boom := errors.New("account service down")
	oracle := accounts.NewOracle(accounts.LookupFunc(func(context.Context, string) (accounts.Status, error) {
		return accounts.StatusUnknown, boom
	}))

	m := New(oracle, WithWorkers(2))
	_, err := m.Fit(context.Background(), featuretest.TrainRows(), FitOptions{})
	assert.ErrorIs(t, err, boom)
	assert.False(t, m.Fitted())
}

func TestFitFailureLeavesStoreUntouched(t *testing.T) {
	boom := errors.New("account service down")
	statuses := featuretest.TrainStatuses()
	oracle := accounts.NewOracle(accounts.LookupFunc(func(_ context.Context, player string) (accounts.Status, error) {
		label, ok := statuses[player]
		if !ok {
			return accounts.StatusUnknown, boom
		}
		return accounts.ParseStatus(label)
	}))

	rows := featuretest.Rows(featuretest.Players(1, 6), features.Blitz, 1500, []float64{0.155, 0.16, 0.17, 0.18, 0.19, 0.25})
	rows = append(rows, featuretest.Rows([]string{"unreachable"}, features.Bullet, 1600, []float64{0.3})...)

	m := New(oracle, WithWorkers(1))
	_, err := m.Fit(context.Background(), rows, FitOptions{})
	require.ErrorIs(t, err, boom)

	assert.False(t, m.Fitted())
	assert.Empty(t, m.Store().Calibrated())
	assert.Equal(t, 0.15, threshold(t, m, blitz1500))
}

func TestFitOutOfRangeBin(t *testing.T) {
	rows := featuretest.Rows([]string{"gm"}, features.Blitz, 4000, []float64{0.3})

	m := New(newOracle(t, nil))
	_, err := m.Fit(context.Background(), rows, FitOptions{})
	assert.ErrorIs(t, err, thresholds.ErrSegmentNotFound)
}

func TestFitWritesDiagnosticsOnlyWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	sink := diagnostics.JSONSink{Dir: dir, Base: "model"}

	m := New(newOracle(t, featuretest.TrainStatuses()), WithSink(sink))
	_, err := m.Fit(context.Background(), featuretest.TrainRows(), FitOptions{Diagnostics: false})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	m = New(newOracle(t, featuretest.TrainStatuses()), WithSink(sink))
	_, err = m.Fit(context.Background(), featuretest.TrainRows(), FitOptions{Diagnostics: true})
	require.NoError(t, err)

	for _, name := range []string{"model_blitz_1500-1600.json", "model_bullet_1600-1700.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

type countingProgress struct {
	mu       sync.Mutex
	total    int
	done     int
	finished bool
}

func (p *countingProgress) Increment(string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
}
func (p *countingProgress) Finish()     { p.finished = true }
func (p *countingProgress) Fail(string) {}

func TestFitReportsProgress(t *testing.T) {
	prog := &countingProgress{}
	m := New(newOracle(t, featuretest.TrainStatuses()), WithProgress(func(total int) Progress {
		prog.total = total
		return prog
	}))

	_, err := m.Fit(context.Background(), featuretest.TrainRows(), FitOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, prog.total)
	assert.Equal(t, 2, prog.done)
	assert.True(t, prog.finished)
}

func fittedOnTestRows(t *testing.T, opts ...Option) *Model {
	t.Helper()
	m := New(newOracle(t, featuretest.TestStatuses()), opts...)
	_, err := m.Fit(context.Background(), featuretest.TestRows(), FitOptions{})
	require.NoError(t, err)
	return m
}

func TestPredictFlagsAnomalies(t *testing.T) {
	m := fittedOnTestRows(t)
	assert.Equal(t, 0.15, threshold(t, m, blitz1500))
	assert.Equal(t, 0.16, threshold(t, m, bullet1600))

	preds, err := m.Predict(context.Background(), featuretest.TestRows())
	require.NoError(t, err)
	require.Len(t, preds, 12)

	want := []bool{false, false, false, true, true, true}
	var got []bool
	for _, p := range preds {
		got = append(got, p.IsAnomaly)
	}
	assert.Equal(t, append(want, want...), got)

	// order is preserved
	for i, r := range featuretest.TestRows() {
		assert.Equal(t, r.Player, preds[i].Player)
		assert.Equal(t, r.TimeControl, preds[i].TimeControl)
	}
}

func TestPredictReportsStatusesSeenDuringFit(t *testing.T) {
	m := fittedOnTestRows(t)

	preds, err := m.Predict(context.Background(), featuretest.TestRows())
	require.NoError(t, err)

	byPlayer := make(map[string]Prediction)
	for _, p := range preds[6:] {
		byPlayer[p.Player] = p
	}

	// players 7 and 8 never exceeded a candidate threshold, so they were never looked up
	assert.False(t, byPlayer["test_player7"].HasStatus)
	assert.False(t, byPlayer["test_player8"].HasStatus)
	assert.Equal(t, accounts.StatusOpen, byPlayer["test_player9"].AccountStatus)
	assert.Equal(t, accounts.StatusClosed, byPlayer["test_player10"].AccountStatus)
	assert.Equal(t, accounts.StatusTOSViolation, byPlayer["test_player11"].AccountStatus)
	assert.Equal(t, accounts.StatusTOSViolation, byPlayer["test_player12"].AccountStatus)
}

func TestPredictUnknownAccountHasNoStatus(t *testing.T) {
	statuses := featuretest.TrainStatuses()
	delete(statuses, "test_player6")

	m := New(newOracle(t, statuses))
	_, err := m.Fit(context.Background(), featuretest.TrainRows(), FitOptions{})
	require.NoError(t, err)

	preds, err := m.Predict(context.Background(), featuretest.TrainRows())
	require.NoError(t, err)

	// test_player6 was looked up during fit and the account service did not know it
	ghost := preds[5]
	require.Equal(t, "test_player6", ghost.Player)
	assert.True(t, ghost.IsAnomaly)
	assert.False(t, ghost.HasStatus)
	assert.True(t, preds[2].HasStatus)

	var buf bytes.Buffer
	require.NoError(t, WritePredictionsCSV(&buf, nil, preds))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)

	row := records[6]
	assert.Equal(t, "test_player6", row[0])
	assert.Equal(t, "true", row[len(row)-2])
	assert.Equal(t, "", row[len(row)-1])
}

func TestPredictIsIdempotent(t *testing.T) {
	m := fittedOnTestRows(t)

	first, err := m.Predict(context.Background(), featuretest.TestRows())
	require.NoError(t, err)
	second, err := m.Predict(context.Background(), featuretest.TestRows())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPredictUnfittedUsesDefault(t *testing.T) {
	m := New(newOracle(t, nil))

	preds, err := m.Predict(context.Background(), featuretest.TestRows())
	require.NoError(t, err)
	for _, p := range preds {
		assert.Equal(t, 0.15, p.Threshold)
		assert.Equal(t, p.MeanPerfDiff > 0.15, p.IsAnomaly)
		assert.False(t, p.HasStatus)
	}
}

func TestPredictSkipsUnrecognizedTimeControls(t *testing.T) {
	m := fittedOnTestRows(t)

	rows := append(featuretest.Rows([]string{"corr"}, "correspondence", 1500, []float64{0.9}), featuretest.TestRows()...)
	preds, err := m.Predict(context.Background(), rows)
	require.NoError(t, err)
	assert.Len(t, preds, 12)
	assert.Equal(t, "test_player7", preds[0].Player)
}

func TestPredictOutOfRangeBin(t *testing.T) {
	m := fittedOnTestRows(t)

	rows := featuretest.Rows([]string{"gm"}, features.Blitz, 4000, []float64{0.3})
	_, err := m.Predict(context.Background(), rows)
	assert.ErrorIs(t, err, thresholds.ErrSegmentNotFound)
}

func TestPredictRecordsMetrics(t *testing.T) {
	rec := &fakeRecorder{}
	m := fittedOnTestRows(t, WithRecorder(rec))

	_, err := m.Predict(context.Background(), featuretest.TestRows())
	require.NoError(t, err)
	assert.Equal(t, 6, rec.predictions[true])
	assert.Equal(t, 6, rec.predictions[false])
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := fittedOnTestRows(t)

	path, err := m.Save(dir, "player_anomaly_detection_model")
	require.NoError(t, err)

	loaded, err := Load(path, newOracle(t, nil))
	require.NoError(t, err)
	assert.True(t, loaded.Fitted())
	assert.Equal(t, m.RunID(), loaded.RunID())
	assert.Equal(t, m.Store().Entries(), loaded.Store().Entries())

	// a loaded model refuses to refit
	summary, err := loaded.Fit(context.Background(), featuretest.TrainRows(), FitOptions{})
	require.NoError(t, err)
	assert.True(t, summary.Skipped)

	preds, err := loaded.Predict(context.Background(), featuretest.TestRows())
	require.NoError(t, err)
	assert.Len(t, Anomalies(preds), 6)
}

func TestSaveRenamesOnCollision(t *testing.T) {
	dir := t.TempDir()
	m := fittedOnTestRows(t)

	first, err := m.Save(dir, "model")
	require.NoError(t, err)
	second, err := m.Save(dir, "model")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "model.json"), first)
	assert.Equal(t, filepath.Join(dir, "model_.json"), second)
}

// memoryRepo mimics the Postgres repository: names are never reused
type memoryRepo struct {
	models map[string]*thresholds.Store
	metas  map[string]thresholds.Meta
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{models: make(map[string]*thresholds.Store), metas: make(map[string]thresholds.Meta)}
}

func (r *memoryRepo) SaveStore(_ context.Context, meta thresholds.Meta, store *thresholds.Store) (string, error) {
	name := meta.Name
	for r.models[name] != nil {
		name += "_"
	}
	meta.Name = name
	r.models[name] = store
	r.metas[name] = meta
	return name, nil
}

func (r *memoryRepo) LoadStore(_ context.Context, name string) (*thresholds.Store, thresholds.Meta, error) {
	store, ok := r.models[name]
	if !ok {
		return nil, thresholds.Meta{}, errors.New("model not found")
	}
	return store, r.metas[name], nil
}

func TestSaveToLoadFrom(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	m := fittedOnTestRows(t)

	name, err := m.SaveTo(ctx, repo, "weekly")
	require.NoError(t, err)
	assert.Equal(t, "weekly", name)

	name, err = m.SaveTo(ctx, repo, "weekly")
	require.NoError(t, err)
	assert.Equal(t, "weekly_", name)

	loaded, err := LoadFrom(ctx, repo, "weekly", newOracle(t, nil))
	require.NoError(t, err)
	assert.True(t, loaded.Fitted())
	assert.Equal(t, "weekly", loaded.Meta().Name)
	assert.Equal(t, m.RunID(), loaded.Meta().RunID)
	assert.Equal(t, threshold(t, m, blitz1500), threshold(t, loaded, blitz1500))

	_, err = LoadFrom(ctx, repo, "missing", newOracle(t, nil))
	assert.ErrorContains(t, err, "failed to load model missing")
}

func TestLoadNamed(t *testing.T) {
	dir := t.TempDir()
	m := fittedOnTestRows(t)
	_, err := m.Save(dir, "weekly")
	require.NoError(t, err)

	loaded, err := LoadNamed(dir, "weekly", newOracle(t, nil))
	require.NoError(t, err)
	assert.Equal(t, "weekly", loaded.Meta().Name)
	assert.Equal(t, m.Store().Entries(), loaded.Store().Entries())

	_, err = LoadNamed(dir, "monthly", newOracle(t, nil))
	assert.Error(t, err)
}

func TestWritePredictionsCSV(t *testing.T) {
	m := fittedOnTestRows(t)
	preds, err := m.Predict(context.Background(), featuretest.TestRows())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WritePredictionsCSV(&buf, nil, preds))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 13)

	header := records[0]
	assert.Equal(t, append(append([]string{}, features.DefaultColumns...), ColIsAnomaly, ColAccountStatus), header)

	last := records[12]
	assert.Equal(t, "test_player12", last[0])
	assert.Equal(t, "true", last[len(last)-2])
	assert.Equal(t, "tosViolation", last[len(last)-1])

	first := records[1]
	assert.Equal(t, "false", first[len(first)-2])
	assert.Equal(t, "", first[len(first)-1])
}

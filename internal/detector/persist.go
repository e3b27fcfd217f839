package detector

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/perfguard/internal/accounts"
	"github.com/sawpanic/perfguard/internal/features"
	"github.com/sawpanic/perfguard/internal/thresholds"
)

// Columns appended to the feature table by WritePredictionsCSV
const (
	ColIsAnomaly     = "is_anomaly"
	ColAccountStatus = "account_status"
)

func (m *Model) newMeta(name string) thresholds.Meta {
	return thresholds.Meta{Name: name, RunID: m.RunID(), CreatedAt: time.Now().UTC()}
}

// Save writes the fitted thresholds to <dir>/<name>.json, renaming on
// collision, and returns the path written
func (m *Model) Save(dir, name string) (string, error) {
	if !m.Fitted() {
		log.Warn().Str("model", name).Msg("saving a model that has not been fitted")
	}
	path, err := thresholds.Save(m.store, dir, m.newMeta(name))
	if err != nil {
		return "", err
	}
	log.Info().Str("path", path).Int("segments", m.store.Len()).Msg("model saved")
	return path, nil
}

// SaveTo persists the thresholds through repo and returns the name stored,
// which carries "_" suffixes when name was already taken
func (m *Model) SaveTo(ctx context.Context, repo thresholds.Repository, name string) (string, error) {
	stored, err := repo.SaveStore(ctx, m.newMeta(name), m.store)
	if err != nil {
		return "", fmt.Errorf("failed to save model %s: %w", name, err)
	}
	if stored != name {
		log.Warn().Str("requested", name).Str("stored", stored).Msg("model name taken, stored under a new name")
	}
	return stored, nil
}

// Load restores a model saved with Save
func Load(path string, oracle *accounts.Oracle, opts ...Option) (*Model, error) {
	store, meta, err := thresholds.Load(path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Str("run_id", meta.RunID).Int("segments", store.Len()).Msg("model loaded")
	return FromStore(store, meta, oracle, opts...), nil
}

// LoadNamed restores the model saved as <dir>/<name>.json
func LoadNamed(dir, name string, oracle *accounts.Oracle, opts ...Option) (*Model, error) {
	return Load(filepath.Join(dir, name+thresholds.FileExt), oracle, opts...)
}

// LoadFrom restores a model persisted through repo
func LoadFrom(ctx context.Context, repo thresholds.Repository, name string, oracle *accounts.Oracle, opts ...Option) (*Model, error) {
	store, meta, err := repo.LoadStore(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", name, err)
	}
	return FromStore(store, meta, oracle, opts...), nil
}

// WritePredictionsCSV writes every original column of the predicted rows plus
// is_anomaly and account_status. header is the source table header; nil
// renders the default columns. Players never resolved get an empty status.
func WritePredictionsCSV(w io.Writer, header []string, preds []Prediction) error {
	rows := make([]features.Row, len(preds))
	for i, p := range preds {
		rows[i] = p.Row
	}
	return features.WriteAnnotatedCSV(w, header, rows, []string{ColIsAnomaly, ColAccountStatus}, func(i int) []string {
		status := ""
		if preds[i].HasStatus {
			status = preds[i].AccountStatus.String()
		}
		return []string{strconv.FormatBool(preds[i].IsAnomaly), status}
	})
}

// Anomalies keeps only flagged predictions
func Anomalies(preds []Prediction) []Prediction {
	var out []Prediction
	for _, p := range preds {
		if p.IsAnomaly {
			out = append(out, p)
		}
	}
	return out
}

package thresholds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sawpanic/perfguard/internal/features"
	atomicio "github.com/sawpanic/perfguard/internal/io"
)

// FileExt is the extension of saved model files
const FileExt = ".json"

// Meta describes a persisted store
type Meta struct {
	Name      string    `json:"name"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists stores outside the local models folder
type Repository interface {
	// SaveStore never replaces an existing model; it returns the name used
	SaveStore(ctx context.Context, meta Meta, store *Store) (string, error)
	LoadStore(ctx context.Context, name string) (*Store, Meta, error)
}

// modelFile is the on-disk layout: time control -> rating bin label -> value
type modelFile struct {
	Meta
	DefaultThreshold float64                       `json:"default_threshold"`
	Thresholds       map[string]map[string]float64 `json:"thresholds"`
	Metrics          map[string]map[string]float64 `json:"metrics,omitempty"`
}

// Save writes the store under dir as <name>.json. If that file already exists
// the name gets "_" suffixes until it is free. Returns the path written.
func Save(store *Store, dir string, meta Meta) (string, error) {
	if meta.Name == "" {
		return "", fmt.Errorf("model name is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create models folder: %w", err)
	}

	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	path, err := atomicio.WriteNewJSONAtomic(dir, meta.Name, FileExt, encode(store, meta))
	if err != nil {
		return "", fmt.Errorf("failed to write model %s: %w", meta.Name, err)
	}
	return path, nil
}

// Load restores a store written by Save
func Load(path string) (*Store, Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("failed to read model: %w", err)
	}

	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, Meta{}, fmt.Errorf("failed to parse model %s: %w", path, err)
	}

	store, err := decode(mf)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("model %s: %w", path, err)
	}
	return store, mf.Meta, nil
}

// LoadNamed resolves <dir>/<name>.json and loads it
func LoadNamed(dir, name string) (*Store, Meta, error) {
	return Load(filepath.Join(dir, name+FileExt))
}

func encode(store *Store, meta Meta) modelFile {
	mf := modelFile{
		Meta:             meta,
		DefaultThreshold: store.DefaultThreshold(),
		Thresholds:       make(map[string]map[string]float64),
	}

	for seg, e := range store.Entries() {
		tc := string(seg.TimeControl)
		if mf.Thresholds[tc] == nil {
			mf.Thresholds[tc] = make(map[string]float64)
		}
		mf.Thresholds[tc][seg.Label()] = e.Threshold

		if e.Metric == nil {
			continue
		}
		if mf.Metrics == nil {
			mf.Metrics = make(map[string]map[string]float64)
		}
		if mf.Metrics[tc] == nil {
			mf.Metrics[tc] = make(map[string]float64)
		}
		mf.Metrics[tc][seg.Label()] = *e.Metric
	}

	return mf
}

func decode(mf modelFile) (*Store, error) {
	store := NewEmpty(mf.DefaultThreshold)

	for tc, bins := range mf.Thresholds {
		for label, threshold := range bins {
			bin, err := features.ParseLabel(label)
			if err != nil {
				return nil, err
			}

			e := Entry{Threshold: threshold}
			if metric, ok := mf.Metrics[tc][label]; ok {
				e.Metric = &metric
			}
			store.Restore(features.Segment{TimeControl: features.TimeControl(tc), Bin: bin}, e)
		}
	}

	return store, nil
}

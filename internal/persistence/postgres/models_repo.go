package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/perfguard/internal/features"
	"github.com/sawpanic/perfguard/internal/persistence"
	"github.com/sawpanic/perfguard/internal/thresholds"
)

// Schema creates the tables used by the models repository
const Schema = `
CREATE TABLE IF NOT EXISTS perfguard_models (
	name              TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL DEFAULT '',
	default_threshold DOUBLE PRECISION NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS perfguard_thresholds (
	model_name   TEXT NOT NULL REFERENCES perfguard_models(name) ON DELETE CASCADE,
	time_control TEXT NOT NULL,
	rating_bin   INTEGER NOT NULL,
	threshold    DOUBLE PRECISION NOT NULL,
	metric       DOUBLE PRECISION,
	PRIMARY KEY (model_name, time_control, rating_bin)
);`

// modelsRepo implements persistence.ModelsRepo for PostgreSQL
type modelsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewModelsRepo creates a new PostgreSQL models repository
func NewModelsRepo(db *sqlx.DB, timeout time.Duration) persistence.ModelsRepo {
	return &modelsRepo{
		db:      db,
		timeout: timeout,
	}
}

// maxNameSuffixes bounds how many "_" suffixes SaveStore tries
const maxNameSuffixes = 1000

// SaveStore stores a new model and returns the name it was stored under. An
// existing model is never replaced: while meta.Name is taken, "_" is appended.
func (r *modelsRepo) SaveStore(ctx context.Context, meta thresholds.Meta, store *thresholds.Store) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if meta.Name == "" {
		return "", fmt.Errorf("model name is required")
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	name, err := claimName(ctx, tx, meta, store.DefaultThreshold())
	if err != nil {
		return "", err
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO perfguard_thresholds (model_name, time_control, rating_bin, threshold, metric)
		VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare threshold insert: %w", err)
	}
	defer stmt.Close()

	entries := store.Entries()
	for _, seg := range store.Segments() {
		e := entries[seg]
		if _, err := stmt.ExecContext(ctx, name, string(seg.TimeControl), seg.Bin, e.Threshold, e.Metric); err != nil {
			return "", fmt.Errorf("failed to insert threshold %s: %w", seg, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit model: %w", err)
	}
	return name, nil
}

// claimName inserts the model row under the first free name
func claimName(ctx context.Context, tx *sqlx.Tx, meta thresholds.Meta, defaultThreshold float64) (string, error) {
	name := meta.Name
	for i := 0; i < maxNameSuffixes; i++ {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO perfguard_models (name, run_id, default_threshold, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO NOTHING`,
			name, meta.RunID, defaultThreshold, meta.CreatedAt)
		if err != nil {
			return "", fmt.Errorf("failed to insert model: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return "", fmt.Errorf("failed to insert model: %w", err)
		}
		if n == 1 {
			return name, nil
		}
		name += "_"
	}
	return "", fmt.Errorf("no free model name for %q", meta.Name)
}

// LoadStore restores the model stored under name
func (r *modelsRepo) LoadStore(ctx context.Context, name string) (*thresholds.Store, thresholds.Meta, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var model persistence.ModelRecord
	err := r.db.GetContext(ctx, &model, `
		SELECT name, run_id, default_threshold, created_at
		FROM perfguard_models
		WHERE name = $1`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, thresholds.Meta{}, fmt.Errorf("%w: %s", persistence.ErrModelNotFound, name)
		}
		return nil, thresholds.Meta{}, fmt.Errorf("failed to get model: %w", err)
	}

	var rows []persistence.ThresholdRecord
	err = r.db.SelectContext(ctx, &rows, `
		SELECT model_name, time_control, rating_bin, threshold, metric
		FROM perfguard_thresholds
		WHERE model_name = $1
		ORDER BY time_control, rating_bin`, name)
	if err != nil {
		return nil, thresholds.Meta{}, fmt.Errorf("failed to select thresholds: %w", err)
	}

	store := thresholds.NewEmpty(model.DefaultThreshold)
	for _, row := range rows {
		seg := features.Segment{TimeControl: features.TimeControl(row.TimeControl), Bin: row.RatingBin}
		store.Restore(seg, thresholds.Entry{Threshold: row.Threshold, Metric: row.Metric})
	}

	meta := thresholds.Meta{Name: model.Name, RunID: model.RunID, CreatedAt: model.CreatedAt}
	return store, meta, nil
}

// List returns stored models, newest first
func (r *modelsRepo) List(ctx context.Context) ([]persistence.ModelSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var models []persistence.ModelSummary
	err := r.db.SelectContext(ctx, &models, `
		SELECT m.name, m.run_id, m.default_threshold, m.created_at, COUNT(t.rating_bin) AS segments
		FROM perfguard_models m
		LEFT JOIN perfguard_thresholds t ON t.model_name = m.name
		GROUP BY m.name, m.run_id, m.default_threshold, m.created_at
		ORDER BY m.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return models, nil
}

// Delete removes a model; thresholds cascade
func (r *modelsRepo) Delete(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM perfguard_models WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrModelNotFound, name)
	}
	return nil
}

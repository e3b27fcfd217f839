package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/perfguard/internal/thresholds"
)

// ErrModelNotFound is returned when no model is stored under a name
var ErrModelNotFound = errors.New("model not found")

// ModelRecord is the header row of a persisted model
type ModelRecord struct {
	Name             string    `json:"name" db:"name"`
	RunID            string    `json:"run_id" db:"run_id"`
	DefaultThreshold float64   `json:"default_threshold" db:"default_threshold"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// ThresholdRecord is one calibrated segment of a persisted model
type ThresholdRecord struct {
	ModelName   string   `json:"model_name" db:"model_name"`
	TimeControl string   `json:"time_control" db:"time_control"`
	RatingBin   int      `json:"rating_bin" db:"rating_bin"`
	Threshold   float64  `json:"threshold" db:"threshold"`
	Metric      *float64 `json:"metric,omitempty" db:"metric"`
}

// ModelSummary lists a stored model with its segment count
type ModelSummary struct {
	ModelRecord
	Segments int `json:"segments" db:"segments"`
}

// ModelsRepo stores threshold models
type ModelsRepo interface {
	thresholds.Repository

	// List returns stored models, newest first
	List(ctx context.Context) ([]ModelSummary, error)

	// Delete removes a model and its thresholds
	Delete(ctx context.Context, name string) error
}

// Repository aggregates all repositories
type Repository struct {
	Models ModelsRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	Models         int            `json:"models"` // rows in perfguard_models
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error
}

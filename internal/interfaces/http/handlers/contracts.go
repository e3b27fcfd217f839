package handlers

import (
	"time"
)

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Model     ModelInfo      `json:"model"`
	Database  *DatabaseCheck `json:"database,omitempty"`
}

// ModelInfo describes the served model
type ModelInfo struct {
	Name             string    `json:"name"`
	RunID            string    `json:"run_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	Fitted           bool      `json:"fitted"`
	Segments         int       `json:"segments"`
	Calibrated       int       `json:"calibrated"`
	DefaultThreshold float64   `json:"default_threshold"`
}

// DatabaseCheck summarizes persistence health
type DatabaseCheck struct {
	Healthy        bool     `json:"healthy"`
	Errors         []string `json:"errors,omitempty"`
	Models         int      `json:"models"`
	ResponseTimeMS int64    `json:"response_time_ms"`
}

// ThresholdRecord is one segment of the served model
type ThresholdRecord struct {
	TimeControl string   `json:"time_control"`
	RatingBin   string   `json:"rating_bin"`
	Threshold   float64  `json:"threshold"`
	Metric      *float64 `json:"metric,omitempty"`
}

// ThresholdsResponse is returned by GET /thresholds
type ThresholdsResponse struct {
	Model      string            `json:"model"`
	RunID      string            `json:"run_id,omitempty"`
	Count      int               `json:"count"`
	Thresholds []ThresholdRecord `json:"thresholds"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

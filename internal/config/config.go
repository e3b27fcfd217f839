package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/perfguard/internal/accounts"
	"github.com/sawpanic/perfguard/internal/calibration"
	"github.com/sawpanic/perfguard/internal/infrastructure/db"
	httpapi "github.com/sawpanic/perfguard/internal/interfaces/http"
	"github.com/sawpanic/perfguard/internal/thresholds"
)

// DefaultPath is read when no --config flag is given and the file exists
const DefaultPath = "perfguard.yaml"

// Config represents the complete perfguard configuration
type Config struct {
	Model       ModelConfig           `yaml:"model"`
	Calibration CalibrationConfig     `yaml:"calibration"`
	Folders     FoldersConfig         `yaml:"folders"`
	Accounts    accounts.ClientConfig `yaml:"accounts"`
	Redis       accounts.RedisConfig  `yaml:"redis"`
	Database    db.Config             `yaml:"database"`
	Server      httpapi.ServerConfig  `yaml:"server"`
	Metrics     MetricsConfig         `yaml:"metrics"`
}

// ModelConfig holds model defaults
type ModelConfig struct {
	Name             string  `yaml:"name"`              // Saved model name
	DefaultThreshold float64 `yaml:"default_threshold"` // Starting threshold for every segment
	Workers          int     `yaml:"workers"`           // Segments calibrated concurrently
}

// CalibrationConfig controls the threshold sweep
type CalibrationConfig struct {
	Step          float64            `yaml:"step"`
	MaxCandidates int                `yaml:"max_candidates"`
	Scores        map[string]float64 `yaml:"scores"` // account status -> score
}

// FoldersConfig names the output folders
type FoldersConfig struct {
	SavedModels      string `yaml:"saved_models"`
	ModelPlots       string `yaml:"model_plots"`
	ExploratoryPlots string `yaml:"exploratory_plots"`
}

// MetricsConfig controls metric export
type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // node exporter textfile written after fit
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	cal := calibration.DefaultConfig()
	scores := make(map[string]float64, len(cal.Scores))
	for status, score := range cal.Scores {
		scores[string(status)] = score
	}

	return &Config{
		Model: ModelConfig{
			Name:             "player_anomaly_detection_model",
			DefaultThreshold: thresholds.DefaultThreshold,
			Workers:          1,
		},
		Calibration: CalibrationConfig{
			Step:          cal.Step,
			MaxCandidates: cal.MaxCandidates,
			Scores:        scores,
		},
		Folders: FoldersConfig{
			SavedModels:      "saved_models",
			ModelPlots:       "model_plots",
			ExploratoryPlots: "exploratory_plots",
		},
		Accounts: accounts.DefaultClientConfig(),
		Redis: accounts.RedisConfig{
			Prefix: "perfguard:status:",
		},
		Database: db.DefaultConfig(),
		Server:   httpapi.DefaultServerConfig(),
	}
}

// Load layers the YAML file at path over DefaultConfig, then applies
// environment overrides. An empty path loads DefaultPath when it exists.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// ApplyEnvOverrides applies REDIS_ADDR, ACCOUNT_API_URL, ACCOUNT_API_TOKEN and PG_*
func (c *Config) ApplyEnvOverrides() {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if url := os.Getenv("ACCOUNT_API_URL"); url != "" {
		c.Accounts.BaseURL = url
	}
	if token := os.Getenv("ACCOUNT_API_TOKEN"); token != "" {
		c.Accounts.Token = token
	}
	db.ApplyEnvOverrides(&c.Database)
}

// CalibrationSettings converts the sweep section for the calibrator
func (c *Config) CalibrationSettings() (calibration.Config, error) {
	scores := make(calibration.ScoreTable, len(c.Calibration.Scores))
	for label, score := range c.Calibration.Scores {
		status, err := accounts.ParseStatus(label)
		if err != nil {
			return calibration.Config{}, fmt.Errorf("calibration scores: %w", err)
		}
		if !status.Known() {
			return calibration.Config{}, fmt.Errorf("calibration scores: cannot score status %q", label)
		}
		scores[status] = score
	}

	cfg := calibration.Config{
		Step:          c.Calibration.Step,
		MaxCandidates: c.Calibration.MaxCandidates,
		Scores:        scores,
	}
	return cfg, cfg.Validate()
}

// Validate ensures the configuration is valid and consistent
func (c *Config) Validate() error {
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if math.IsNaN(c.Model.DefaultThreshold) || math.IsInf(c.Model.DefaultThreshold, 0) {
		return fmt.Errorf("model.default_threshold must be finite")
	}
	if c.Model.Workers < 0 {
		return fmt.Errorf("model.workers must be >= 0, got %d", c.Model.Workers)
	}

	if _, err := c.CalibrationSettings(); err != nil {
		return err
	}

	if c.Accounts.RPS <= 0 {
		return fmt.Errorf("accounts.rps must be positive")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database is enabled")
	}
	return nil
}

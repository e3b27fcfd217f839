package db

import (
	"os"
	"strconv"
	"time"
)

// Config holds the Postgres settings for model persistence
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	Enabled         bool          `yaml:"enabled"`
}

// DefaultConfig leaves persistence off until a DSN is configured
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// ApplyEnvOverrides reads PG_DSN, PG_ENABLED, PG_MAX_OPEN_CONNS,
// PG_MAX_IDLE_CONNS and PG_QUERY_TIMEOUT. Setting a DSN enables persistence
// unless PG_ENABLED says otherwise. Unparseable values are ignored.
func ApplyEnvOverrides(config *Config) {
	if dsn, ok := lookupEnv("PG_DSN"); ok {
		config.DSN = dsn
		config.Enabled = true
	}
	envParse("PG_ENABLED", strconv.ParseBool, &config.Enabled)
	envParse("PG_MAX_OPEN_CONNS", strconv.Atoi, &config.MaxOpenConns)
	envParse("PG_MAX_IDLE_CONNS", strconv.Atoi, &config.MaxIdleConns)
	envParse("PG_QUERY_TIMEOUT", time.ParseDuration, &config.QueryTimeout)
}

func lookupEnv(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func envParse[T any](key string, parse func(string) (T, error), dst *T) {
	raw, ok := lookupEnv(key)
	if !ok {
		return
	}
	if v, err := parse(raw); err == nil {
		*dst = v
	}
}

package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig holds all application-level configuration loaded from environment variables.
type AppConfig struct {
	// Port is the operator HTTP surface port (/health, /metrics). Defaults to 8080.
	Port int `envconfig:"PORT" default:"8080"`

	// DataDir is the root data directory holding tasks.json and logs.json.
	// Defaults to ./data.
	DataDir string `envconfig:"TASKRUN_DATA_DIR" default:"./data"`

	// LogLevel sets the minimum log level (debug, info, warn, error). Defaults to info.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// MaxConcurrency bounds how many distinct tasks may have chains running
	// at once across the whole scheduler. It does not affect the per-task
	// non-overlap guarantee, which always applies regardless of this setting.
	MaxConcurrency int `envconfig:"TASKRUN_MAX_CONCURRENCY" default:"10"`

	// StepTimeoutSeconds bounds a single HTTP step request. Defaults to 30.
	StepTimeoutSeconds int `envconfig:"TASKRUN_STEP_TIMEOUT_SECONDS" default:"30"`
}

// Load reads AppConfig from environment variables using envconfig.
func Load() (*AppConfig, error) {
	var c AppConfig
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &c, nil
}

// SlogLevel converts the LogLevel string to a slog.Level.
// Unknown values default to slog.LevelInfo.
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogDir returns the path to the log directory (<DataDir>/logs).
func (c *AppConfig) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

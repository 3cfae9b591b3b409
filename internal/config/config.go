// Package config resolves process-level settings from the environment,
// following the teacher's env-first, create-on-demand style for its data
// directory resolution (internal/config.Load).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config holds the process-level knobs that settings.Store and the
// history/log subsystems need before a single byte of settings.json has
// been read.
type Config struct {
	DataDir  string
	LogLevel string
	LogDir   string
}

const defaultDataDir = "/var/lib/rebalancer"

// Load reads a .env file if present (missing is not an error), then
// resolves DataDir from REBALANCER_DATA_DIR, creating it if absent.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}

	dataDir := os.Getenv("REBALANCER_DATA_DIR")
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolving data dir: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("config: failed to create data directory: %w", err)
	}

	logLevel := os.Getenv("REBALANCER_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		DataDir:  absDataDir,
		LogLevel: logLevel,
		LogDir:   filepath.Join(absDataDir, "logs"),
	}, nil
}

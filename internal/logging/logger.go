// Package logging builds the structured zerolog logger shared by every
// component, writing to stdout and to a rotating file under the data
// directory's log subdirectory. Grounded on the sibling repo's pkg/logger
// (level parsing, RFC3339 timestamps, caller annotation), extended with
// lumberjack-backed file rotation for the long-running scheduler process.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // console-friendly output instead of JSON
	LogDir     string // directory for rotating log files; empty disables file output
	MaxSizeMB  int    // rotate after this many MB, default 100
	MaxBackups int    // old files to retain, default 5
	MaxAgeDays int    // days to retain old files, default 28
}

// New builds a zerolog.Logger writing to stdout and, if LogDir is set, to
// a rotating file (rebalancer.log) under it.
func New(cfg Config) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	if cfg.Pretty {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	} else {
		writers = append(writers, os.Stdout)
	}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return zerolog.Logger{}, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, "rebalancer.log"),
			MaxSize:    nonZero(cfg.MaxSizeMB, 100),
			MaxBackups: nonZero(cfg.MaxBackups, 5),
			MaxAge:     nonZero(cfg.MaxAgeDays, 28),
			Compress:   true,
		})
	}

	return zerolog.New(io.MultiWriter(writers...)).
		With().
		Timestamp().
		Caller().
		Logger(), nil
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

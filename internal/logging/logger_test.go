package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_CreatesLogDirAndFile(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "logs")

	log, err := New(Config{Level: "info", LogDir: logDir})
	require.NoError(t, err)

	log.Info().Msg("hello")

	_, statErr := os.Stat(filepath.Join(logDir, "rebalancer.log"))
	require.NoError(t, statErr)
}

func TestNew_WithoutLogDirStillWorks(t *testing.T) {
	log, err := New(Config{Level: "debug"})
	require.NoError(t, err)
	require.NotPanics(t, func() { log.Debug().Msg("no file output") })
}

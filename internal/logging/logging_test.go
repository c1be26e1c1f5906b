package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/tmp/data")

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, filepath.Join("/tmp/data", "notesync.log"), cfg.FilePath)
	assert.Equal(t, 10, cfg.MaxSizeMB)
	assert.Equal(t, 5, cfg.MaxFiles)
	assert.True(t, cfg.WriteToStderr)
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	logger, cleanup, err := Setup(Config{
		Level:         "debug",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      3,
		WriteToStderr: false,
	})
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.Info("embed_started", slog.String("work_id", "note-1"))
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "embed_started", entry["msg"])
	assert.Equal(t, "note-1", entry["work_id"])
}

func TestSetup_NoOutputs(t *testing.T) {
	logger, cleanup, err := Setup(Config{WriteToStderr: false})
	require.NoError(t, err)
	defer cleanup()

	// Discard handler; logging must not panic.
	logger.Info("dropped")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), "level %q", tt.input)
	}
}

func TestRotatingWriter_RotatesAtSizeLimit(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "notesync.log")

	w, err := NewRotatingWriter(logPath, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	// Force the threshold low enough to trigger rotation in-test.
	w.maxSize = 64

	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 4; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	// The active file plus at least one rotated file exist.
	_, err = os.Stat(logPath)
	require.NoError(t, err)
	_, err = os.Stat(logPath + ".1")
	require.NoError(t, err)
}

func TestRotatingWriter_PrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "notesync.log")

	w, err := NewRotatingWriter(logPath, 1, 2)
	require.NoError(t, err)
	defer w.Close()
	w.maxSize = 16

	line := []byte(strings.Repeat("y", 12) + "\n")
	for i := 0; i < 10; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	matches, err := filepath.Glob(logPath + ".*")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(matches), 2)
}

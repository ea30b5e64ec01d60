package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Setup writes structured JSON to the log file
func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: a config pointing at a temp log file
	dir := t.TempDir()
	logPath := filepath.Join(dir, "raggate.log")
	cfg := Config{
		Level:         "info",
		Format:        "json",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      2,
		WriteToStderr: false,
	}

	// When: logging a message
	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Info("query completed", slog.String("org_id", "org-acme"), slog.Int("k", 10))
	cleanup()

	// Then: the file contains a parseable JSON record
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var record map[string]any
	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "query completed", record["msg"])
	assert.Equal(t, "org-acme", record["org_id"])
	assert.Equal(t, float64(10), record["k"])
}

func TestSetup_RespectsLevel(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "raggate.log")
	cfg := Config{
		Level:         "warn",
		Format:        "json",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      2,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"INFO", slog.LevelInfo},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, LevelFromString(tt.input))
		})
	}
}

func TestIsTTY_FalseForNonFileWriters(t *testing.T) {
	assert.False(t, IsTTY(nil))
	assert.False(t, IsTTY(&bytes.Buffer{}))
}

func TestRotatingWriter_RotatesAtMaxSize(t *testing.T) {
	// Given: a writer with a tiny max size
	dir := t.TempDir()
	logPath := filepath.Join(dir, "raggate.log")
	w, err := NewRotatingWriter(logPath, 1, 3)
	require.NoError(t, err)
	defer w.Close()

	// Force a small rotation threshold
	w.maxSize = 64

	// When: writing past the threshold
	for i := 0; i < 6; i++ {
		_, err := w.Write([]byte(strings.Repeat("x", 20) + "\n"))
		require.NoError(t, err)
	}

	// Then: a rotated file exists
	_, err = os.Stat(logPath + ".1")
	assert.NoError(t, err)
}

func TestRotatingWriter_DropsOldestBeyondMaxFiles(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "raggate.log")
	w, err := NewRotatingWriter(logPath, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	w.maxSize = 16

	for i := 0; i < 20; i++ {
		_, err := w.Write([]byte(strings.Repeat("y", 10) + "\n"))
		require.NoError(t, err)
	}

	matches, err := filepath.Glob(logPath + ".*")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(matches), 2)
}

func TestSecurityEvent_TagsRecord(t *testing.T) {
	// Given: a logger writing to a buffer
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	// When: emitting a security event
	SecurityEvent(logger, "cross-organization access denied",
		slog.String("user_id", "u-1"),
		slog.String("org_id", "org-acme"),
		slog.String("target_org_id", "org-globex"))

	// Then: the record carries the security marker at warn level
	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, true, record["security"])
	assert.Equal(t, "org-globex", record["target_org_id"])
}

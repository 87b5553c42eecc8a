package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeLines parses one JSON record per line
func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		log    func(l *Logger)
		check  func(t *testing.T, output *bytes.Buffer)
	}{
		{
			name:   "json debug keeps debug records",
			config: Config{Level: "debug", Format: "json"},
			log: func(l *Logger) {
				l.Debug("progress reading", slog.String("video_id", "v1"), slog.Int("percent", 37))
			},
			check: func(t *testing.T, output *bytes.Buffer) {
				entries := decodeLines(t, output)
				require.Len(t, entries, 1)
				assert.Equal(t, "DEBUG", entries[0]["level"])
				assert.Equal(t, "progress reading", entries[0]["msg"])
				assert.Equal(t, "v1", entries[0]["video_id"])
				assert.Equal(t, float64(37), entries[0]["percent"])
				assert.Contains(t, entries[0], "time")
			},
		},
		{
			name:   "json info drops debug records",
			config: Config{Level: "info", Format: "json"},
			log: func(l *Logger) {
				l.Debug("progress reading")
				l.Info("video ready", slog.String("status", "ready"))
			},
			check: func(t *testing.T, output *bytes.Buffer) {
				entries := decodeLines(t, output)
				require.Len(t, entries, 1)
				assert.Equal(t, "INFO", entries[0]["level"])
				assert.Equal(t, "ready", entries[0]["status"])
			},
		},
		{
			name:   "json error only",
			config: Config{Level: "error", Format: "json"},
			log: func(l *Logger) {
				l.Warn("slow connection")
				l.Error("failed to persist status")
			},
			check: func(t *testing.T, output *bytes.Buffer) {
				entries := decodeLines(t, output)
				require.Len(t, entries, 1)
				assert.Equal(t, "failed to persist status", entries[0]["msg"])
			},
		},
		{
			name:   "console is the default format",
			config: Config{Level: "info", TimeFormat: time.Kitchen},
			log: func(l *Logger) {
				l.Info("worker started")
			},
			check: func(t *testing.T, output *bytes.Buffer) {
				// tint abbreviates levels
				assert.Contains(t, output.String(), "INF")
				assert.Contains(t, output.String(), "worker started")
			},
		},
		{
			name:   "source location",
			config: Config{Level: "info", Format: "json", EnableSource: true},
			log: func(l *Logger) {
				l.Info("hub closed")
			},
			check: func(t *testing.T, output *bytes.Buffer) {
				entries := decodeLines(t, output)
				require.Len(t, entries, 1)
				source, ok := entries[0]["source"].(map[string]any)
				require.True(t, ok)
				assert.Contains(t, source, "file")
				assert.Contains(t, source, "line")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			cfg := tt.config
			cfg.writer = output

			logger, err := New(&cfg)
			require.NoError(t, err)
			require.NotNil(t, logger)

			tt.log(logger)
			tt.check(t, output)
			assert.NoError(t, logger.Close())
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("video ready", slog.String("video_id", "v1"))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	entries := decodeLines(t, bytes.NewBuffer(data))
	require.Len(t, entries, 1)
	assert.Equal(t, "video ready", entries[0]["msg"])
	assert.Equal(t, "v1", entries[0]["video_id"])
}

func TestNew_FileOutputUnwritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "pipeline.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.Error(t, err)
	assert.Nil(t, logger)
	assert.Contains(t, err.Error(), "failed to open log file")
}

func TestNewDiscard(t *testing.T) {
	logger := NewDiscard()
	require.NotNil(t, logger)

	logger.Error("dropped")
	assert.NoError(t, logger.Close())
}

func TestLogger_Component(t *testing.T) {
	output := &bytes.Buffer{}

	logger, err := New(&Config{Level: "info", Format: "json", writer: output})
	require.NoError(t, err)

	logger.Component("notifier").Info("client connected", slog.String("user_id", "user-1"))

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "notifier", entries[0]["component"])
	assert.Equal(t, "user-1", entries[0]["user_id"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{level: "debug", expected: slog.LevelDebug},
		{level: "info", expected: slog.LevelInfo},
		{level: "warn", expected: slog.LevelWarn},
		{level: "warning", expected: slog.LevelWarn},
		{level: "error", expected: slog.LevelError},
		// case-sensitive; unknown values fall back to info
		{level: "DEBUG", expected: slog.LevelInfo},
		{level: "verbose", expected: slog.LevelInfo},
		{level: "", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

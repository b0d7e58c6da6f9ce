package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{" info ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"fatal", LevelFatal},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestForServiceAddsServiceAndLevelNames(t *testing.T) {
	var structured, human bytes.Buffer
	Init()
	SetOutput(&structured, &human)
	SetLevel(LevelTrace)
	t.Cleanup(func() {
		Init()
	})

	logger := ForService("timeline")
	logger.Log(t.Context(), LevelTrace, "slot acquired", "slot", 2)

	var record map[string]any
	require.NoError(t, json.Unmarshal(structured.Bytes(), &record))
	assert.Equal(t, "TRACE", record["level"])
	assert.Equal(t, "timeline", record["service"])
	assert.Equal(t, "slot acquired", record["msg"])
	assert.EqualValues(t, 2, record["slot"])
}

func TestSetLevelFiltersWithoutRebuild(t *testing.T) {
	var structured, human bytes.Buffer
	Init()
	SetOutput(&structured, &human)
	t.Cleanup(func() {
		Init()
	})

	logger := ForService("events")
	SetLevel(slog.LevelWarn)
	logger.Info("dropped")
	assert.Zero(t, structured.Len())

	logger.Warn("kept")
	assert.Contains(t, structured.String(), "kept")
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "arstream.log")

	logger, closeFn, err := NewFileLogger(FileConfig{Path: path, MaxSizeMB: 1}, "stream", slog.LevelInfo)
	require.NoError(t, err)

	logger.Info("producer started", "stream", "markers")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"stream"`)
	assert.Contains(t, string(data), "producer started")

	_, _, err = NewFileLogger(FileConfig{}, "stream", slog.LevelInfo)
	assert.Error(t, err)
}

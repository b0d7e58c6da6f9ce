package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu                  sync.RWMutex
	structuredLogger    *slog.Logger
	humanReadableLogger *slog.Logger

	// Shared by every handler so SetLevel takes effect without rebuilding loggers.
	structuredLevel    = new(slog.LevelVar)
	humanReadableLevel = new(slog.LevelVar)
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// Add trace and fatal level names.
var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

// replaceLevelNames renders the custom TRACE and FATAL levels by name.
func replaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if !ok {
			return a
		}
		levelLabel, exists := levelNames[level]
		if !exists {
			levelLabel = level.String()
		}
		a.Value = slog.StringValue(levelLabel)
	}
	return a
}

func newJSONHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})
}

func newTextHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})
}

// Init initializes the logging system with structured and human-readable loggers.
// It configures JSON output for structured logs and Text output for human-readable logs.
func Init() {
	structuredLevel.Set(slog.LevelDebug)
	humanReadableLevel.Set(slog.LevelInfo)
	SetOutput(os.Stdout, os.Stderr)
}

// SetLevel sets the minimum logging level for both structured and human-readable loggers.
func SetLevel(level slog.Level) {
	structuredLevel.Set(level)
	humanReadableLevel.Set(level)
}

// SetOutput redirects logger output. Levels are preserved.
func SetOutput(structuredOutput, humanReadableOutput io.Writer) {
	mu.Lock()
	structuredLogger = slog.New(newJSONHandler(structuredOutput, structuredLevel))
	humanReadableLogger = slog.New(newTextHandler(humanReadableOutput, humanReadableLevel))
	mu.Unlock()

	slog.SetDefault(structuredLogger)
}

// ParseLevel converts a configured level name into a slog.Level.
// Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fatal":
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}

// Structured returns the globally configured structured (JSON) logger.
// Returns nil if Init() has not been called.
func Structured() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return structuredLogger
}

// HumanReadable returns the globally configured human-readable (Text) logger.
// Returns nil if Init() has not been called.
func HumanReadable() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return humanReadableLogger
}

// ForService creates a new logger instance with the 'service' attribute added.
// Falls back to slog.Default() when Init() has not been called, so callers never
// have to nil-check the result.
func ForService(serviceName string) *slog.Logger {
	base := Structured()
	if base == nil {
		base = slog.Default()
	}
	return base.With("service", serviceName)
}

// --- Convenience functions using the default logger ---

// Debug logs a debug message using the default slog logger.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Info logs an info message using the default slog logger.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Warn logs a warning message using the default slog logger.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs an error message using the default slog logger.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// Fatal logs a fatal message using the custom Fatal level and then exits.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs a trace message using the custom Trace level.
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

// FileConfig holds rotation settings for NewFileLogger.
type FileConfig struct {
	Path       string
	MaxSizeMB  int // rotate after this many megabytes, default 100
	MaxBackups int // rotated files kept, default 3
	MaxAgeDays int // days to keep rotated files, default 28
}

// NewRotatingWriter returns a lumberjack writer for cfg.Path, creating the
// directory if needed. Zero rotation fields take the FileConfig defaults.
func NewRotatingWriter(cfg FileConfig) (io.WriteCloser, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}

	// lumberjack doesn't create directories
	logDir := filepath.Dir(cfg.Path)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	logWriter := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
	}
	if cfg.MaxSizeMB > 0 {
		logWriter.MaxSize = cfg.MaxSizeMB
	}
	if cfg.MaxBackups > 0 {
		logWriter.MaxBackups = cfg.MaxBackups
	}
	if cfg.MaxAgeDays > 0 {
		logWriter.MaxAge = cfg.MaxAgeDays
	}
	return logWriter, nil
}

// NewFileLogger creates a new slog.Logger instance configured to write JSON logs
// to cfg.Path using lumberjack for rotation. It includes a 'service' attribute in all logs.
// It returns the logger, a function to close the underlying log writer, and an error if setup fails.
func NewFileLogger(cfg FileConfig, serviceName string, level slog.Level) (*slog.Logger, func() error, error) {
	logWriter, err := NewRotatingWriter(cfg)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(newJSONHandler(logWriter, level)).With("service", serviceName)
	return logger, logWriter.Close, nil
}

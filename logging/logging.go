// Package logging provides the process-wide structured logger for ChainDB.
//
// It wraps [log/slog] behind a single global instance so that log level and
// destination are controlled from one place. Call Init (or InitDefault) once
// at startup; subsystems obtain loggers via GetLogger or the With* helpers.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	logger   *slog.Logger
	loggerMu sync.RWMutex
	isInited bool
	initOnce sync.Once
)

// LogLevel represents logging verbosity.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// Config holds logger configuration.
type Config struct {
	Level  LogLevel
	Output io.Writer // nil for stderr
}

// Init initializes the global logger. Calling Init twice is an error.
func Init(config Config) error {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if isInited {
		return fmt.Errorf("logger already initialized")
	}

	writer := config.Output
	if writer == nil {
		writer = os.Stderr
	}

	var level slog.Level
	switch config.Level {
	case LevelDebug:
		level = slog.LevelDebug
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger = slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level}))
	isInited = true
	return nil
}

// InitDefault initializes an INFO-level logger writing to stderr.
func InitDefault() error {
	return Init(Config{Level: LevelInfo})
}

// GetLogger returns the global logger, lazily creating a default one if Init
// was never called, so packages that log during init are safe.
func GetLogger() *slog.Logger {
	loggerMu.RLock()
	if isInited {
		defer loggerMu.RUnlock()
		return logger
	}
	loggerMu.RUnlock()

	initOnce.Do(func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		if !isInited {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
			isInited = true
		}
	})
	return GetLogger()
}

// WithFile creates a logger carrying the backing file path.
func WithFile(path string) *slog.Logger {
	return GetLogger().With("file", path)
}

// WithComponent creates a logger tagged with a subsystem name.
func WithComponent(name string) *slog.Logger {
	return GetLogger().With("component", name)
}

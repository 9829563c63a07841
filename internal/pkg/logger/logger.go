// Package logger holds the process-wide zap logger used by the entrypoints
// and the worker pool. Components take a *zap.Logger by injection instead.
//
// JSON format for production, console for development.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global      *zap.Logger
	atomicLevel = zap.NewAtomicLevel()
	mu          sync.RWMutex
)

// Init builds the global logger.
// level: debug, info, warn, error
// format: json or console
func Init(level, format string) error {
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = lvl

	built, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	mu.Lock()
	global = built
	atomicLevel = lvl
	mu.Unlock()
	return nil
}

// SetLevel changes the level of the running logger.
func SetLevel(level string) error {
	mu.RLock()
	defer mu.RUnlock()
	return atomicLevel.UnmarshalText([]byte(level))
}

// GetLevel returns the current log level.
func GetLevel() zapcore.Level {
	mu.RLock()
	defer mu.RUnlock()
	return atomicLevel.Level()
}

// Level exposes the atomic level, which doubles as an http.Handler for
// runtime level changes.
func Level() *zap.AtomicLevel {
	mu.RLock()
	defer mu.RUnlock()
	return &atomicLevel
}

// L returns the global logger, or a no-op logger before Init.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return zap.NewNop()
	}
	return global
}

// With creates a child logger with additional fields.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// Sync flushes any buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return nil
	}
	return global.Sync()
}

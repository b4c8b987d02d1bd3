// Package dlogger builds the zap loggers used across the repository engine.
package dlogger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LevelInfo is the default operational log level.
	LevelInfo = "info"

	// LevelDebug turns on per-object and per-fetch tracing.
	LevelDebug = "debug"

	// LevelNone silences the logger entirely.
	LevelNone = "none"
)

// New builds a zap logger at the given level. An empty level defaults to LevelInfo.
func New(level string) (*zap.Logger, error) {
	if level == "" {
		level = LevelInfo
	}
	if level == LevelNone {
		return zap.NewNop(), nil
	}

	cfg := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"

	return cfg.Build()
}

// MustNew is New, but panics on a bad level. Used at process start-up where
// there is no caller left to recover from a malformed --log-level flag.
func MustNew(level string) *zap.Logger {
	l, err := New(level)
	if err != nil {
		panic(err)
	}
	return l
}

// Named returns a child logger scoped to one repository-engine component,
// e.g. dlogger.Named(base, "planner").
func Named(base *zap.Logger, component string) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return base.Named(component)
}

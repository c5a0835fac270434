// Package logger wraps zap with the construction and field-scoping
// conventions used throughout Iris's components, mirroring how the
// teacher's internal/common/logger is consumed (logger.NewLogger,
// log.WithFields(zap.String("component", ...)), logger.SetDefault).
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// Logger wraps a *zap.Logger so WithFields can return the same wrapper type.
type Logger struct {
	*zap.Logger
}

// NewLogger builds a Logger per cfg.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: zl}, nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithFields returns a child Logger with the given structured fields
// attached to every subsequent line.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

var (
	defaultMu  sync.RWMutex
	defaultLog = NewNop()
)

// SetDefault installs the process-wide default logger, used by code paths
// (background goroutines spawned before a component logger is threaded
// through) that have no constructor-supplied Logger to hand.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLog = l
}

// Default returns the process-wide default logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLog
}

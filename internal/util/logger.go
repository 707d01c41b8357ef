package util

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerMu sync.RWMutex
	logger   *zap.Logger
)

// InitLogger builds the service logger for env at the given level and installs it as
// the zap global. An empty level keeps the env default: info in production, debug elsewhere.
func InitLogger(env, level string) error {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		config.Level = lvl
	}

	built, err := config.Build()
	if err != nil {
		return err
	}

	loggerMu.Lock()
	logger = built
	loggerMu.Unlock()

	zap.ReplaceGlobals(built)
	return nil
}

// GetLogger returns the service logger, falling back to a development logger
// when InitLogger has not run yet. Safe for concurrent use.
func GetLogger() *zap.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		fallback, err := zap.NewDevelopment()
		if err != nil {
			fallback = zap.NewNop()
		}
		logger = fallback
	}
	return logger
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}

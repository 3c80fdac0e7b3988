package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/moodtune/backend/internal/config"
)

// newLogger builds the process logger. Format "console" selects the
// human-readable development encoder, anything else emits JSON.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch cfg.Format {
	case "console", "text":
		zc = zap.NewDevelopmentConfig()
	case "json", "":
		zc = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q", cfg.Format)
	}
	zc.Level = level

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named("moodtune"), nil
}

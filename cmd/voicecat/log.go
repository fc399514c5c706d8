package main

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/diamondburned/arivoice/internal/heart"
	"github.com/diamondburned/arivoice/utils/wsutil"
)

type newLoggerParams struct {
	fx.In
	Cfg *Config
	LC  fx.Lifecycle
}

// newLogger builds the zap logger for the configured level and routes the
// library's debug and error hooks into it.
func newLogger(p newLoggerParams) (*zap.Logger, error) {
	var config zap.Config

	switch p.Cfg.LogLevel {
	case "debug":
		config = zap.NewDevelopmentConfig()
	case "warn":
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	sugar := logger.Sugar()

	wsutil.WSDebug = func(v ...interface{}) { sugar.Debug(v...) }
	wsutil.WSError = func(err error) { logger.Warn("voice gateway error", zap.Error(err)) }
	heart.Debug = func(v ...interface{}) { sugar.Debug(v...) }

	p.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			// Syncing stderr fails on some terminals.
			_ = logger.Sync()
			return nil
		},
	})

	return logger, nil
}

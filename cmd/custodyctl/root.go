package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"pharmatrace/internal/app"
	"pharmatrace/internal/platform/config"
	"pharmatrace/internal/platform/logger"
)

var rootCmd = &cobra.Command{
	Use:           "custodyctl",
	Short:         "Operate the pharmatrace custody service",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// logLevel overrides PHARMATRACE_LOG_LEVEL for CLI runs.
var logLevel string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg.Log.Level = logLevel
	cfg.Log.Format = "text"
	return cfg, logger.NewWithWriter(rootCmd.ErrOrStderr(), cfg.Log), nil
}

// buildApp assembles the service against the configured backends. A fresh
// registry keeps CLI metrics out of the process default.
func buildApp(ctx context.Context) (*app.App, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.Build(ctx, cfg, log, prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return a, nil
}

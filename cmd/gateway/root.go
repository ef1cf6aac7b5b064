package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voicecache-gateway/internal/config"
	"voicecache-gateway/internal/metrics"
	"voicecache-gateway/pkg/logging/logging"
)

var rootCmd = &cobra.Command{
	Use:           "gateway",
	Short:         "Voice cache gateway: cached text-to-speech and book pre-caching",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute wires the subcommands and runs the one named on the command line.
func Execute() error {
	initServeCmd()
	initPrecacheCmd()
	initStatsCmd()
	initEvictCmd()
	initMigrateCmd()

	return rootCmd.Execute()
}

// setup loads and validates config and returns the process logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := logging.DefaultLogger()
	metrics.Register()

	return cfg, logger, nil
}

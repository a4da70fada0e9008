package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/config"
	"github.com/hamed0406/uptimemonitor/internal/logging"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "uptimemonitor",
	Short: "Monitor client websites and email owners when they go down",
	Long: `uptimemonitor probes every active website of every active client,
records each observation, and emails the client when a website goes from up to down.

Configuration is read from the environment, optionally preloaded from a .env file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger shared by every command.
func setup() (config.Config, *zap.Logger, error) {
	cfg := config.Load(envFile)
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogConsole)
	if err != nil {
		return cfg, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}

package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/inferbench/inferbench/internal/config"
	"github.com/inferbench/inferbench/internal/logging"
)

var configPath string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "inferbench",
	Short: "Inferbench - LLM inference server benchmark harness",
	Long: `Inferbench launches an LLM inference server against a prepared model
fixture and measures serving performance under increasing request rates.

Typical usage:
- Run a full sweep across the configured request rates
- Run a single load-generation trial against an already running server
- Inspect persisted trial results
- Serve a mock inference server for development`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (optional, env vars apply on top)")
}

// loadConfig loads configuration and installs the global logger
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	return cfg, logger, nil
}

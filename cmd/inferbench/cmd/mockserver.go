package cmd

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/inferbench/inferbench/internal/mockserver"
)

var (
	mockAddr       string
	mockModel      string
	mockTokenDelay time.Duration
	mockReadyDelay time.Duration
	mockFailEvery  int
)

var mockserverCmd = &cobra.Command{
	Use:   "mockserver",
	Short: "Serve a mock OpenAI-compatible inference server",
	Long: `Serves the same endpoints a real inference server exposes (/health,
/v1/models, /v1/completions) with synthetic streamed tokens, for developing
and testing the harness without GPU hardware.`,
	RunE: runMockserver,
}

func init() {
	mockserverCmd.Flags().StringVar(&mockAddr, "addr", ":8000", "Listen address")
	mockserverCmd.Flags().StringVar(&mockModel, "model", "", "Model ID to report")
	mockserverCmd.Flags().DurationVar(&mockTokenDelay, "token-delay", 5*time.Millisecond, "Pause between streamed tokens")
	mockserverCmd.Flags().DurationVar(&mockReadyDelay, "ready-delay", 0, "How long /health reports not ready after start")
	mockserverCmd.Flags().IntVar(&mockFailEvery, "fail-every", 0, "Fail every n-th completion request (0 disables)")
	rootCmd.AddCommand(mockserverCmd)
}

func runMockserver(cmd *cobra.Command, args []string) error {
	_, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("starting mock inference server",
		slog.String("addr", mockAddr),
		slog.Duration("token_delay", mockTokenDelay))

	return mockserver.New(mockserver.Options{
		ModelID:    mockModel,
		TokenDelay: mockTokenDelay,
		ReadyDelay: mockReadyDelay,
		FailEvery:  mockFailEvery,
	}).Run(mockAddr)
}

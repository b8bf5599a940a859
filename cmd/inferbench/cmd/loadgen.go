package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/inferbench/inferbench/internal/loadgen"
)

var loadgenArgs = loadgen.Args{}

var loadgenCmd = &cobra.Command{
	Use:   "loadgen",
	Short: "Run a single load-generation trial",
	Long: `Sends paced completion requests against an already running inference
server and writes one JSON line per request to the output file. The sweep
command runs this as a worker process, one per request rate.`,
	RunE: runLoadgen,
}

func init() {
	loadgenCmd.Flags().StringVar(&loadgenArgs.Backend, "backend", "shortfin", "Backend label used in the output file name")
	loadgenCmd.Flags().StringVar(&loadgenArgs.BaseURL, "base-url", "", "Inference server base URL (required)")
	loadgenCmd.Flags().StringVar(&loadgenArgs.Model, "model", "", "Model ID, discovered from /v1/models when empty")
	loadgenCmd.Flags().IntVar(&loadgenArgs.NumPrompts, "num-prompts", 10, "Number of prompts to send")
	loadgenCmd.Flags().Float64Var(&loadgenArgs.RequestRate, "request-rate", 1, "Request rate in requests per second")
	loadgenCmd.Flags().IntVar(&loadgenArgs.PromptTokens, "prompt-tokens", 128, "Approximate prompt length in tokens")
	loadgenCmd.Flags().IntVar(&loadgenArgs.MaxTokens, "max-tokens", 256, "Maximum completion tokens per request")
	loadgenCmd.Flags().StringVar(&loadgenArgs.OutputDir, "output-dir", ".", "Directory for the JSON-lines output file")
	loadgenCmd.Flags().DurationVar(&loadgenArgs.RequestTimeout, "request-timeout", 120*time.Second, "Per-request timeout")
	cobra.CheckErr(loadgenCmd.MarkFlagRequired("base-url"))
	rootCmd.AddCommand(loadgenCmd)
}

func runLoadgen(cmd *cobra.Command, args []string) error {
	_, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, err := loadgen.NewGenerator(loadgenArgs, logger)
	if err != nil {
		return err
	}

	summary, err := g.Run(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

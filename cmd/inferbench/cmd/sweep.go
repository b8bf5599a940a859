package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/inferbench/inferbench/internal/results"
	"github.com/inferbench/inferbench/internal/sweep"
)

var sweepNoStore bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the full benchmark sweep",
	Long: `Launches the inference server against the configured model fixture,
runs one load-generation trial per configured request rate, and tears the
server down. Each trial writes a JSON-lines result file and is persisted
to the results database. The command fails if any trial did not pass.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepNoStore, "no-store", false, "Skip persisting trials to the results database")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("metrics listener started", slog.String("addr", cfg.Metrics.Addr))
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Error("metrics listener failed", slog.String("error", err.Error()))
			}
		}()
	}

	var store *results.Store
	if !sweepNoStore {
		db, err := results.OpenDB(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		store, err = results.NewStore(db)
		if err != nil {
			return err
		}
	}

	trials, err := sweep.New(*cfg, store, logger).Run(ctx)
	if err != nil {
		return err
	}

	printTrials(trials)

	var failed []string
	for _, tr := range trials {
		if tr.Outcome != sweep.OutcomePassed {
			failed = append(failed, fmt.Sprintf("%g", tr.RequestRate))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d trials did not pass (rates: %s)",
			len(failed), len(trials), strings.Join(failed, ", "))
	}
	return nil
}

func printTrials(trials []sweep.TrialResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RATE\tOUTCOME\tREQUESTS\tERRORS\tTOK/S\tP90 LATENCY (MS)\tOUTPUT FILE")
	for _, tr := range trials {
		fmt.Fprintf(w, "%g\t%s\t%d\t%d\t%.1f\t%.1f\t%s\n",
			tr.RequestRate, tr.Outcome,
			tr.Summary.TotalRequests, tr.Summary.TotalErrors,
			tr.Summary.OutputThroughput, tr.Summary.P90LatencyMs,
			tr.OutputFile)
	}
	w.Flush()
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/inferbench/inferbench/internal/results"
)

var (
	reportFile    string
	reportRunID   string
	reportBackend string
	reportLimit   int
	reportBest    bool
	reportJSON    bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show persisted trial results",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFile, "file", "", "Analyze a JSON-lines trial file instead of the database")
	reportCmd.Flags().StringVar(&reportRunID, "run", "", "Show trials of one sweep run")
	reportCmd.Flags().StringVar(&reportBackend, "backend", "", "Filter trials by backend")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 20, "Maximum number of trials to show")
	reportCmd.Flags().BoolVar(&reportBest, "best", false, "Show only the best-throughput passed trial (requires --backend)")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Output JSON instead of a table")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	if reportFile != "" {
		return reportFromFile(reportFile)
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := results.OpenDB(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := results.NewStore(db)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var recs []*results.TrialRecord

	switch {
	case reportBest:
		if reportBackend == "" {
			return fmt.Errorf("--best requires --backend")
		}
		rec, err := store.BestThroughput(ctx, reportBackend)
		if err != nil {
			return err
		}
		if rec != nil {
			recs = append(recs, rec)
		}
	case reportRunID != "":
		recs, err = store.ListByRun(ctx, reportRunID)
	case reportBackend != "":
		recs, err = store.ListByBackend(ctx, reportBackend)
	default:
		recs, err = store.ListRecent(ctx, reportLimit)
	}
	if err != nil {
		return err
	}

	if reportJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tRUN\tBACKEND\tRATE\tOUTCOME\tREQUESTS\tERRORS\tTOK/S\tP90 LATENCY (MS)")
	for _, r := range recs {
		run := r.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%s\t%d\t%d\t%.1f\t%.1f\n",
			r.Timestamp.Format("2006-01-02 15:04:05"), run, r.Backend,
			r.RequestRate, r.Outcome,
			r.Summary.TotalRequests, r.Summary.TotalErrors,
			r.Summary.OutputThroughput, r.Summary.P90LatencyMs)
	}
	return w.Flush()
}

// reportFromFile analyzes one trial's JSON-lines output directly
func reportFromFile(path string) error {
	records, err := results.ParseJSONL(path)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results.Analyze(records))
}

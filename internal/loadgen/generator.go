package loadgen

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/inferbench/inferbench/internal/metrics"
	"github.com/inferbench/inferbench/internal/results"
)

// Generator runs one paced load-generation trial.
type Generator struct {
	args   Args
	client *Client
	logger *slog.Logger
}

// NewGenerator validates the args and builds a generator.
func NewGenerator(args Args, logger *slog.Logger) (*Generator, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		args:   args,
		client: NewClient(args.BaseURL, args.Model, args.RequestTimeout),
		logger: logger,
	}, nil
}

// Run sends the configured number of requests at the configured rate,
// writes one JSON line per request to the output file, and returns the
// aggregate summary. Individual request failures are recorded as error
// lines; only infrastructure failures (model discovery, output file)
// fail the trial.
func (g *Generator) Run(ctx context.Context) (results.TrialSummary, error) {
	if err := os.MkdirAll(g.args.OutputDir, 0755); err != nil {
		return results.TrialSummary{}, fmt.Errorf("failed to create output dir: %w", err)
	}

	if err := g.client.DiscoverModel(ctx); err != nil {
		return results.TrialSummary{}, err
	}

	g.logger.Info("starting load generation",
		slog.String("backend", g.args.Backend),
		slog.String("model", g.client.Model()),
		slog.Int("num_prompts", g.args.NumPrompts),
		slog.Float64("request_rate", g.args.RequestRate),
		slog.String("output_file", g.args.OutputFileName()))

	limiter := rate.NewLimiter(rate.Limit(g.args.RequestRate), 1)
	records := make([]results.RequestRecord, g.args.NumPrompts)

	var wg sync.WaitGroup
	launched := 0
	for i := 0; i < g.args.NumPrompts; i++ {
		if err := limiter.Wait(ctx); err != nil {
			// Cancelled mid-trial; in-flight requests still finish below
			break
		}

		wg.Add(1)
		launched++
		go func(n int) {
			defer wg.Done()
			records[n] = g.sendOne(ctx, n)
		}(i)
	}
	wg.Wait()
	records = records[:launched]

	sort.Slice(records, func(i, j int) bool {
		return records[i].RequestNum < records[j].RequestNum
	})

	w, err := results.NewWriter(g.args.OutputPath())
	if err != nil {
		return results.TrialSummary{}, err
	}
	defer w.Close()

	for _, rec := range records {
		if err := w.Append(rec); err != nil {
			return results.TrialSummary{}, fmt.Errorf("failed to write record: %w", err)
		}
	}

	summary := results.Analyze(records)
	g.logger.Info("load generation complete",
		slog.Int("total_requests", summary.TotalRequests),
		slog.Int("total_errors", summary.TotalErrors),
		slog.Float64("output_throughput", summary.OutputThroughput),
		slog.Float64("p90_latency_ms", summary.P90LatencyMs))

	return summary, nil
}

// sendOne issues one completion request and converts it to a record
func (g *Generator) sendOne(ctx context.Context, n int) results.RequestRecord {
	rec := results.RequestRecord{
		Timestamp:    time.Now().Unix(),
		RequestNum:   n,
		PromptTokens: g.args.PromptTokens,
	}

	prompt := GeneratePrompt(g.args.PromptTokens, n)
	stats, err := g.client.Complete(ctx, prompt, g.args.MaxTokens)
	if err != nil {
		metrics.RecordRequestError()
		rec.Error = true
		rec.ErrorMsg = err.Error()
		return rec
	}

	metrics.RecordRequestLatency(stats.Latency)
	rec.CompletionTokens = stats.CompletionTokens
	rec.TTFTMs = float64(stats.TTFT.Microseconds()) / 1000
	rec.LatencyMs = float64(stats.Latency.Microseconds()) / 1000
	if stats.Latency > 0 {
		rec.TokensPerSec = float64(stats.CompletionTokens) / stats.Latency.Seconds()
	}
	return rec
}

// GeneratePrompt builds a prompt of roughly approxTokens tokens. The
// request number is woven in so servers cannot serve every request from
// a prompt cache.
func GeneratePrompt(approxTokens, requestNum int) string {
	words := []string{
		"The", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog.",
		"A", "journey", "of", "a", "thousand", "miles", "begins", "with", "a", "single", "step.",
		"To", "be", "or", "not", "to", "be,", "that", "is", "the", "question.",
		"All", "that", "glitters", "is", "not", "gold.",
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Request %d. Please continue the following text:\n\n", requestNum)

	// Rough approximation: 4 characters per token
	targetChars := approxTokens * 4
	for sb.Len() < targetChars {
		for _, word := range words {
			sb.WriteString(word)
			sb.WriteString(" ")
			if sb.Len() >= targetChars {
				break
			}
		}
	}
	return sb.String()
}

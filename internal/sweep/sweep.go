// Package sweep orchestrates a full benchmark run: fixture resolution, one
// inference server launch, and a load-generation trial per request rate.
// The server always comes down at the end, whatever the trials did.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/inferbench/inferbench/internal/config"
	"github.com/inferbench/inferbench/internal/fixture"
	"github.com/inferbench/inferbench/internal/loadgen"
	"github.com/inferbench/inferbench/internal/logging"
	"github.com/inferbench/inferbench/internal/metrics"
	"github.com/inferbench/inferbench/internal/results"
	"github.com/inferbench/inferbench/internal/server"
)

// Outcome classifies how a trial ended.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
)

// TrialResult is the explicit result of one load-generation trial.
// A failed or timed-out trial carries its error here instead of aborting
// the sweep; the remaining rates still run.
type TrialResult struct {
	TrialID     string
	RequestRate float64
	OutputFile  string
	Outcome     Outcome
	Err         error
	Summary     results.TrialSummary
}

// ServerHandle is the part of a launched server the sweep needs.
type ServerHandle interface {
	BaseURL() string
	PID() int
	Stop(ctx context.Context) error
}

// TrialRunner executes one load-generation trial to completion.
type TrialRunner interface {
	RunTrial(ctx context.Context, args loadgen.Args) error
}

// LaunchFunc starts an inference server and blocks until it is ready.
type LaunchFunc func(ctx context.Context, cfg server.LaunchConfig, logger *slog.Logger) (ServerHandle, error)

// Sweep runs the configured request rates against one server instance.
type Sweep struct {
	cfg    config.Config
	store  *results.Store
	runner TrialRunner
	launch LaunchFunc
	logger *slog.Logger
}

// Option customizes a sweep, mainly for tests
type Option func(*Sweep)

// WithTrialRunner replaces the subprocess trial runner
func WithTrialRunner(r TrialRunner) Option {
	return func(s *Sweep) { s.runner = r }
}

// WithLaunchFunc replaces the server launcher
func WithLaunchFunc(fn LaunchFunc) Option {
	return func(s *Sweep) { s.launch = fn }
}

// New creates a sweep. The store may be nil when persistence is disabled.
func New(cfg config.Config, store *results.Store, logger *slog.Logger, opts ...Option) *Sweep {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweep{
		cfg:    cfg,
		store:  store,
		runner: NewWorkerRunner(logger),
		logger: logger,
		launch: func(ctx context.Context, lc server.LaunchConfig, lg *slog.Logger) (ServerHandle, error) {
			return server.Launch(ctx, lc, lg)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the sweep. It returns one TrialResult per configured rate.
// Only infrastructure failures (fixture, server startup) return an error;
// trial failures are reported in their results.
func (s *Sweep) Run(ctx context.Context) ([]TrialResult, error) {
	runID := uuid.New().String()
	ctx = logging.WithRunID(ctx, runID)
	// Child process output is forwarded without a per-line context, so the
	// launch logger carries the run ID as an attribute instead
	launchLogger := s.logger.With(slog.String("run_id", runID))

	paths, err := s.resolveFixture(ctx)
	if err != nil {
		return nil, err
	}

	port, err := server.FindAvailablePort()
	if err != nil {
		return nil, err
	}

	proc, err := s.launch(ctx, server.LaunchConfig{
		Executable:      s.cfg.Server.Executable,
		Port:            port,
		TokenizerPath:   paths.Tokenizer,
		ConfigPath:      paths.Config,
		CompiledPath:    paths.Compiled,
		WeightsPath:     paths.Weights,
		Device:          s.cfg.Server.Device,
		DeviceFlags:     s.cfg.Server.DeviceFlags,
		VisibleDevices:  s.cfg.Server.VisibleDevices,
		StartupTimeout:  s.cfg.Server.StartupTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, launchLogger)
	if err != nil {
		return nil, fmt.Errorf("server launch failed: %w", err)
	}
	ctx = logging.WithServerPID(ctx, proc.PID())

	// Teardown is unconditional; trial outcomes never skip it
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := proc.Stop(stopCtx); err != nil {
			s.logger.ErrorContext(ctx, "server teardown failed", slog.String("error", err.Error()))
		}
	}()

	s.logger.InfoContext(ctx, "starting sweep",
		slog.String("backend", s.cfg.Benchmark.Backend),
		slog.Int("num_prompts", s.cfg.Benchmark.NumPrompts),
		slog.Any("request_rates", s.cfg.Benchmark.RequestRates))

	trials := make([]TrialResult, 0, len(s.cfg.Benchmark.RequestRates))
	for _, rate := range s.cfg.Benchmark.RequestRates {
		trials = append(trials, s.runTrial(ctx, runID, proc.BaseURL(), rate))
	}

	return trials, nil
}

// runTrial executes one rate's trial, classifies its outcome, and persists
// whatever records the worker managed to write.
func (s *Sweep) runTrial(ctx context.Context, runID, baseURL string, rate float64) TrialResult {
	trialID := uuid.New().String()
	ctx = logging.WithTrialID(ctx, trialID)

	args := loadgen.Args{
		Backend:        s.cfg.Benchmark.Backend,
		BaseURL:        baseURL,
		NumPrompts:     s.cfg.Benchmark.NumPrompts,
		RequestRate:    rate,
		PromptTokens:   s.cfg.Benchmark.PromptTokens,
		MaxTokens:      s.cfg.Benchmark.MaxTokens,
		OutputDir:      s.cfg.Benchmark.ResultsDir,
		RequestTimeout: s.cfg.Benchmark.RequestTimeout,
	}

	res := TrialResult{
		TrialID:     trialID,
		RequestRate: rate,
		OutputFile:  args.OutputPath(),
		Outcome:     OutcomePassed,
	}

	trialCtx, cancel := context.WithTimeout(ctx, s.cfg.Benchmark.TrialTimeout)
	defer cancel()

	s.logger.InfoContext(ctx, "starting trial",
		slog.Float64("request_rate", rate),
		slog.String("output_file", args.OutputFileName()))
	start := time.Now()
	err := s.runner.RunTrial(trialCtx, args)
	elapsed := time.Since(start)

	switch {
	case err != nil && trialCtx.Err() == context.DeadlineExceeded:
		res.Outcome = OutcomeTimeout
		res.Err = fmt.Errorf("trial exceeded %s: %w", s.cfg.Benchmark.TrialTimeout, err)
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Err = err
	}

	// A failed or timed-out worker may still have written usable records
	if records, parseErr := results.ParseJSONL(res.OutputFile); parseErr == nil {
		res.Summary = results.Analyze(records)
	} else if res.Err == nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("trial produced no readable output: %w", parseErr)
	}

	metrics.RecordTrial(string(res.Outcome))
	metrics.RecordTrialDuration(strconv.FormatFloat(rate, 'f', -1, 64), elapsed)

	if res.Err != nil {
		s.logger.ErrorContext(ctx, "trial did not pass",
			slog.String("outcome", string(res.Outcome)),
			slog.String("error", res.Err.Error()))
	} else {
		s.logger.InfoContext(ctx, "trial passed",
			slog.Int("total_requests", res.Summary.TotalRequests),
			slog.Int("total_errors", res.Summary.TotalErrors),
			slog.Float64("output_throughput", res.Summary.OutputThroughput))
	}

	s.persist(ctx, runID, res)
	return res
}

func (s *Sweep) persist(ctx context.Context, runID string, res TrialResult) {
	if s.store == nil {
		return
	}

	rec := &results.TrialRecord{
		ID:          res.TrialID,
		RunID:       runID,
		Backend:     s.cfg.Benchmark.Backend,
		Device:      s.cfg.Server.Device,
		NumPrompts:  s.cfg.Benchmark.NumPrompts,
		RequestRate: res.RequestRate,
		OutputFile:  res.OutputFile,
		Outcome:     string(res.Outcome),
		Summary:     res.Summary,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}

	if err := s.store.Save(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist trial", slog.String("error", err.Error()))
	}
}

// resolveFixture fetches remote artifacts if configured, then validates
// the local fixture directory.
func (s *Sweep) resolveFixture(ctx context.Context) (*fixture.Paths, error) {
	if s.cfg.Fixture.Remote.Enabled {
		if err := s.fetchRemoteFixture(ctx); err != nil {
			return nil, err
		}
	}
	return fixture.Resolve(s.cfg.Fixture.Dir, s.cfg.Fixture.WeightsFile)
}

func (s *Sweep) fetchRemoteFixture(ctx context.Context) error {
	remote := s.cfg.Fixture.Remote

	key, err := os.ReadFile(remote.KeyPath)
	if err != nil {
		return fmt.Errorf("failed to read artifact host key: %w", err)
	}

	fetcher := fixture.NewFetcher(fixture.Credentials{
		Host:       remote.Host,
		Port:       remote.Port,
		User:       remote.User,
		PrivateKey: key,
	})

	s.logger.InfoContext(ctx, "fetching fixture artifacts",
		slog.String("host", remote.Host),
		slog.String("remote_dir", remote.Dir))
	return fetcher.FetchDir(ctx, remote.Dir, s.cfg.Fixture.Dir)
}

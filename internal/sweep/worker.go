package sweep

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/inferbench/inferbench/internal/loadgen"
)

// WorkerRunner executes each trial as a child process running this same
// binary's loadgen subcommand. A wedged trial is killed when its context
// expires instead of hanging the sweep.
type WorkerRunner struct {
	executable string
	logger     *slog.Logger
}

// NewWorkerRunner builds a runner that re-executes the current binary.
func NewWorkerRunner(logger *slog.Logger) *WorkerRunner {
	if logger == nil {
		logger = slog.Default()
	}
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return &WorkerRunner{executable: exe, logger: logger}
}

// RunTrial runs one loadgen worker to completion or until ctx expires.
func (r *WorkerRunner) RunTrial(ctx context.Context, args loadgen.Args) error {
	if err := args.Validate(); err != nil {
		return err
	}

	argv := []string{
		"loadgen",
		"--backend", args.Backend,
		"--base-url", args.BaseURL,
		"--num-prompts", strconv.Itoa(args.NumPrompts),
		"--request-rate", strconv.FormatFloat(args.RequestRate, 'f', -1, 64),
		"--prompt-tokens", strconv.Itoa(args.PromptTokens),
		"--max-tokens", strconv.Itoa(args.MaxTokens),
		"--output-dir", args.OutputDir,
	}
	if args.Model != "" {
		argv = append(argv, "--model", args.Model)
	}
	if args.RequestTimeout > 0 {
		argv = append(argv, "--request-timeout", args.RequestTimeout.String())
	}

	cmd := exec.CommandContext(ctx, r.executable, argv...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to pipe worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to pipe worker stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start loadgen worker: %w", err)
	}

	logger := r.logger.With(slog.Int("worker_pid", cmd.Process.Pid))
	var pipesDone sync.WaitGroup
	pipesDone.Add(2)
	go func() {
		defer pipesDone.Done()
		forwardWorkerOutput(stdout, logger, "stdout")
	}()
	go func() {
		defer pipesDone.Done()
		forwardWorkerOutput(stderr, logger, "stderr")
	}()

	// Drain both pipes before Wait closes them
	pipesDone.Wait()
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("loadgen worker killed: %w", ctx.Err())
		}
		return fmt.Errorf("loadgen worker failed: %w", err)
	}
	return nil
}

// forwardWorkerOutput streams a worker pipe into the logger line by line
func forwardWorkerOutput(r io.Reader, logger *slog.Logger, stream string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Info("worker: "+scanner.Text(), slog.String("stream", stream))
	}
}

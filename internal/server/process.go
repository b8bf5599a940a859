// Package server manages the lifecycle of the inference server child process:
// launch with resolved fixture paths and device settings, readiness polling
// against the health endpoint, and bounded termination.
package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/inferbench/inferbench/internal/metrics"
)

const (
	// visibleDevicesEnv restricts which accelerators the server may see.
	// It is applied to the child environment only, never the harness process.
	visibleDevicesEnv = "ROCR_VISIBLE_DEVICES"

	// readyPollInterval is how often the health endpoint is polled during startup
	readyPollInterval = 250 * time.Millisecond
)

// LaunchConfig describes one inference server invocation
type LaunchConfig struct {
	Executable string
	Port       int

	// Resolved fixture artifact paths
	TokenizerPath string
	ConfigPath    string
	CompiledPath  string
	WeightsPath   string

	// Device settings, passed through to the server unchanged
	Device      string
	DeviceFlags []string

	// VisibleDevices scopes accelerator visibility to this launch.
	// Empty means the variable is left unset for the child.
	VisibleDevices string

	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Process is a handle to a running inference server child process
type Process struct {
	cmd             *exec.Cmd
	baseURL         string
	port            int
	shutdownTimeout time.Duration
	waitCh          chan error
	logger          *slog.Logger
}

// BuildArgs assembles the server command line from the launch config
func BuildArgs(cfg LaunchConfig) []string {
	args := []string{
		"--port", strconv.Itoa(cfg.Port),
		"--tokenizer_json", cfg.TokenizerPath,
		"--model_config", cfg.ConfigPath,
		"--vmfb", cfg.CompiledPath,
		"--parameters", cfg.WeightsPath,
		"--device", cfg.Device,
	}
	return append(args, cfg.DeviceFlags...)
}

// buildEnv returns the child environment: the base environment with any
// inherited device-visibility entry stripped, plus the scoped value if set.
func buildEnv(base []string, visibleDevices string) []string {
	env := make([]string, 0, len(base)+1)
	for _, kv := range base {
		if strings.HasPrefix(kv, visibleDevicesEnv+"=") {
			continue
		}
		env = append(env, kv)
	}
	if visibleDevices != "" {
		env = append(env, visibleDevicesEnv+"="+visibleDevices)
	}
	return env
}

// Launch starts the inference server and blocks until it reports ready or
// the startup timeout elapses. On failure the child is killed and reaped
// before the error is returned; a timed-out launch never leaks a process.
func Launch(ctx context.Context, cfg LaunchConfig, logger *slog.Logger) (*Process, error) {
	if cfg.Executable == "" {
		return nil, fmt.Errorf("server executable cannot be empty")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("server port must be positive")
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(cfg.Executable, BuildArgs(cfg)...)
	cmd.Env = buildEnv(os.Environ(), cfg.VisibleDevices)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe server stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe server stderr: %w", err)
	}

	logger.Info("launching inference server",
		slog.String("executable", cfg.Executable),
		slog.Int("port", cfg.Port),
		slog.String("device", cfg.Device))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start inference server: %w", err)
	}

	p := &Process{
		cmd:             cmd,
		baseURL:         fmt.Sprintf("http://localhost:%d", cfg.Port),
		port:            cfg.Port,
		shutdownTimeout: cfg.ShutdownTimeout,
		waitCh:          make(chan error, 1),
		logger:          logger.With(slog.Int("server_pid", cmd.Process.Pid)),
	}

	var pipesDone sync.WaitGroup
	pipesDone.Add(2)
	go func() {
		defer pipesDone.Done()
		forwardOutput(stdout, p.logger, "stdout")
	}()
	go func() {
		defer pipesDone.Done()
		forwardOutput(stderr, p.logger, "stderr")
	}()

	// Wait closes the pipes, so it must not run until both are drained
	go func() {
		pipesDone.Wait()
		p.waitCh <- cmd.Wait()
	}()

	readyCtx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
	defer cancel()

	if err := p.waitReady(readyCtx); err != nil {
		metrics.RecordServerStartup(startupResult(err))
		// Best effort teardown so the failed launch does not leak the port
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer stopCancel()
		_ = p.Stop(stopCtx)
		return nil, fmt.Errorf("inference server not ready within %s: %w", cfg.StartupTimeout, err)
	}

	metrics.RecordServerStartup("ready")
	metrics.RecordServerStartupDuration(time.Since(start))
	p.logger.Info("inference server ready",
		slog.String("base_url", p.baseURL),
		slog.Duration("startup", time.Since(start)))

	return p, nil
}

// startupResult maps a readiness error to a metric label
func startupResult(err error) string {
	if strings.Contains(err.Error(), "exited") {
		return "exited"
	}
	return "timeout"
}

// waitReady polls the health endpoint until it returns 200, the context
// expires, or the child exits early.
func (p *Process) waitReady(ctx context.Context) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-p.waitCh:
			// Put the result back for Stop to consume
			p.waitCh <- err
			return fmt.Errorf("server exited during startup: %v", err)
		case <-ticker.C:
			resp, err := client.Get(p.baseURL + "/health")
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// BaseURL returns the server's base URL, e.g. "http://localhost:43117"
func (p *Process) BaseURL() string {
	return p.baseURL
}

// Port returns the server's listen port
func (p *Process) Port() int {
	return p.port
}

// PID returns the child process ID
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Stop terminates the server and waits for it to exit. SIGTERM first, then
// SIGKILL once the shutdown timeout (or the context) expires. Safe to call
// after the process has already exited.
func (p *Process) Stop(ctx context.Context) error {
	select {
	case err := <-p.waitCh:
		// Already exited, nothing to signal
		p.waitCh <- err
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Raced with exit; reap below
		p.logger.Debug("SIGTERM failed", slog.String("error", err.Error()))
	}

	timeout := p.shutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-p.waitCh:
		p.waitCh <- err
		p.logger.Info("inference server stopped")
		return nil
	case <-timer.C:
		p.logger.Warn("inference server did not exit, killing")
		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill inference server: %w", err)
		}
		err := <-p.waitCh
		p.waitCh <- err
		return nil
	}
}

// forwardOutput streams a child pipe into the logger line by line
func forwardOutput(r io.Reader, logger *slog.Logger, stream string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Info("server: "+scanner.Text(), slog.String("stream", stream))
	}
}

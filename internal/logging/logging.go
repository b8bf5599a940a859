package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// contextKey is a type for context keys
type contextKey string

const (
	// RunIDKey is the context key for the sweep run ID
	RunIDKey contextKey = "run_id"
	// TrialIDKey is the context key for the trial ID
	TrialIDKey contextKey = "trial_id"
	// ServerPIDKey is the context key for the inference server PID
	ServerPIDKey contextKey = "server_pid"
)

// Config holds logging configuration
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
	Output io.Writer
}

// Setup configures the global logger
func Setup(cfg Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	// Wrap with context handler
	handler = &ContextHandler{Handler: handler}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// ContextHandler adds context values to log records
type ContextHandler struct {
	slog.Handler
}

// Handle adds context values to the record before passing to the wrapped handler
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		r.AddAttrs(slog.String("run_id", runID))
	}

	if trialID, ok := ctx.Value(TrialIDKey).(string); ok && trialID != "" {
		r.AddAttrs(slog.String("trial_id", trialID))
	}

	if pid, ok := ctx.Value(ServerPIDKey).(int); ok && pid != 0 {
		r.AddAttrs(slog.Int("server_pid", pid))
	}

	return h.Handler.Handle(ctx, r)
}

// WithRunID adds a sweep run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithTrialID adds a trial ID to the context
func WithTrialID(ctx context.Context, trialID string) context.Context {
	return context.WithValue(ctx, TrialIDKey, trialID)
}

// WithServerPID adds the inference server PID to the context
func WithServerPID(ctx context.Context, pid int) context.Context {
	return context.WithValue(ctx, ServerPIDKey, pid)
}

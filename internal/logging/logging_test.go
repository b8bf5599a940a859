package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := Setup(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	})

	logger.Info("test message", "key", "value")

	// Parse JSON output
	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "test message", logEntry["msg"])
	assert.Equal(t, "value", logEntry["key"])
	assert.Equal(t, "INFO", logEntry["level"])
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	Setup(Config{
		Level:  "info",
		Format: "text",
		Output: &buf,
	}).Info("test message", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
}

func TestSetup_LogLevels(t *testing.T) {
	tests := []struct {
		level   string
		logFunc func(l *slog.Logger, msg string, args ...any)
	}{
		{"debug", (*slog.Logger).Debug},
		{"info", (*slog.Logger).Info},
		{"warn", (*slog.Logger).Warn},
		{"error", (*slog.Logger).Error},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := Setup(Config{
				Level:  tt.level,
				Format: "json",
				Output: &buf,
			})

			tt.logFunc(logger, "test")

			assert.NotEmpty(t, buf.String())
		})
	}
}

func TestWithRunID(t *testing.T) {
	ctx := context.Background()
	ctx = WithRunID(ctx, "run-123")

	runID, ok := ctx.Value(RunIDKey).(string)
	assert.True(t, ok)
	assert.Equal(t, "run-123", runID)
}

func TestWithTrialID(t *testing.T) {
	ctx := context.Background()
	ctx = WithTrialID(ctx, "trial-456")

	trialID, ok := ctx.Value(TrialIDKey).(string)
	assert.True(t, ok)
	assert.Equal(t, "trial-456", trialID)
}

func TestWithServerPID(t *testing.T) {
	ctx := context.Background()
	ctx = WithServerPID(ctx, 4242)

	pid, ok := ctx.Value(ServerPIDKey).(int)
	assert.True(t, ok)
	assert.Equal(t, 4242, pid)
}

func TestContextHandler_AddsContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	})

	ctx := context.Background()
	ctx = WithRunID(ctx, "test-run-id")
	ctx = WithTrialID(ctx, "trial-456")
	ctx = WithServerPID(ctx, 4242)

	logger.InfoContext(ctx, "test message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var logEntry map[string]interface{}
	err := json.Unmarshal([]byte(lines[0]), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "test message", logEntry["msg"])
	assert.Equal(t, "test-run-id", logEntry["run_id"])
	assert.Equal(t, "trial-456", logEntry["trial_id"])
	assert.Equal(t, float64(4242), logEntry["server_pid"])
}

func TestContextHandler_PlainContextAddsNothing(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	})

	logger.InfoContext(context.Background(), "test message")

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &logEntry))
	assert.NotContains(t, logEntry, "run_id")
	assert.NotContains(t, logEntry, "trial_id")
	assert.NotContains(t, logEntry, "server_pid")
}

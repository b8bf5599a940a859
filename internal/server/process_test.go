package server

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAvailablePort(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 5; i++ {
		port, err := FindAvailablePort()
		require.NoError(t, err)
		assert.Greater(t, port, 0)
		assert.LessOrEqual(t, port, 65535)
		seen[port] = true
	}
	// The kernel hands out distinct ephemeral ports while none are reused
	assert.NotEmpty(t, seen)
}

func TestBuildArgs(t *testing.T) {
	args := BuildArgs(LaunchConfig{
		Port:          8123,
		TokenizerPath: "/fix/tokenizer.json",
		ConfigPath:    "/fix/config.json",
		CompiledPath:  "/fix/model.vmfb",
		WeightsPath:   "/fix/model.gguf",
		Device:        "hip",
		DeviceFlags: []string{
			"--iree-hal-target-backends=rocm",
			"--iree-hip-target=gfx942",
		},
	})

	assert.Equal(t, []string{
		"--port", "8123",
		"--tokenizer_json", "/fix/tokenizer.json",
		"--model_config", "/fix/config.json",
		"--vmfb", "/fix/model.vmfb",
		"--parameters", "/fix/model.gguf",
		"--device", "hip",
		"--iree-hal-target-backends=rocm",
		"--iree-hip-target=gfx942",
	}, args)
}

func TestBuildEnv_ScopedVisibleDevices(t *testing.T) {
	base := []string{"PATH=/usr/bin", "ROCR_VISIBLE_DEVICES=0,1", "HOME=/root"}

	env := buildEnv(base, "1")
	assert.Contains(t, env, "ROCR_VISIBLE_DEVICES=1")
	assert.NotContains(t, env, "ROCR_VISIBLE_DEVICES=0,1")
	assert.Contains(t, env, "PATH=/usr/bin")

	// Empty value strips any inherited entry rather than forwarding it
	env = buildEnv(base, "")
	for _, kv := range env {
		assert.NotContains(t, kv, "ROCR_VISIBLE_DEVICES")
	}
}

func TestBuildEnv_DoesNotMutateHarnessEnv(t *testing.T) {
	os.Unsetenv("ROCR_VISIBLE_DEVICES")

	_ = buildEnv(os.Environ(), "1")

	_, present := os.LookupEnv("ROCR_VISIBLE_DEVICES")
	assert.False(t, present, "device visibility must stay scoped to the child process")
}

// writeStubServer writes an executable that accepts any flags and sleeps,
// never opening a health endpoint.
func writeStubServer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub-server.sh")
	script := "#!/bin/sh\nsleep 60\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestLaunch_StartupTimeoutIsFatal(t *testing.T) {
	port, err := FindAvailablePort()
	require.NoError(t, err)

	start := time.Now()
	_, err = Launch(context.Background(), LaunchConfig{
		Executable:      writeStubServer(t),
		Port:            port,
		Device:          "local-task",
		StartupTimeout:  time.Second,
		ShutdownTimeout: 2 * time.Second,
	}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready within")
	// The stub sleeps for 60s; a bounded teardown proves it was killed
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestLaunch_ExitDuringStartupIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dying-server.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 3\n"), 0755))

	port, err := FindAvailablePort()
	require.NoError(t, err)

	_, err = Launch(context.Background(), LaunchConfig{
		Executable:     path,
		Port:           port,
		Device:         "local-task",
		StartupTimeout: 10 * time.Second,
	}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited during startup")
}

func TestLaunch_ChildOutputIsDrained(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dying-server.sh")
	script := "#!/bin/sh\necho 'model config missing'\nexit 3\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	port, err := FindAvailablePort()
	require.NoError(t, err)

	_, err = Launch(context.Background(), LaunchConfig{
		Executable:     path,
		Port:           port,
		Device:         "local-task",
		StartupTimeout: 10 * time.Second,
	}, logger)
	require.Error(t, err)

	// The child's final line must be forwarded before the exit is reaped
	assert.Contains(t, buf.String(), "model config missing")
}

func TestLaunch_MissingExecutable(t *testing.T) {
	_, err := Launch(context.Background(), LaunchConfig{
		Executable:     "/nonexistent/inference-server",
		Port:           8000,
		StartupTimeout: time.Second,
	}, nil)
	assert.Error(t, err)
}

func TestLaunch_Validation(t *testing.T) {
	_, err := Launch(context.Background(), LaunchConfig{Port: 8000}, nil)
	assert.Error(t, err)

	_, err = Launch(context.Background(), LaunchConfig{Executable: "/bin/true"}, nil)
	assert.Error(t, err)
}

func TestStop_AfterExitIsSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dying-server.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0755))

	port, err := FindAvailablePort()
	require.NoError(t, err)

	p, launchErr := Launch(context.Background(), LaunchConfig{
		Executable:     path,
		Port:           port,
		StartupTimeout: 5 * time.Second,
	}, nil)
	// The child exits immediately, so launch fails and reaps it internally
	require.Error(t, launchErr)
	require.Nil(t, p)
}

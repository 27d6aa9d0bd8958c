package docker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-sandbox/internal/executor"
)

func TestHostConfig(t *testing.T) {
	cfg := DefaultConfig()
	hc := hostConfig(cfg)

	assert.Equal(t, "none", string(hc.NetworkMode))
	assert.True(t, hc.ReadonlyRootfs)
	assert.Equal(t, []string{"ALL"}, []string(hc.CapDrop))
	assert.Contains(t, hc.SecurityOpt, "no-new-privileges")
	assert.Equal(t, cfg.MemoryLimit, hc.Memory)
	assert.Equal(t, cfg.MemoryLimit, hc.MemorySwap)
	assert.Equal(t, int64(5e8), hc.NanoCPUs)
	require.NotNil(t, hc.PidsLimit)
	assert.Equal(t, cfg.PidsLimit, *hc.PidsLimit)
	assert.Contains(t, hc.Tmpfs["/tmp"], "size=16m")

	cc := containerConfig(cfg)
	assert.Equal(t, "nobody", cc.User)
	assert.True(t, cc.NetworkDisabled)
	assert.Equal(t, cfg.Image, cc.Image)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Image: "python:3.13-slim", PoolSize: 1}.withDefaults()
	assert.Equal(t, "python:3.13-slim", cfg.Image)
	assert.Equal(t, 1, cfg.PoolSize)
	assert.Equal(t, "python3", cfg.Interpreter)
	assert.Equal(t, int64(128*1024*1024), cfg.MemoryLimit)
}

func TestDockerRuntime(t *testing.T) {
	// Needs a reachable docker daemon and network access for the image pull.
	if os.Getenv("SANDBOX_DOCKER_TESTS") != "1" {
		t.Skip("set SANDBOX_DOCKER_TESTS=1 to run docker tests")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := DefaultConfig()
	// reduce pool size for local test speed
	cfg.PoolSize = 1

	rt, err := New(context.Background(), cfg, logger)
	require.NoError(t, err, "Should initialize docker runtime without error")

	s, err := executor.NewSupervisor(executor.Config{
		Runtime: rt,
		Limits:  executor.Limits{TimeLimit: 3 * time.Second},
		Logger:  logger,
	})
	require.NoError(t, err)
	defer s.Close()

	run := func(src string) *executor.ExecutionResult {
		res, err := s.Execute(context.Background(), executor.ExecutionRequest{Source: src})
		require.NoError(t, err)
		return res
	}

	t.Run("successful execution", func(t *testing.T) {
		res := run(`print("Hello from test sandbox!")`)
		assert.Equal(t, executor.StatusCompleted, res.Status)
		assert.Equal(t, "Hello from test sandbox!\n", res.Stdout)
		assert.Empty(t, res.Stderr)
	})

	t.Run("syntax error", func(t *testing.T) {
		res := run(`print("Missing parenthesis"`)
		assert.Equal(t, executor.StatusRuntimeFailed, res.Status)
		assert.Equal(t, "SyntaxError", res.ErrorType)
		assert.Empty(t, res.Stdout)
	})

	t.Run("infinite loop timeout", func(t *testing.T) {
		start := time.Now()
		res := run(`while True: pass`)
		assert.Equal(t, executor.StatusTimedOut, res.Status)
		assert.Less(t, time.Since(start), 3*time.Second+executor.DefaultKillGrace+time.Second)
	})

	t.Run("denied import", func(t *testing.T) {
		res := run("import os; os.system('ls')")
		assert.Equal(t, executor.StatusRuntimeFailed, res.Status)
		assert.Contains(t, res.ErrorMessage, "os")
	})
}

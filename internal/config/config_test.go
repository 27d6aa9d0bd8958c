package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-sandbox/internal/config"
	"github.com/sakif/code-sandbox/internal/executor"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sandbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, config.RuntimeDocker, cfg.Sandbox.Runtime)
	assert.Equal(t, "nobody", cfg.Sandbox.User)
	assert.Equal(t, 5*time.Second, cfg.Sandbox.TimeLimit)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.MaxTimeLimit)
	assert.Equal(t, 65536, cfg.Sandbox.OutputLimit)
	assert.Equal(t, int64(128*1024*1024), cfg.Sandbox.MemoryLimit)
	assert.Equal(t, 10, cfg.Sandbox.MaxConcurrency)
	assert.Equal(t, executor.AdmitQueue, cfg.Sandbox.Admission)
	assert.Equal(t, 100, cfg.Sandbox.QueueLimit)
	assert.Equal(t, []string{"math"}, cfg.Sandbox.AllowedModules)
	assert.Contains(t, cfg.Sandbox.AllowedBuiltins, "print")
	assert.Equal(t, "data/sandbox.db", cfg.Storage.DBPath)
	assert.Empty(t, cfg.Auth.Secret)
	assert.Zero(t, cfg.RateLimit.RPS)

	allow, err := cfg.AllowList()
	require.NoError(t, err)
	assert.Equal(t, executor.DefaultAllowList().Builtins(), allow.Builtins())

	assert.Equal(t, executor.DefaultLimits(), cfg.Limits())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
sandbox:
  runtime: process
  user: sandbox
  time_limit: 2s
  admission: reject
  allowed_modules: [math, json]
auth:
  secret: s3cret
log:
  format: json
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, config.RuntimeProcess, cfg.Sandbox.Runtime)
	assert.Equal(t, "sandbox", cfg.Sandbox.User)
	assert.Equal(t, 2*time.Second, cfg.Sandbox.TimeLimit)
	assert.Equal(t, executor.AdmitReject, cfg.Sandbox.Admission)
	assert.Equal(t, []string{"math", "json"}, cfg.Sandbox.AllowedModules)
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Env(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("SANDBOX_SERVER_PORT", "7070")
	t.Setenv("SANDBOX_SANDBOX_TIME_LIMIT", "3s")
	t.Setenv("SANDBOX_AUTH_SECRET", "from-env")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Sandbox.TimeLimit)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("explicit file must exist", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	tests := map[string]string{
		"unknown runtime":   "sandbox:\n  runtime: vm\n",
		"unknown admission": "sandbox:\n  admission: lottery\n",
		"time over max":     "sandbox:\n  time_limit: 1m\n",
		"bad port":          "server:\n  port: 70000\n",
		"bad log level":     "log:\n  level: loud\n",
		"bad log format":    "log:\n  format: xml\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	t.Run("denied module fails the allow-list", func(t *testing.T) {
		cfg, err := config.Load(writeConfig(t, "sandbox:\n  allowed_modules: [os]\n"))
		require.NoError(t, err)
		_, err = cfg.AllowList()
		assert.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := config.LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

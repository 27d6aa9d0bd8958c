package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-sandbox/internal/auth"
	"github.com/sakif/code-sandbox/internal/executor"
	"github.com/sakif/code-sandbox/internal/metrics"
	"github.com/sakif/code-sandbox/internal/repository/sqlite"
	"github.com/sakif/code-sandbox/internal/service"
)

type stubExecutor struct{}

func (stubExecutor) Execute(_ context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	return &executor.ExecutionResult{
		ID:        "cell-1",
		Status:    executor.StatusCompleted,
		Stdout:    "2\n",
		StartedAt: time.Now(),
		Elapsed:   time.Millisecond,
	}, nil
}

func newTestServer(t *testing.T, tokens *auth.TokenService, rps float64) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	stats := func() executor.Stats { return executor.Stats{Live: 1, Capacity: 4} }
	metrics.RegisterLoad(reg, stats)

	s, err := New(Config{
		Port:           0,
		RateLimitRPS:   rps,
		RateLimitBurst: 1,
		Service:        service.NewExecutionService(stubExecutor{}, db, m, logger),
		Stats:          stats,
		Tokens:         tokens,
		Registry:       reg,
		Metrics:        m,
	}, logger)
	require.NoError(t, err)
	return s.Handler()
}

func do(h http.Handler, method, url, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, bytes.NewBufferString(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRoutes(t *testing.T) {
	h := newTestServer(t, nil, 0)

	for _, path := range []string{"/api/python-execute", "/api/execute"} {
		rr := do(h, http.MethodPost, path, `{"code":"print(1+1)"}`, nil)
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.JSONEq(t, `{"output":"2"}`, rr.Body.String(), path)
		assert.Equal(t, "cell-1", rr.Header().Get("X-Execution-ID"))
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	}

	rr := do(h, http.MethodOptions, "/api/python-execute", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Body.String())

	rr = do(h, http.MethodGet, "/healthz", "", nil)
	assert.JSONEq(t, `{"status":"ok","live":1,"queued":0}`, rr.Body.String())

	rr = do(h, http.MethodGet, "/api/executions/cell-1", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `sandbox_executions_total{status="Completed"} 2`)
	assert.Contains(t, rr.Body.String(), "sandbox_live_cells 1")
}

func TestHistoryRequiresToken(t *testing.T) {
	tokens, err := auth.NewTokenService("server-test-secret-0123456789")
	require.NoError(t, err)
	h := newTestServer(t, tokens, 0)

	rr := do(h, http.MethodGet, "/api/executions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := tokens.Generate("ops", time.Hour)
	require.NoError(t, err)
	rr = do(h, http.MethodGet, "/api/executions", "", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, rr.Code)

	// Executing code never needs a token.
	rr = do(h, http.MethodPost, "/api/execute", `{"code":"print(1+1)"}`, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimitedExecute(t *testing.T) {
	h := newTestServer(t, nil, 0.001)

	rr := do(h, http.MethodPost, "/api/execute", `{"code":"print(1+1)"}`, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(h, http.MethodPost, "/api/execute", `{"code":"print(1+1)"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "Too many requests"))

	// Health checks are not rate limited.
	rr = do(h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestNew_RequiresService(t *testing.T) {
	_, err := New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

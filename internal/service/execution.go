// Package service holds the application logic between the HTTP handlers and
// the sandbox and storage layers.
//
//	Handler → ExecutionService → executor.Executor (runs code)
//	                           → repository.ExecutionRepository (history)
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/code-sandbox/internal/apperror"
	"github.com/sakif/code-sandbox/internal/executor"
	"github.com/sakif/code-sandbox/internal/metrics"
	"github.com/sakif/code-sandbox/internal/model"
	"github.com/sakif/code-sandbox/internal/repository"
)

const (
	MaxCodeLength    = 100000 // ~100KB of code
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// persistTimeout bounds the best-effort history write after an execution.
const persistTimeout = 5 * time.Second

// ExecutionService validates submissions, runs them and records the results.
//
// The repository and metrics are optional: with a nil repository nothing is
// recorded and the history methods report ErrUnavailable.
type ExecutionService struct {
	exec    executor.Executor
	repo    repository.ExecutionRepository
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewExecutionService(exec executor.Executor, repo repository.ExecutionRepository, m *metrics.Metrics, logger *slog.Logger) *ExecutionService {
	return &ExecutionService{
		exec:    exec,
		repo:    repo,
		metrics: m,
		logger:  logger,
	}
}

// Execute runs code with the given limits (zero fields use the sandbox
// defaults). Statuses such as TimedOut or Busy are returned in the result;
// errors are validation failures or an unavailable sandbox.
func (s *ExecutionService) Execute(ctx context.Context, code string, limits executor.Limits) (*executor.ExecutionResult, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperror.ValidationFailed("code", "No code provided")
	}
	if len(code) > MaxCodeLength {
		return nil, apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxCodeLength))
	}

	res, err := s.exec.Execute(ctx, executor.ExecutionRequest{Source: code, Limits: limits})
	if err != nil {
		if errors.Is(err, executor.ErrClosed) {
			return nil, apperror.Unavailable("sandbox is shutting down", err)
		}
		s.logger.Error("execution failed on the host", slog.String("error", err.Error()))
		return nil, apperror.Unavailable("execution unavailable", err)
	}

	if s.metrics != nil {
		s.metrics.Observe(res)
	}
	s.logger.Info("execution finished",
		slog.String("id", res.ID),
		slog.String("status", string(res.Status)),
		slog.Duration("elapsed", res.Elapsed),
	)

	switch res.Status {
	case executor.StatusBusy, executor.StatusRejected:
	default:
		s.persist(ctx, code, res)
	}
	return res, nil
}

// persist stores res in the history. A failure is logged, not returned: the
// caller already has its result.
func (s *ExecutionService) persist(ctx context.Context, code string, res *executor.ExecutionResult) {
	if s.repo == nil {
		return
	}
	// The client may already be gone, but the record should still be written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	rec := &model.ExecutionRecord{
		ID:              res.ID,
		Code:            code,
		Status:          string(res.Status),
		Stdout:          res.Stdout,
		Stderr:          res.Stderr,
		StdoutTruncated: res.StdoutTruncated,
		StderrTruncated: res.StderrTruncated,
		ErrorMessage:    res.ErrorMessage,
		ErrorType:       res.ErrorType,
		ExitCode:        res.ExitCode,
		PeakMemory:      res.PeakMemory,
		ElapsedMs:       res.Elapsed.Milliseconds(),
		CreatedAt:       res.StartedAt.UTC(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		s.logger.Warn("failed to record execution",
			slog.String("id", res.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Get returns one recorded execution.
func (s *ExecutionService) Get(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	if s.repo == nil {
		return nil, apperror.Unavailable("execution history is disabled", nil)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "execution id is required")
	}
	return s.repo.GetByID(ctx, id)
}

// ExecutionPage is one page of the execution history.
type ExecutionPage struct {
	Executions []model.ExecutionRecord `json:"executions"`
	Total      int                     `json:"total"`
	Limit      int                     `json:"limit"`
	Offset     int                     `json:"offset"`
}

// List returns recorded executions newest first, optionally filtered by
// status. Total counts every record matching the filter.
func (s *ExecutionService) List(ctx context.Context, limit, offset int, status string) (*ExecutionPage, error) {
	if s.repo == nil {
		return nil, apperror.Unavailable("execution history is disabled", nil)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	if status != "" && !knownStatus(status) {
		return nil, apperror.ValidationFailed("status", fmt.Sprintf("unknown status %q", status))
	}

	records, err := s.repo.List(ctx, repository.ListOptions{Limit: limit, Offset: offset, Status: status})
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	total, err := s.repo.Count(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("counting executions: %w", err)
	}
	return &ExecutionPage{Executions: records, Total: total, Limit: limit, Offset: offset}, nil
}

func knownStatus(s string) bool {
	switch executor.Status(s) {
	case executor.StatusCompleted, executor.StatusTimedOut, executor.StatusMemoryExceeded,
		executor.StatusRuntimeFailed, executor.StatusKilled:
		return true
	}
	return false
}

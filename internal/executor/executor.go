// Package executor runs untrusted Python snippets inside single-use,
// resource-limited execution cells.
//
// THE PIECES:
//
//	Supervisor  → admission control (bounded concurrency, queue or reject)
//	Cell        → one run from launch to terminal status, never reused
//	Runtime     → launches the isolated process (local process or container)
//	AllowList   → the builtins and modules the snippet can name
//
// ISOLATION LIVES AT THE PROCESS BOUNDARY:
// Every cell runs in its own OS process (or docker container). Deadlines are
// enforced from the outside by killing that process, not by asking the code
// to stop. The allow-list only shapes the namespace the harness builds for the
// snippet; it is a convenience, not a security boundary.
package executor

import (
	"context"
	"errors"
	"time"
)

// Status is the terminal state of an execution.
type Status string

const (
	StatusCompleted      Status = "Completed"
	StatusTimedOut       Status = "TimedOut"
	StatusMemoryExceeded Status = "MemoryExceeded"
	StatusRuntimeFailed  Status = "RuntimeFailed"
	StatusKilled         Status = "Killed"
	StatusRejected       Status = "Rejected"
	StatusBusy           Status = "Busy"
)

// Default limits applied when a request leaves a field zero.
const (
	DefaultTimeLimit      = 5 * time.Second
	DefaultMaxTimeLimit   = 30 * time.Second
	DefaultOutputLimit    = 64 * 1024
	DefaultMemoryLimit    = 128 * 1024 * 1024
	DefaultSampleInterval = 50 * time.Millisecond
	DefaultKillGrace      = time.Second
)

// TruncationMarker is appended to a stream that hit its output limit.
const TruncationMarker = "\n... [output truncated]"

var (
	// ErrClosed is returned by Execute once the supervisor has been closed.
	ErrClosed = errors.New("executor: supervisor closed")

	// ErrMemoryUnsupported is returned by Process.MemoryUsage when the runtime
	// cannot sample memory and relies on its own enforcement instead.
	ErrMemoryUnsupported = errors.New("executor: memory sampling unsupported")
)

// Limits are the resource ceilings of one execution.
type Limits struct {
	TimeLimit   time.Duration `json:"timeLimit"`
	OutputLimit int           `json:"outputLimit"`
	MemoryLimit int64         `json:"memoryLimit"`
}

// withDefaults fills zero fields from def and clamps the time limit.
func (l Limits) withDefaults(def Limits, maxTime time.Duration) Limits {
	if l.TimeLimit <= 0 {
		l.TimeLimit = def.TimeLimit
	}
	if maxTime > 0 && l.TimeLimit > maxTime {
		l.TimeLimit = maxTime
	}
	if l.OutputLimit <= 0 {
		l.OutputLimit = def.OutputLimit
	}
	if l.MemoryLimit <= 0 {
		l.MemoryLimit = def.MemoryLimit
	}
	return l
}

// DefaultLimits returns the limits used when nothing is configured.
func DefaultLimits() Limits {
	return Limits{
		TimeLimit:   DefaultTimeLimit,
		OutputLimit: DefaultOutputLimit,
		MemoryLimit: DefaultMemoryLimit,
	}
}

// ExecutionRequest represents a request to execute Python code.
type ExecutionRequest struct {
	Source string `json:"code"`
	Limits Limits `json:"limits"`
}

// ExecutionResult is the terminal report of one execution. It is built once
// and not modified after it is returned.
type ExecutionResult struct {
	ID              string        `json:"id"`
	Status          Status        `json:"status"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	StdoutTruncated bool          `json:"stdoutTruncated"`
	StderrTruncated bool          `json:"stderrTruncated"`
	ErrorMessage    string        `json:"errorMessage,omitempty"`
	ErrorType       string        `json:"errorType,omitempty"`
	ExitCode        int           `json:"exitCode"`
	PeakMemory      int64         `json:"peakMemory"`
	Limits          Limits        `json:"limits"`
	StartedAt       time.Time     `json:"startedAt"`
	Elapsed         time.Duration `json:"elapsed"`
}

// OK reports whether the code ran to completion within all limits.
func (r *ExecutionResult) OK() bool {
	return r.Status == StatusCompleted
}

// Executor represents the core interface for running code in an isolated environment.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

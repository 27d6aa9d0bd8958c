package executor

import (
	"context"
	"io"
)

// LaunchSpec describes one interpreter process to start.
//
// Args are the interpreter arguments (the runtime picks the interpreter
// binary). Stdin carries the snippet source. Stdout and Stderr receive the raw
// streams; the runtime must have finished writing to them when Wait returns.
type LaunchSpec struct {
	CellID string
	Args   []string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Limits Limits
}

// ExitState describes how a process ended.
type ExitState struct {
	Code      int
	Signal    string // e.g. "SIGKILL"; empty when the process exited on its own
	OOMKilled bool   // set by runtimes that enforce memory in a cgroup
}

// Process is a running cell process.
type Process interface {
	// Wait blocks until the process has exited and its output is drained.
	Wait() (ExitState, error)
	// Kill terminates the process and everything it started. Safe to call
	// more than once and after exit.
	Kill() error
	// MemoryUsage returns current resident memory in bytes, or
	// ErrMemoryUnsupported.
	MemoryUsage() (int64, error)
}

// Runtime launches isolated processes.
type Runtime interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
	Close() error
}

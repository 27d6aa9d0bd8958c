package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
)

// errCellUsed is returned when Run is called a second time on a Cell.
var errCellUsed = errors.New("executor: cell already used")

// CellConfig holds everything a Cell needs for one run.
type CellConfig struct {
	Runtime        Runtime
	AllowList      *AllowList
	Limits         Limits
	SampleInterval time.Duration
	KillGrace      time.Duration
	Logger         *slog.Logger
}

// Cell is one single-use execution: it launches an interpreter process, races
// the process against its deadline, memory ceiling and the caller's context,
// and classifies how it ended.
//
// WATCHDOG:
// A single goroutine owns the decision. It selects over process exit, the
// deadline timer, the sampling ticker and ctx.Done(). Whichever fires first
// decides; the process is killed unconditionally on every path but a clean
// exit, and the cell then waits at most KillGrace for it to be reaped.
type Cell struct {
	id   string
	cfg  CellConfig
	used atomic.Bool
}

// NewCell creates a cell with a fresh id. Zero config fields take defaults.
func NewCell(cfg CellConfig) *Cell {
	if cfg.AllowList == nil {
		cfg.AllowList = DefaultAllowList()
	}
	cfg.Limits = cfg.Limits.withDefaults(DefaultLimits(), 0)
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cell{id: xid.New().String(), cfg: cfg}
}

// ID returns the cell id, which is also the id of its result.
func (c *Cell) ID() string { return c.id }

// Run executes source and returns its terminal result. A returned error means
// the host could not run the cell at all; everything that happens to the
// snippet is reported through the result.
func (c *Cell) Run(ctx context.Context, source string) (*ExecutionResult, error) {
	if !c.used.CompareAndSwap(false, true) {
		return nil, errCellUsed
	}

	limits := c.cfg.Limits
	result := &ExecutionResult{
		ID:        c.id,
		Limits:    limits,
		StartedAt: time.Now(),
	}

	if strings.TrimSpace(source) == "" {
		result.Status = StatusRejected
		result.ErrorMessage = "No code provided"
		return result, nil
	}

	token := xid.New().String()
	args, err := harnessArgs(token, c.cfg.AllowList, limits)
	if err != nil {
		return nil, err
	}

	stdout := newBoundedBuffer(limits.OutputLimit)
	stderr := newBoundedBuffer(limits.OutputLimit)
	split := newReportSplitter(stderr, reportMarker(token))

	logger := c.cfg.Logger.With(slog.String("cell", c.id))

	proc, err := c.cfg.Runtime.Launch(ctx, LaunchSpec{
		CellID: c.id,
		Args:   args,
		Env:    []string{"LANG=C.UTF-8"},
		Stdin:  strings.NewReader(source),
		Stdout: stdout,
		Stderr: split,
		Limits: limits,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: launching cell %s: %w", c.id, err)
	}
	launched := time.Now()
	logger.Debug("cell launched", slog.Duration("time_limit", limits.TimeLimit))

	o, peak, err := c.watch(ctx, proc, launched, logger)
	if err != nil {
		return nil, fmt.Errorf("executor: waiting for cell %s: %w", c.id, err)
	}
	_ = split.Flush()
	o.report, _ = split.Report()

	v := classify(o, limits)
	result.Status = v.status
	result.ErrorType = v.errType
	result.ErrorMessage = v.message
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.StdoutTruncated = stdout.Truncated()
	result.StderrTruncated = stderr.Truncated()
	result.ExitCode = o.exit.Code
	result.PeakMemory = peak
	result.Elapsed = time.Since(launched)

	logger.Debug("cell finished",
		slog.String("status", string(result.Status)),
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

type waitResult struct {
	state ExitState
	err   error
}

// watch blocks until the process has ended or been killed and returns what it
// observed along with the peak sampled memory.
func (c *Cell) watch(ctx context.Context, proc Process, launched time.Time, logger *slog.Logger) (outcome, int64, error) {
	limits := c.cfg.Limits
	deadline := launched.Add(limits.TimeLimit)

	done := make(chan waitResult, 1)
	go func() {
		state, err := proc.Wait()
		done <- waitResult{state, err}
	}()

	timer := time.NewTimer(limits.TimeLimit)
	defer timer.Stop()
	ticker := time.NewTicker(c.cfg.SampleInterval)
	defer ticker.Stop()
	sample := ticker.C

	var (
		o    outcome
		peak int64
	)

	for {
		select {
		case w := <-done:
			o.exit = w.state
			return o, peak, w.err

		case <-timer.C:
			o.timedOut = true
			logger.Info("cell deadline reached, killing", slog.Duration("time_limit", limits.TimeLimit))
			return c.kill(proc, done, o, peak, logger)

		case <-ctx.Done():
			o.cancelled = true
			logger.Info("cell cancelled, killing", slog.String("reason", context.Cause(ctx).Error()))
			return c.kill(proc, done, o, peak, logger)

		case now := <-sample:
			rss, err := proc.MemoryUsage()
			if errors.Is(err, ErrMemoryUnsupported) {
				sample = nil
				continue
			}
			if err != nil {
				// The process may have exited between the tick and the read.
				continue
			}
			peak = max(peak, rss)
			if rss > limits.MemoryLimit {
				if now.Before(deadline) {
					o.memExceeded = true
				} else {
					o.timedOut = true
				}
				logger.Info("cell over memory limit, killing",
					slog.Int64("rss", rss),
					slog.Int64("memory_limit", limits.MemoryLimit),
				)
				return c.kill(proc, done, o, peak, logger)
			}
		}
	}
}

// kill terminates proc and waits up to KillGrace for it to be reaped. Wait
// errors after a kill are expected and not reported.
func (c *Cell) kill(proc Process, done <-chan waitResult, o outcome, peak int64, logger *slog.Logger) (outcome, int64, error) {
	if err := proc.Kill(); err != nil {
		logger.Warn("failed to kill cell process", slog.String("error", err.Error()))
	}

	grace := time.NewTimer(c.cfg.KillGrace)
	defer grace.Stop()

	select {
	case w := <-done:
		o.exit = w.state
	case <-grace.C:
		logger.Warn("cell process not reaped within kill grace", slog.Duration("kill_grace", c.cfg.KillGrace))
	}
	return o, peak, nil
}

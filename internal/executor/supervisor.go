package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/semaphore"
)

// Admission policies.
const (
	AdmitQueue  = "queue"
	AdmitReject = "reject"
)

// Default admission settings.
const (
	DefaultMaxConcurrency = 10
	DefaultQueueLimit     = 100
)

// Config configures a Supervisor.
type Config struct {
	Runtime        Runtime
	AllowList      *AllowList
	Limits         Limits        // per-request defaults
	MaxTimeLimit   time.Duration // upper bound for a requested TimeLimit
	MaxConcurrency int
	Admission      string // AdmitQueue or AdmitReject
	QueueLimit     int
	SampleInterval time.Duration
	KillGrace      time.Duration
	Logger         *slog.Logger
}

// Stats is a snapshot of the supervisor's load.
type Stats struct {
	Live     int    `json:"live"`
	Queued   int    `json:"queued"`
	Admitted uint64 `json:"admitted"`
	Capacity int    `json:"capacity"`
}

// Supervisor admits execution requests and runs each one in a fresh Cell.
//
// ADMISSION:
// At most MaxConcurrency cells run at once. With the queue policy, further
// requests wait in FIFO order on a weighted semaphore, up to QueueLimit
// waiters; beyond that they are answered Busy. With the reject policy a
// request that finds no free slot is answered Busy straight away.
//
// Supervisor implements Executor.
type Supervisor struct {
	cfg    Config
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu       sync.Mutex
	live     int
	queued   int
	admitted uint64
	closed   bool

	wg       sync.WaitGroup
	shutdown context.Context
	stop     context.CancelFunc
}

var _ Executor = (*Supervisor)(nil)

// NewSupervisor validates cfg, fills defaults and returns a ready supervisor.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	if cfg.Runtime == nil {
		return nil, errors.New("executor: runtime is required")
	}
	if cfg.AllowList == nil {
		cfg.AllowList = DefaultAllowList()
	}
	if cfg.MaxTimeLimit <= 0 {
		cfg.MaxTimeLimit = DefaultMaxTimeLimit
	}
	cfg.Limits = cfg.Limits.withDefaults(DefaultLimits(), cfg.MaxTimeLimit)
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	switch cfg.Admission {
	case "":
		cfg.Admission = AdmitQueue
	case AdmitQueue, AdmitReject:
	default:
		return nil, fmt.Errorf("executor: unknown admission policy %q", cfg.Admission)
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = DefaultQueueLimit
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	shutdown, stop := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger:   cfg.Logger,
		shutdown: shutdown,
		stop:     stop,
	}, nil
}

// Execute runs req in its own cell. Busy and Rejected requests are returned
// as results, not errors; an error means the supervisor is closed (ErrClosed)
// or the host could not launch the cell.
func (s *Supervisor) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	limits := req.Limits.withDefaults(s.cfg.Limits, s.cfg.MaxTimeLimit)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if strings.TrimSpace(req.Source) == "" {
		s.mu.Unlock()
		return s.refuse(StatusRejected, "No code provided", limits), nil
	}
	s.wg.Add(1)
	defer s.wg.Done()

	// Cancelled by the caller or by Close, whichever comes first.
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	unhook := context.AfterFunc(s.shutdown, func() { cancel(ErrClosed) })
	defer unhook()

	if !s.sem.TryAcquire(1) {
		if s.cfg.Admission == AdmitReject || s.queued >= s.cfg.QueueLimit {
			s.mu.Unlock()
			return s.refuse(StatusBusy, "sandbox is at capacity", limits), nil
		}
		s.queued++
		s.mu.Unlock()

		err := s.sem.Acquire(runCtx, 1)

		s.mu.Lock()
		s.queued--
		if err != nil {
			s.mu.Unlock()
			return s.refuse(StatusKilled, "execution was cancelled while queued", limits), nil
		}
	}
	s.live++
	s.admitted++
	s.mu.Unlock()

	defer func() {
		s.sem.Release(1)
		s.mu.Lock()
		s.live--
		s.mu.Unlock()
	}()

	cell := NewCell(CellConfig{
		Runtime:        s.cfg.Runtime,
		AllowList:      s.cfg.AllowList,
		Limits:         limits,
		SampleInterval: s.cfg.SampleInterval,
		KillGrace:      s.cfg.KillGrace,
		Logger:         s.logger,
	})
	return cell.Run(runCtx, req.Source)
}

func (s *Supervisor) refuse(status Status, msg string, limits Limits) *ExecutionResult {
	return &ExecutionResult{
		ID:           xid.New().String(),
		Status:       status,
		ErrorMessage: msg,
		Limits:       limits,
		StartedAt:    time.Now(),
	}
}

// Stats returns a snapshot of live and queued cells.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Live:     s.live,
		Queued:   s.queued,
		Admitted: s.admitted,
		Capacity: s.cfg.MaxConcurrency,
	}
}

// Close stops admitting requests, kills running and queued cells, waits for
// them to finish and closes the runtime. It is safe to call more than once.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()
	return s.cfg.Runtime.Close()
}

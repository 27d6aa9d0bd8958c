//go:build unix

// Package process runs execution cells as local interpreter processes.
//
// Each launch re-executes the server binary as a jail (see Jail) that drops
// to an unprivileged user, installs a syscall filter and then execs the
// interpreter. A cell gets its own process group, an empty temporary working
// directory and a minimal environment; the whole group is killed when the
// cell ends. Resource ceilings (address space, CPU seconds, no forking, no
// file writes) are applied by the harness through rlimits before the snippet
// runs.
//
// Reads of world-readable host files stay possible, so this runtime suits
// development and trusted hosts; the docker runtime is the default.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sakif/code-sandbox/internal/executor"
)

// pipeDrain bounds how long Wait waits for output pipes after exit.
const pipeDrain = 500 * time.Millisecond

// Config configures the process runtime.
type Config struct {
	Interpreter string // name or path; resolved with exec.LookPath
	WorkDir     string // parent of the per-cell temp directories; os.TempDir() when empty

	// User is the account cells run as when the server runs as root. It is
	// required in that case. A non-root server cannot switch users and runs
	// cells under its own ids.
	User string

	// Helper is the binary re-executed as the jail; os.Executable() when
	// empty. It must call Jail first thing in main.
	Helper string
}

// Runtime implements executor.Runtime with os/exec.
type Runtime struct {
	interpreter string
	helper      string
	workDir     string
	uid, gid    int
	logger      *slog.Logger
}

var _ executor.Runtime = (*Runtime)(nil)

// New resolves the interpreter and returns a Runtime.
func New(cfg Config, logger *slog.Logger) (*Runtime, error) {
	name := cfg.Interpreter
	if name == "" {
		name = "python3"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("process: interpreter %q not found: %w", name, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	helper := cfg.Helper
	if helper == "" {
		if helper, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("process: locating jail helper: %w", err)
		}
	}

	uid, gid, err := cellIDs(cfg.User, logger)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		interpreter: path,
		helper:      helper,
		workDir:     cfg.WorkDir,
		uid:         uid,
		gid:         gid,
		logger:      logger,
	}, nil
}

// cellIDs resolves the uid and gid cells switch to, or -1 for both when the
// server is not root.
func cellIDs(name string, logger *slog.Logger) (int, int, error) {
	if os.Geteuid() != 0 {
		if name != "" {
			logger.Debug("not running as root, cells keep the server's user",
				slog.String("user", name), slog.Int("uid", os.Geteuid()))
		}
		return -1, -1, nil
	}
	if name == "" {
		return 0, 0, errors.New("process: refusing to run cells as root, set a user to run them as")
	}

	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, fmt.Errorf("process: looking up cell user: %w", err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("process: cell user %q has uid %q: %w", name, u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("process: cell user %q has gid %q: %w", name, u.Gid, err)
	}
	if uid == 0 {
		return 0, 0, fmt.Errorf("process: cell user %q is root", name)
	}
	return uid, gid, nil
}

// Interpreter returns the resolved interpreter path.
func (r *Runtime) Interpreter() string { return r.interpreter }

// Launch starts the interpreter with spec.Args inside the jail.
func (r *Runtime) Launch(ctx context.Context, spec executor.LaunchSpec) (executor.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(r.workDir, "cell-"+spec.CellID+"-")
	if err != nil {
		return nil, fmt.Errorf("process: creating work dir: %w", err)
	}

	cmd := exec.Command(r.helper, jailArgs(r.uid, r.gid, r.interpreter, spec.Args)...)
	cmd.Dir = dir
	cmd.Env = spec.Env
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = pipeDrain

	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("process: starting interpreter: %w", err)
	}
	r.logger.Debug("process started", slog.String("cell", spec.CellID), slog.Int("pid", cmd.Process.Pid))

	return &proc{cmd: cmd, dir: dir, pid: cmd.Process.Pid, logger: r.logger}, nil
}

// Close is a no-op; processes are owned by their cells.
func (r *Runtime) Close() error { return nil }

type proc struct {
	cmd    *exec.Cmd
	dir    string
	pid    int
	logger *slog.Logger

	cleanup sync.Once
	exited  atomic.Bool
}

// Pid is the cell leader's pid, which is also its process group id.
func (p *proc) Pid() int { return p.pid }

// Wait reaps the leader and kills whatever is left in its group. The group id
// stays reserved while any member lives, so the kill cannot reach another
// process.
func (p *proc) Wait() (executor.ExitState, error) {
	err := p.cmd.Wait()
	p.killGroup()
	p.exited.Store(true)
	p.cleanup.Do(func() {
		if rmErr := os.RemoveAll(p.dir); rmErr != nil {
			p.logger.Warn("failed to remove cell work dir", slog.String("dir", p.dir), slog.String("error", rmErr.Error()))
		}
	})

	if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return executor.ExitState{}, fmt.Errorf("process: wait: %w", err)
		}
	}
	return exitState(p.cmd.ProcessState), nil
}

func exitState(ps *os.ProcessState) executor.ExitState {
	if ps == nil {
		return executor.ExitState{Code: -1}
	}
	state := executor.ExitState{Code: ps.ExitCode()}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		state.Signal = unix.SignalName(ws.Signal())
	}
	return state
}

func (p *proc) killGroup() {
	err := unix.Kill(-p.pid, unix.SIGKILL)
	switch {
	case err == nil:
		p.logger.Warn("killed processes left behind by cell", slog.Int("pgid", p.pid))
	case !errors.Is(err, unix.ESRCH):
		p.logger.Warn("failed to kill cell process group", slog.Int("pgid", p.pid), slog.String("error", err.Error()))
	}
}

// Kill sends SIGKILL to the cell's process group. Wait has already emptied
// the group by the time it returns, so Kill does nothing after that.
func (p *proc) Kill() error {
	if p.exited.Load() {
		return nil
	}
	err := unix.Kill(-p.pid, unix.SIGKILL)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("process: kill group %d: %w", p.pid, err)
	}
	return nil
}

func (p *proc) MemoryUsage() (int64, error) {
	return residentMemory(p.pid)
}

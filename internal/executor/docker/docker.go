// Package docker runs execution cells inside single-use docker containers
// drawn from a pool of pre-started ones.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/sys/unix"

	"github.com/sakif/code-sandbox/internal/executor"
)

// Runtime implements executor.Runtime on top of the Docker engine.
type Runtime struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *Pool
}

var _ executor.Runtime = (*Runtime)(nil)

// New connects to the engine, makes sure the image is present and starts the
// container pool.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Runtime, error) {
	cfg = cfg.withDefaults()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: create client: %w", err)
	}

	pullCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	logger.Info("ensuring docker image is available", slog.String("image", cfg.Image))
	reader, err := cli.ImagePull(pullCtx, cfg.Image, image.PullOptions{})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker: pull image: %w", err)
	}
	// Read everything to block until the pull is complete
	_, _ = io.Copy(io.Discard, reader)
	reader.Close()
	logger.Info("docker image is ready")

	rt := &Runtime{
		cli:    cli,
		config: cfg,
		logger: logger,
		pool:   NewPool(cli, cfg, logger),
	}
	rt.pool.Start()
	return rt, nil
}

// Close shuts down the pool and the docker client.
func (r *Runtime) Close() error {
	r.pool.Stop()
	return r.cli.Close()
}

// Launch takes a container from the pool and execs the interpreter in it with
// the snippet on stdin.
func (r *Runtime) Launch(ctx context.Context, spec executor.LaunchSpec) (executor.Process, error) {
	id, err := r.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("docker: get container from pool: %w", err)
	}

	execResp, err := r.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          append([]string{r.config.Interpreter}, spec.Args...),
		Env:          spec.Env,
		WorkingDir:   "/tmp",
	})
	if err != nil {
		r.pool.Remove(id)
		return nil, fmt.Errorf("docker: create exec: %w", err)
	}

	attach, err := r.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		r.pool.Remove(id)
		return nil, fmt.Errorf("docker: attach exec: %w", err)
	}

	p := &proc{
		rt:          r,
		containerID: id,
		execID:      execResp.ID,
		done:        make(chan struct{}),
		closeConn:   attach.Close,
	}

	go func() {
		if spec.Stdin != nil {
			_, _ = io.Copy(attach.Conn, spec.Stdin)
		}
		_ = attach.CloseWrite()
	}()
	go func() {
		// Use stdcopy to demultiplex stdout from stderr
		_, _ = stdcopy.StdCopy(spec.Stdout, spec.Stderr, attach.Reader)
		close(p.done)
	}()

	r.logger.Debug("container exec started", slog.String("cell", spec.CellID), slog.String("container", id))
	return p, nil
}

type proc struct {
	rt          *Runtime
	containerID string
	execID      string
	done        chan struct{}
	closeConn   func()

	killOnce    sync.Once
	releaseOnce sync.Once
}

// Wait returns once the exec's output stream has ended. The container is
// removed before Wait returns.
func (p *proc) Wait() (executor.ExitState, error) {
	<-p.done
	defer p.release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var state executor.ExitState
	ins, err := p.rt.cli.ContainerExecInspect(ctx, p.execID)
	if err != nil {
		return state, fmt.Errorf("docker: inspect exec: %w", err)
	}
	state.Code = ins.ExitCode
	if state.Code > 128 {
		state.Signal = unix.SignalName(syscall.Signal(state.Code - 128))
	}

	c, err := p.rt.cli.ContainerInspect(ctx, p.containerID)
	if err != nil {
		p.rt.logger.Debug("container inspect failed", slog.String("container", p.containerID), slog.String("error", err.Error()))
		return state, nil
	}
	if c.State != nil {
		state.OOMKilled = c.State.OOMKilled
	}
	return state, nil
}

// Kill stops the whole container; the cell never reuses it.
func (p *proc) Kill() error {
	var err error
	p.killOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = p.rt.cli.ContainerKill(ctx, p.containerID, "KILL")
		p.closeConn()
	})
	if err != nil {
		return fmt.Errorf("docker: kill container: %w", err)
	}
	return nil
}

// MemoryUsage is not sampled; the container's cgroup limit enforces memory
// and Wait reports OOM kills.
func (p *proc) MemoryUsage() (int64, error) {
	return 0, executor.ErrMemoryUnsupported
}

func (p *proc) release() {
	p.releaseOnce.Do(func() {
		p.closeConn()
		p.rt.pool.Remove(p.containerID)
	})
}

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/code-sandbox/internal/config"
	"github.com/sakif/code-sandbox/internal/executor"
	"github.com/sakif/code-sandbox/internal/executor/docker"
	"github.com/sakif/code-sandbox/internal/executor/process"
)

// newRuntime builds the runtime named by sandbox.runtime.
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (executor.Runtime, error) {
	switch cfg.Sandbox.Runtime {
	case config.RuntimeDocker:
		rt, err := docker.New(ctx, docker.Config{
			Image:       cfg.Docker.Image,
			Interpreter: cfg.Sandbox.Interpreter,
			MemoryLimit: cfg.Sandbox.MemoryLimit,
			CPULimit:    cfg.Docker.CPULimit,
			PoolSize:    cfg.Docker.PoolSize,
			PidsLimit:   cfg.Docker.PidsLimit,
		}, logger)
		if err != nil {
			return nil, err
		}
		return rt, nil
	case config.RuntimeProcess:
		rt, err := process.New(process.Config{
			Interpreter: cfg.Sandbox.Interpreter,
			User:        cfg.Sandbox.User,
		}, logger)
		if err != nil {
			return nil, err
		}
		return rt, nil
	}
	return nil, fmt.Errorf("unknown runtime %q", cfg.Sandbox.Runtime)
}

// newSupervisor builds the runtime and the supervisor that owns it. Closing
// the supervisor closes the runtime.
func newSupervisor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*executor.Supervisor, error) {
	allow, err := cfg.AllowList()
	if err != nil {
		return nil, fmt.Errorf("building allow-list: %w", err)
	}

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("starting %s runtime: %w", cfg.Sandbox.Runtime, err)
	}

	sup, err := executor.NewSupervisor(executor.Config{
		Runtime:        rt,
		AllowList:      allow,
		Limits:         cfg.Limits(),
		MaxTimeLimit:   cfg.Sandbox.MaxTimeLimit,
		MaxConcurrency: cfg.Sandbox.MaxConcurrency,
		Admission:      cfg.Sandbox.Admission,
		QueueLimit:     cfg.Sandbox.QueueLimit,
		SampleInterval: cfg.Sandbox.SampleInterval,
		KillGrace:      cfg.Sandbox.KillGrace,
		Logger:         logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return sup, nil
}

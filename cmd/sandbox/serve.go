package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/sakif/code-sandbox/internal/auth"
	"github.com/sakif/code-sandbox/internal/config"
	"github.com/sakif/code-sandbox/internal/metrics"
	"github.com/sakif/code-sandbox/internal/repository"
	"github.com/sakif/code-sandbox/internal/repository/sqlite"
	"github.com/sakif/code-sandbox/internal/server"
	"github.com/sakif/code-sandbox/internal/service"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sandbox HTTP server",
	Long: `Start the HTTP server. Code is posted to /api/python-execute or /api/execute,
the execution history is under /api/executions, Prometheus metrics at /metrics.

Examples:
  sandbox serve
  sandbox serve --port 9090
  SANDBOX_SANDBOX_RUNTIME=docker sandbox serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}
	logger := cfg.Log.NewLogger(os.Stdout)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup, err := newSupervisor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sup.Close(); err != nil {
			logger.Warn("closing sandbox", slog.String("error", err.Error()))
		}
	}()

	// History is optional: an empty storage.db_path disables it.
	var repo repository.ExecutionRepository
	if cfg.Storage.DBPath != "" {
		db, err := sqlite.New(cfg.Storage.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
		repo = db
	} else {
		logger.Warn("storage.db_path is empty, execution history is disabled")
	}

	var tokens *auth.TokenService
	if cfg.Auth.Secret != "" {
		tokens, err = auth.NewTokenService(cfg.Auth.Secret)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	metrics.RegisterLoad(reg, sup.Stats)

	srv, err := server.New(server.Config{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RateLimitRPS:    cfg.RateLimit.RPS,
		RateLimitBurst:  cfg.RateLimit.Burst,
		Service:         service.NewExecutionService(sup, repo, m, logger),
		Stats:           sup.Stats,
		Tokens:          tokens,
		Registry:        reg,
		Metrics:         m,
	}, logger)
	if err != nil {
		return err
	}

	logger.Info("sandbox ready",
		slog.String("runtime", cfg.Sandbox.Runtime),
		slog.Int("max_concurrency", cfg.Sandbox.MaxConcurrency),
		slog.String("admission", cfg.Sandbox.Admission),
		slog.Duration("time_limit", cfg.Sandbox.TimeLimit),
	)
	return srv.Run(ctx)
}

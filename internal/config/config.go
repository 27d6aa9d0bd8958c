// Package config loads the sandbox configuration from an optional YAML file
// and SANDBOX_* environment variables.
//
// PRECEDENCE (highest first):
//
//	command-line flags (applied by the caller) → environment → sandbox.yaml → defaults
//
// Nested keys map to variables by upper-casing and replacing dots with
// underscores: sandbox.time_limit is SANDBOX_SANDBOX_TIME_LIMIT, auth.secret is
// SANDBOX_AUTH_SECRET.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sakif/code-sandbox/internal/executor"
)

// Runtime names. The process runtime runs cells on the host under a syscall
// filter and is meant for development; docker is the default.
const (
	RuntimeProcess = "process"
	RuntimeDocker  = "docker"
)

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type SandboxConfig struct {
	Runtime         string        `mapstructure:"runtime"`
	Interpreter     string        `mapstructure:"interpreter"`
	User            string        `mapstructure:"user"`
	TimeLimit       time.Duration `mapstructure:"time_limit"`
	MaxTimeLimit    time.Duration `mapstructure:"max_time_limit"`
	OutputLimit     int           `mapstructure:"output_limit"`
	MemoryLimit     int64         `mapstructure:"memory_limit"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	Admission       string        `mapstructure:"admission"`
	QueueLimit      int           `mapstructure:"queue_limit"`
	SampleInterval  time.Duration `mapstructure:"sample_interval"`
	KillGrace       time.Duration `mapstructure:"kill_grace"`
	AllowedBuiltins []string      `mapstructure:"allowed_builtins"`
	AllowedModules  []string      `mapstructure:"allowed_modules"`
}

type DockerConfig struct {
	Image     string  `mapstructure:"image"`
	CPULimit  float64 `mapstructure:"cpu_limit"`
	PoolSize  int     `mapstructure:"pool_size"`
	PidsLimit int64   `mapstructure:"pids_limit"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Log       LogConfig       `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	allow := executor.DefaultAllowList()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("sandbox.runtime", RuntimeDocker)
	v.SetDefault("sandbox.interpreter", "python3")
	v.SetDefault("sandbox.user", "nobody")
	v.SetDefault("sandbox.time_limit", executor.DefaultTimeLimit)
	v.SetDefault("sandbox.max_time_limit", executor.DefaultMaxTimeLimit)
	v.SetDefault("sandbox.output_limit", executor.DefaultOutputLimit)
	v.SetDefault("sandbox.memory_limit", executor.DefaultMemoryLimit)
	v.SetDefault("sandbox.max_concurrency", executor.DefaultMaxConcurrency)
	v.SetDefault("sandbox.admission", executor.AdmitQueue)
	v.SetDefault("sandbox.queue_limit", executor.DefaultQueueLimit)
	v.SetDefault("sandbox.sample_interval", executor.DefaultSampleInterval)
	v.SetDefault("sandbox.kill_grace", executor.DefaultKillGrace)
	v.SetDefault("sandbox.allowed_builtins", allow.Builtins())
	v.SetDefault("sandbox.allowed_modules", allow.Modules())

	v.SetDefault("docker.image", "python:3.12-alpine")
	v.SetDefault("docker.cpu_limit", 0.5)
	v.SetDefault("docker.pool_size", 3)
	v.SetDefault("docker.pids_limit", 16)

	v.SetDefault("storage.db_path", "data/sandbox.db")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("ratelimit.rps", 0)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration. When path is empty, sandbox.yaml is looked up
// in the working directory and $HOME/.sandbox and may be absent; an explicit
// path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SANDBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		v.SetConfigName("sandbox")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sandbox")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	switch c.Sandbox.Runtime {
	case RuntimeProcess, RuntimeDocker:
	default:
		return fmt.Errorf("config: unknown sandbox.runtime %q", c.Sandbox.Runtime)
	}
	switch c.Sandbox.Admission {
	case executor.AdmitQueue, executor.AdmitReject:
	default:
		return fmt.Errorf("config: unknown sandbox.admission %q", c.Sandbox.Admission)
	}
	if c.Sandbox.TimeLimit <= 0 || c.Sandbox.MaxTimeLimit < c.Sandbox.TimeLimit {
		return fmt.Errorf("config: sandbox.time_limit %s must be positive and at most sandbox.max_time_limit %s",
			c.Sandbox.TimeLimit, c.Sandbox.MaxTimeLimit)
	}
	if c.Sandbox.OutputLimit <= 0 || c.Sandbox.MemoryLimit <= 0 || c.Sandbox.MaxConcurrency <= 0 {
		return errors.New("config: sandbox output_limit, memory_limit and max_concurrency must be positive")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	return nil
}

// AllowList builds the executor allow-list from the sandbox section.
func (c *Config) AllowList() (*executor.AllowList, error) {
	return executor.NewAllowList(c.Sandbox.AllowedBuiltins, c.Sandbox.AllowedModules)
}

// Limits returns the per-request default limits.
func (c *Config) Limits() executor.Limits {
	return executor.Limits{
		TimeLimit:   c.Sandbox.TimeLimit,
		OutputLimit: c.Sandbox.OutputLimit,
		MemoryLimit: c.Sandbox.MemoryLimit,
	}
}

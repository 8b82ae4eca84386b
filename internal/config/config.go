package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type (
	// Config holds configuration settings for the engine and its
	// collaborators
	Config struct {
		// API server
		APIHost  string
		APIPort  int
		LogLevel string

		// Store
		Redis RedisConfig

		// Execution archive
		ArchiveBucketURL string
		ArchivePrefix    string

		// Collaborators
		TaskRunnerURL string
		InferenceURL  string
		TaskTimeout   int64 // ms

		// Engine
		MaxConcurrency  int
		ShutdownTimeout time.Duration

		// Directory of YAML workflow definitions registered at startup
		WorkflowsDir string
	}

	// RedisConfig configures the Redis-backed workflow/execution store
	RedisConfig struct {
		Addr     string
		Password string
		DB       int
		Prefix   string
	}
)

const (
	DefaultAPIHost = "0.0.0.0"
	DefaultAPIPort = 8080
	MaxTCPPort     = 65535

	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisDB     = 0
	DefaultRedisPrefix = "loom"

	DefaultTaskTimeout     = int64(30_000) // ms
	MaxTaskTimeout         = int64(24 * 60 * 60_000)
	DefaultMaxConcurrency  = 5
	MaxMaxConcurrency      = 256
	DefaultShutdownTimeout = 10 * time.Second
)

var (
	ErrInvalidAPIPort        = errors.New("invalid API port")
	ErrInvalidTaskTimeout    = errors.New("task timeout must be positive")
	ErrInvalidMaxConcurrency = errors.New(
		"max concurrency must be positive",
	)
	ErrEnvNotAnInteger = errors.New("environment value is not an integer")
	ErrEnvOutOfRange   = errors.New("environment value out of range")
)

// NewDefaultConfig creates a configuration with sensible defaults for all
// engine settings
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:  DefaultAPIHost,
		APIPort:  DefaultAPIPort,
		LogLevel: "info",
		Redis: RedisConfig{
			Addr:   DefaultRedisAddr,
			DB:     DefaultRedisDB,
			Prefix: DefaultRedisPrefix,
		},
		ArchivePrefix:   "executions/",
		TaskTimeout:     DefaultTaskTimeout,
		MaxConcurrency:  DefaultMaxConcurrency,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	if host := os.Getenv("API_HOST"); host != "" {
		c.APIHost = host
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if prefix := os.Getenv("REDIS_PREFIX"); prefix != "" {
		c.Redis.Prefix = prefix
	}
	if bucket := os.Getenv("ARCHIVE_BUCKET_URL"); bucket != "" {
		c.ArchiveBucketURL = bucket
	}
	if prefix := os.Getenv("ARCHIVE_PREFIX"); prefix != "" {
		c.ArchivePrefix = prefix
	}
	if url := os.Getenv("TASK_RUNNER_URL"); url != "" {
		c.TaskRunnerURL = url
	}
	if url := os.Getenv("INFERENCE_URL"); url != "" {
		c.InferenceURL = url
	}
	if dir := os.Getenv("WORKFLOWS_DIR"); dir != "" {
		c.WorkflowsDir = dir
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt("REDIS_DB", &c.Redis.DB, 0, 15); err != nil {
		return err
	}
	if err := loadEnvInt(
		"TASK_TIMEOUT", &c.TaskTimeout, 0, MaxTaskTimeout,
	); err != nil {
		return err
	}
	return loadEnvInt(
		"MAX_CONCURRENCY", &c.MaxConcurrency, 0, MaxMaxConcurrency,
	)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if c.TaskTimeout <= 0 {
		return ErrInvalidTaskTimeout
	}
	if c.MaxConcurrency <= 0 {
		return ErrInvalidMaxConcurrency
	}
	return nil
}

func loadEnvInt[T int | int64](name string, target *T, min, max T) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}

	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", ErrEnvNotAnInteger, name, raw)
	}

	val := T(parsed)
	if val < min || val > max {
		return fmt.Errorf("%w: %s=%q", ErrEnvOutOfRange, name, raw)
	}
	*target = val
	return nil
}

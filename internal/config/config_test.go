package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.NewDefaultConfig()
	assert.Equal(t, config.DefaultAPIHost, cfg.APIHost)
	assert.Equal(t, config.DefaultAPIPort, cfg.APIPort)
	assert.Equal(t, config.DefaultMaxConcurrency, cfg.MaxConcurrency)
	assert.Equal(t, config.DefaultTaskTimeout, cfg.TaskTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_HOST", "127.0.0.1")
	t.Setenv("API_PORT", "9090")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("MAX_CONCURRENCY", "8")
	t.Setenv("TASK_TIMEOUT", "1500")

	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "127.0.0.1", cfg.APIHost)
	assert.Equal(t, 9090, cfg.APIPort)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, int64(1500), cfg.TaskTimeout)
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("API_PORT", "not-a-port")

	cfg := config.NewDefaultConfig()
	assert.ErrorIs(t, cfg.LoadFromEnv(), config.ErrEnvNotAnInteger)
}

func TestLoadFromEnvOutOfRange(t *testing.T) {
	t.Setenv("API_PORT", "99999")

	cfg := config.NewDefaultConfig()
	assert.ErrorIs(t, cfg.LoadFromEnv(), config.ErrEnvOutOfRange)
}

func TestValidate(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.APIPort = 0
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidAPIPort)

	cfg = config.NewDefaultConfig()
	cfg.TaskTimeout = 0
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidTaskTimeout)

	cfg = config.NewDefaultConfig()
	cfg.MaxConcurrency = 0
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidMaxConcurrency)
}

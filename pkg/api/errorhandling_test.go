package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomhq/loom/pkg/api"
)

func TestBackoffLinear(t *testing.T) {
	cfg := &api.ErrorHandlingConfig{
		Strategy:     api.StrategyRetry,
		RetryDelayMs: 100,
	}
	assert.Equal(t, int64(100), cfg.BackoffDelayMs(1))
	assert.Equal(t, int64(200), cfg.BackoffDelayMs(2))
	assert.Equal(t, int64(300), cfg.BackoffDelayMs(3))
}

func TestBackoffExponential(t *testing.T) {
	cfg := &api.ErrorHandlingConfig{
		Strategy:     api.StrategyRetry,
		RetryDelayMs: 100,
		Backoff:      api.BackoffExponential,
	}
	assert.Equal(t, int64(100), cfg.BackoffDelayMs(1))
	assert.Equal(t, int64(200), cfg.BackoffDelayMs(2))
	assert.Equal(t, int64(400), cfg.BackoffDelayMs(3))
	assert.Equal(t, int64(800), cfg.BackoffDelayMs(4))
}

func TestBackoffCustom(t *testing.T) {
	cfg := &api.ErrorHandlingConfig{
		Strategy:      api.StrategyRetry,
		RetryDelayMs:  100,
		Backoff:       api.BackoffCustom,
		BackoffFactor: 3,
	}
	assert.Equal(t, int64(100), cfg.BackoffDelayMs(1))
	assert.Equal(t, int64(300), cfg.BackoffDelayMs(2))
	assert.Equal(t, int64(900), cfg.BackoffDelayMs(3))
}

func TestErrorHandlingValidate(t *testing.T) {
	cfg := &api.ErrorHandlingConfig{Strategy: "explode"}
	assert.ErrorIs(t, cfg.Validate(), api.ErrInvalidStrategy)

	cfg = &api.ErrorHandlingConfig{
		Strategy:   api.StrategyRetry,
		MaxRetries: -1,
	}
	assert.ErrorIs(t, cfg.Validate(), api.ErrNegativeRetries)

	cfg = &api.ErrorHandlingConfig{
		Strategy: api.StrategyRetry,
		Backoff:  "sideways",
	}
	assert.ErrorIs(t, cfg.Validate(), api.ErrInvalidBackoffType)

	cfg = &api.ErrorHandlingConfig{
		Strategy:     api.StrategyRetry,
		MaxRetries:   3,
		RetryDelayMs: 50,
		Backoff:      api.BackoffExponential,
	}
	assert.NoError(t, cfg.Validate())
}

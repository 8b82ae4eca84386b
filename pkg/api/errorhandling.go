package api

import (
	"errors"
	"fmt"

	"github.com/loomhq/loom/pkg/util"
)

type (
	Strategy    string
	BackoffType string

	// ErrorHandlingConfig selects the recovery strategy applied when a step
	// handler raises an error. A step-level config overrides the workflow
	// default; with neither present the error escalates
	ErrorHandlingConfig struct {
		Strategy      Strategy        `json:"strategy"`
		MaxRetries    int             `json:"max_retries,omitempty" yaml:"max_retries"`
		RetryDelayMs  int64           `json:"retry_delay_ms,omitempty" yaml:"retry_delay_ms"`
		Backoff       BackoffType     `json:"backoff,omitempty"`
		BackoffFactor float64         `json:"backoff_factor,omitempty" yaml:"backoff_factor"`
		Fallback      []*Step         `json:"fallback,omitempty"`
		Compensation  []*Step         `json:"compensation,omitempty"`
		Escalation    *EscalationRule `json:"escalation,omitempty"`
	}

	// EscalationRule describes where escalated errors are routed
	EscalationRule struct {
		Notify   string `json:"notify,omitempty"`
		Severity string `json:"severity,omitempty"`
	}
)

const (
	StrategyIgnore     Strategy = "ignore"
	StrategyRetry      Strategy = "retry"
	StrategyFallback   Strategy = "fallback"
	StrategyCompensate Strategy = "compensate"
	StrategyEscalate   Strategy = "escalate"

	BackoffLinear      BackoffType = "linear"
	BackoffExponential BackoffType = "exponential"
	BackoffCustom      BackoffType = "custom"
)

var (
	ErrInvalidStrategy    = errors.New("invalid error handling strategy")
	ErrInvalidBackoffType = errors.New("invalid backoff type")
	ErrNegativeRetries    = errors.New("max_retries cannot be negative")
	ErrNegativeRetryDelay = errors.New("retry_delay_ms cannot be negative")
)

var (
	validStrategies = util.SetOf(
		StrategyIgnore,
		StrategyRetry,
		StrategyFallback,
		StrategyCompensate,
		StrategyEscalate,
	)

	validBackoffTypes = util.SetOf(
		BackoffLinear,
		BackoffExponential,
		BackoffCustom,
	)
)

func (c *ErrorHandlingConfig) Validate() error {
	if !validStrategies.Contains(c.Strategy) {
		return fmt.Errorf("%w: %s", ErrInvalidStrategy, c.Strategy)
	}
	if c.MaxRetries < 0 {
		return ErrNegativeRetries
	}
	if c.RetryDelayMs < 0 {
		return ErrNegativeRetryDelay
	}
	if c.Backoff != "" && !validBackoffTypes.Contains(c.Backoff) {
		return fmt.Errorf("%w: %s", ErrInvalidBackoffType, c.Backoff)
	}

	for _, steps := range [][]*Step{c.Fallback, c.Compensation} {
		for _, step := range steps {
			if err := step.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// BackoffDelayMs computes the wait before the given retry attempt. Attempt
// numbering starts at 1
func (c *ErrorHandlingConfig) BackoffDelayMs(attempt int) int64 {
	if attempt < 1 {
		attempt = 1
	}
	switch c.Backoff {
	case BackoffExponential:
		return c.RetryDelayMs * (1 << (attempt - 1))
	case BackoffCustom:
		factor := c.BackoffFactor
		if factor <= 0 {
			factor = 1
		}
		delay := float64(c.RetryDelayMs)
		for i := 1; i < attempt; i++ {
			delay *= factor
		}
		return int64(delay)
	default:
		// linear
		return c.RetryDelayMs * int64(attempt)
	}
}

package api

import (
	"errors"
	"fmt"

	"github.com/loomhq/loom/pkg/util"
)

type (
	ConditionType string

	// Condition is the tagged predicate attached to steps, branches, and
	// loops. Exactly one payload field is meaningful for a given Type.
	// Fallback is the value assumed when evaluation itself fails
	Condition struct {
		Type       ConditionType `json:"type"`
		Expression string        `json:"expression,omitempty"`
		Script     string        `json:"script,omitempty"`
		Function   string        `json:"function,omitempty"`
		AIPrompt   string        `json:"ai_prompt,omitempty" yaml:"ai_prompt"`
		Fallback   bool          `json:"fallback,omitempty"`
		TimeoutMs  int64         `json:"timeout_ms,omitempty" yaml:"timeout_ms"`
	}
)

const (
	ConditionExpression ConditionType = "expression"
	ConditionScript     ConditionType = "script"
	ConditionFunction   ConditionType = "function"
	ConditionAIDecision ConditionType = "ai-decision"
)

var (
	ErrInvalidConditionType = errors.New("invalid condition type")
	ErrExpressionEmpty      = errors.New("condition expression empty")
	ErrScriptEmpty          = errors.New("condition script empty")
	ErrFunctionEmpty        = errors.New("condition function name empty")
	ErrAIPromptEmpty        = errors.New("condition ai prompt empty")
	ErrNegativeTimeout      = errors.New("condition timeout cannot be negative")
)

var validConditionTypes = util.SetOf(
	ConditionExpression,
	ConditionScript,
	ConditionFunction,
	ConditionAIDecision,
)

func (c *Condition) Validate() error {
	if !validConditionTypes.Contains(c.Type) {
		return fmt.Errorf("%w: %s", ErrInvalidConditionType, c.Type)
	}
	if c.TimeoutMs < 0 {
		return ErrNegativeTimeout
	}

	switch c.Type {
	case ConditionExpression:
		if c.Expression == "" {
			return ErrExpressionEmpty
		}
	case ConditionScript:
		if c.Script == "" {
			return ErrScriptEmpty
		}
	case ConditionFunction:
		if c.Function == "" {
			return ErrFunctionEmpty
		}
	case ConditionAIDecision:
		if c.AIPrompt == "" {
			return ErrAIPromptEmpty
		}
	}
	return nil
}

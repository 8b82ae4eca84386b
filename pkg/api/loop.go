package api

import (
	"errors"
	"fmt"

	"github.com/loomhq/loom/pkg/util"
)

type (
	LoopType string

	// LoopConfig controls while/for steps. MaxIterations is a hard cap that
	// is enforced even when the loop condition never becomes false
	LoopConfig struct {
		Type              LoopType   `json:"type"`
		MaxIterations     int        `json:"max_iterations" yaml:"max_iterations"`
		Condition         *Condition `json:"condition,omitempty"`
		BreakCondition    *Condition `json:"break_condition,omitempty" yaml:"break_condition"`
		ContinueCondition *Condition `json:"continue_condition,omitempty" yaml:"continue_condition"`
		ItemsExpression   string     `json:"items_expression,omitempty" yaml:"items_expression"`
		BatchSize         int        `json:"batch_size,omitempty" yaml:"batch_size"`
		MaxConcurrency    int        `json:"max_concurrency,omitempty" yaml:"max_concurrency"`
		IterationDelayMs  int64      `json:"iteration_delay_ms,omitempty" yaml:"iteration_delay_ms"`
		Body              []*Step    `json:"body,omitempty"`
	}
)

const (
	LoopWhile         LoopType = "while"
	LoopFor           LoopType = "for"
	LoopForEach       LoopType = "foreach"
	LoopUntil         LoopType = "until"
	LoopAsyncParallel LoopType = "async-parallel"
	LoopBatch         LoopType = "batch"
)

var (
	ErrInvalidLoopType      = errors.New("invalid loop type")
	ErrMaxIterationsMissing = errors.New("loop max_iterations must be positive")
	ErrLoopConditionMissing = errors.New("loop condition required")
	ErrItemsExprMissing     = errors.New("loop items_expression required")
	ErrInvalidBatchSize     = errors.New("loop batch_size must be positive")
)

var (
	validLoopTypes = util.SetOf(
		LoopWhile,
		LoopFor,
		LoopForEach,
		LoopUntil,
		LoopAsyncParallel,
		LoopBatch,
	)

	itemLoopTypes = util.SetOf(
		LoopForEach,
		LoopAsyncParallel,
		LoopBatch,
	)
)

// IsItemLoop reports whether the loop iterates an items collection rather
// than a condition or counter
func (l *LoopConfig) IsItemLoop() bool {
	return itemLoopTypes.Contains(l.Type)
}

func (l *LoopConfig) Validate() error {
	if !validLoopTypes.Contains(l.Type) {
		return fmt.Errorf("%w: %s", ErrInvalidLoopType, l.Type)
	}
	if l.MaxIterations <= 0 {
		return ErrMaxIterationsMissing
	}

	if l.IsItemLoop() && l.ItemsExpression == "" {
		return fmt.Errorf("%w: %s", ErrItemsExprMissing, l.Type)
	}
	switch l.Type {
	case LoopWhile, LoopUntil:
		if l.Condition == nil {
			return fmt.Errorf("%w: %s", ErrLoopConditionMissing, l.Type)
		}
	case LoopBatch:
		if l.BatchSize <= 0 {
			return ErrInvalidBatchSize
		}
	}

	for _, cond := range []*Condition{
		l.Condition, l.BreakCondition, l.ContinueCondition,
	} {
		if cond == nil {
			continue
		}
		if err := cond.Validate(); err != nil {
			return err
		}
	}

	for _, step := range l.Body {
		if err := step.Validate(); err != nil {
			return err
		}
	}
	return nil
}

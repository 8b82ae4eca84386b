package api

import (
	"errors"
	"fmt"

	"github.com/loomhq/loom/pkg/util"
)

type (
	GeneratorStrategy string

	// DynamicTaskConfig drives runtime task generation for dynamic-task
	// steps. The strategy selects how the task batch is produced
	DynamicTaskConfig struct {
		Strategy   GeneratorStrategy `json:"strategy"`
		Count      int               `json:"count,omitempty"`
		NamePrefix string            `json:"name_prefix,omitempty" yaml:"name_prefix"`
		Command    string            `json:"command,omitempty"`
		Function   string            `json:"function,omitempty"`
		Template   string            `json:"template,omitempty"`
		AIPrompt   string            `json:"ai_prompt,omitempty" yaml:"ai_prompt"`
		MaxTasks   int               `json:"max_tasks,omitempty" yaml:"max_tasks"`
		Params     Vars              `json:"params,omitempty"`
	}

	// GeneratedTask is one ad-hoc task produced by the dynamic task
	// generator
	GeneratedTask struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Command string `json:"command"`
		Params  Vars   `json:"params,omitempty"`
	}
)

const (
	GeneratorExpression GeneratorStrategy = "expression"
	GeneratorFunction   GeneratorStrategy = "function"
	GeneratorAI         GeneratorStrategy = "ai-generation"
	GeneratorTemplate   GeneratorStrategy = "template"
)

const DefaultMaxGeneratedTasks = 10

var (
	ErrInvalidGenerator = errors.New("invalid generator strategy")
	ErrGenCountMissing  = errors.New("generator count must be positive")
	ErrGenCommandEmpty  = errors.New("generator command empty")
	ErrGenFunctionEmpty = errors.New("generator function name empty")
	ErrGenTemplateEmpty = errors.New("generator template name empty")
	ErrGenAIPromptEmpty = errors.New("generator ai prompt empty")
	ErrNegativeMaxTasks = errors.New("max_tasks cannot be negative")
)

var validGeneratorStrategies = util.SetOf(
	GeneratorExpression,
	GeneratorFunction,
	GeneratorAI,
	GeneratorTemplate,
)

func (c *DynamicTaskConfig) Validate() error {
	if !validGeneratorStrategies.Contains(c.Strategy) {
		return fmt.Errorf("%w: %s", ErrInvalidGenerator, c.Strategy)
	}
	if c.MaxTasks < 0 {
		return ErrNegativeMaxTasks
	}

	switch c.Strategy {
	case GeneratorExpression:
		if c.Count <= 0 {
			return ErrGenCountMissing
		}
		if c.Command == "" {
			return ErrGenCommandEmpty
		}
	case GeneratorFunction:
		if c.Function == "" {
			return ErrGenFunctionEmpty
		}
	case GeneratorTemplate:
		if c.Template == "" {
			return ErrGenTemplateEmpty
		}
	case GeneratorAI:
		if c.AIPrompt == "" {
			return ErrGenAIPromptEmpty
		}
	}
	return nil
}

// TaskCap returns the maximum number of tasks the generator may emit
func (c *DynamicTaskConfig) TaskCap() int {
	if c.MaxTasks > 0 {
		return c.MaxTasks
	}
	return DefaultMaxGeneratedTasks
}

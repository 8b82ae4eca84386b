package api

import (
	"errors"
	"fmt"
	"slices"

	"github.com/loomhq/loom/pkg/util"
)

type (
	StepType string

	// Step is a node in the workflow graph: either a unit of work (task,
	// dynamic-task) or a control-flow construct whose nested steps are run
	// by the matching handler
	Step struct {
		ID            string               `json:"id"`
		Name          string               `json:"name"`
		Type          StepType             `json:"type"`
		Condition     *Condition           `json:"condition,omitempty"`
		Task          *TaskConfig          `json:"task,omitempty"`
		Branches      []*Branch            `json:"branches,omitempty"`
		Loop          *LoopConfig          `json:"loop,omitempty"`
		ErrorHandling *ErrorHandlingConfig `json:"error_handling,omitempty" yaml:"error_handling"`
		Dynamic       *DynamicTaskConfig   `json:"dynamic,omitempty"`
		Dependencies  []string             `json:"dependencies,omitempty"`
		Assign        Vars                 `json:"assign,omitempty"`
	}

	// TaskConfig describes the work a task step delegates to the task
	// runner collaborator
	TaskConfig struct {
		Command   string `json:"command"`
		AgentType string `json:"agent_type,omitempty" yaml:"agent_type"`
		TimeoutMs int64  `json:"timeout_ms,omitempty" yaml:"timeout_ms"`
	}

	// Branch is a conditional sub-list of steps used by if-else, switch,
	// parallel, and try-catch steps. Lower priority runs first
	Branch struct {
		ID        string     `json:"id"`
		Name      string     `json:"name"`
		Condition *Condition `json:"condition,omitempty"`
		Priority  int        `json:"priority"`
		Steps     []*Step    `json:"steps"`
	}
)

const (
	StepTask        StepType = "task"
	StepIfElse      StepType = "if-else"
	StepSwitch      StepType = "switch"
	StepWhile       StepType = "while"
	StepFor         StepType = "for"
	StepParallel    StepType = "parallel"
	StepTryCatch    StepType = "try-catch"
	StepDynamicTask StepType = "dynamic-task"
)

// Reserved branch names carrying try-catch semantics
const (
	BranchTry     = "try"
	BranchCatch   = "catch"
	BranchFinally = "finally"
)

var (
	ErrStepIDEmpty      = errors.New("step ID empty")
	ErrStepNameEmpty    = errors.New("step name empty")
	ErrInvalidStepType  = errors.New("invalid step type")
	ErrTaskRequired     = errors.New("task config required")
	ErrCommandEmpty     = errors.New("task command empty")
	ErrBranchesRequired = errors.New("branches required")
	ErrBranchIDEmpty    = errors.New("branch ID empty")
	ErrLoopRequired     = errors.New("loop config required")
	ErrDynamicRequired  = errors.New("dynamic config required")
	ErrTryBranchMissing = errors.New("try branch required")
)

var (
	validStepTypes = util.SetOf(
		StepTask,
		StepIfElse,
		StepSwitch,
		StepWhile,
		StepFor,
		StepParallel,
		StepTryCatch,
		StepDynamicTask,
	)

	branchedStepTypes = util.SetOf(
		StepIfElse,
		StepSwitch,
		StepParallel,
		StepTryCatch,
	)
)

func (s *Step) Validate() error {
	if s.ID == "" {
		return ErrStepIDEmpty
	}
	if s.Name == "" {
		return ErrStepNameEmpty
	}
	if !validStepTypes.Contains(s.Type) {
		return fmt.Errorf("%w: %s", ErrInvalidStepType, s.Type)
	}

	if s.Condition != nil {
		if err := s.Condition.Validate(); err != nil {
			return fmt.Errorf("step %s: %w", s.ID, err)
		}
	}
	if s.ErrorHandling != nil {
		if err := s.ErrorHandling.Validate(); err != nil {
			return fmt.Errorf("step %s: %w", s.ID, err)
		}
	}

	switch s.Type {
	case StepTask:
		return s.validateTask()
	case StepIfElse, StepSwitch, StepParallel:
		return s.validateBranches()
	case StepTryCatch:
		return s.validateTryCatch()
	case StepWhile, StepFor:
		return s.validateLoop()
	case StepDynamicTask:
		return s.validateDynamic()
	}
	return nil
}

func (s *Step) validateTask() error {
	if s.Task == nil {
		return fmt.Errorf("%w: %s", ErrTaskRequired, s.ID)
	}
	if s.Task.Command == "" {
		return fmt.Errorf("%w: %s", ErrCommandEmpty, s.ID)
	}
	return nil
}

func (s *Step) validateBranches() error {
	if len(s.Branches) == 0 {
		return fmt.Errorf("%w: %s", ErrBranchesRequired, s.ID)
	}
	for _, b := range s.Branches {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("step %s: %w", s.ID, err)
		}
	}
	return nil
}

func (s *Step) validateTryCatch() error {
	if err := s.validateBranches(); err != nil {
		return err
	}
	if s.FindBranch(BranchTry) == nil {
		return fmt.Errorf("%w: %s", ErrTryBranchMissing, s.ID)
	}
	return nil
}

func (s *Step) validateLoop() error {
	if s.Loop == nil {
		return fmt.Errorf("%w: %s", ErrLoopRequired, s.ID)
	}
	if err := s.Loop.Validate(); err != nil {
		return fmt.Errorf("step %s: %w", s.ID, err)
	}
	return nil
}

func (s *Step) validateDynamic() error {
	if s.Dynamic == nil {
		return fmt.Errorf("%w: %s", ErrDynamicRequired, s.ID)
	}
	if err := s.Dynamic.Validate(); err != nil {
		return fmt.Errorf("step %s: %w", s.ID, err)
	}
	return nil
}

// SortedBranches returns the step's branches ordered by ascending priority,
// preserving declaration order among equal priorities
func (s *Step) SortedBranches() []*Branch {
	sorted := slices.Clone(s.Branches)
	slices.SortStableFunc(sorted, func(a, b *Branch) int {
		return a.Priority - b.Priority
	})
	return sorted
}

// FindBranch returns the branch with the given name, or nil
func (s *Step) FindBranch(name string) *Branch {
	for _, b := range s.Branches {
		if b.Name == name {
			return b
		}
	}
	return nil
}

func (b *Branch) Validate() error {
	if b.ID == "" {
		return ErrBranchIDEmpty
	}
	if b.Condition != nil {
		if err := b.Condition.Validate(); err != nil {
			return fmt.Errorf("branch %s: %w", b.ID, err)
		}
	}
	for _, step := range b.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("branch %s: %w", b.ID, err)
		}
	}
	return nil
}

package api

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loomhq/loom/pkg/util"
)

type (
	// Workflow is the static definition of an automation graph. It is
	// immutable once created except for explicit dynamic step mutation on a
	// running execution, which is visible to every execution sharing the
	// definition
	Workflow struct {
		ID            string               `json:"id"`
		Name          string               `json:"name"`
		Version       string               `json:"version"`
		Steps         []*Step              `json:"steps"`
		Variables     Vars                 `json:"variables,omitempty"`
		ErrorHandling *ErrorHandlingConfig `json:"error_handling,omitempty" yaml:"error_handling"`
		Triggers      []Trigger            `json:"triggers,omitempty"`
		Schedule      string               `json:"schedule,omitempty"`
	}

	// Trigger subscribes a workflow to an inbound trigger topic
	Trigger struct {
		Topic string `json:"topic"`
	}
)

var (
	ErrWorkflowIDEmpty   = errors.New("workflow ID empty")
	ErrWorkflowNameEmpty = errors.New("workflow name empty")
	ErrNoSteps           = errors.New("workflow has no steps")
	ErrDuplicateStepID   = errors.New("duplicate step ID")
	ErrUnknownDependency = errors.New("dependency references unknown step")

	// ErrUnorderedDependency is raised when a step depends on an id that
	// appears later in the list. The engine makes a single linear pass over
	// the step list at run time, so declaration order must respect the
	// dependency graph
	ErrUnorderedDependency = errors.New(
		"dependency references a later step",
	)
)

func (w *Workflow) Validate() error {
	if w.ID == "" {
		return ErrWorkflowIDEmpty
	}
	if w.Name == "" {
		return ErrWorkflowNameEmpty
	}
	if len(w.Steps) == 0 {
		return ErrNoSteps
	}
	if w.ErrorHandling != nil {
		if err := w.ErrorHandling.Validate(); err != nil {
			return err
		}
	}

	seen := util.Set[string]{}
	for _, step := range w.Steps {
		if err := step.Validate(); err != nil {
			return err
		}
		if seen.Contains(step.ID) {
			return fmt.Errorf("%w: %s", ErrDuplicateStepID, step.ID)
		}
		for _, dep := range step.Dependencies {
			if !seen.Contains(dep) {
				if w.hasStep(dep) {
					return fmt.Errorf("%w: %s -> %s",
						ErrUnorderedDependency, step.ID, dep)
				}
				return fmt.Errorf("%w: %s -> %s",
					ErrUnknownDependency, step.ID, dep)
			}
		}
		seen.Add(step.ID)
	}
	return nil
}

// FindStep returns the top-level step with the given id, or nil
func (w *Workflow) FindStep(id string) *Step {
	for _, step := range w.Steps {
		if step.ID == id {
			return step
		}
	}
	return nil
}

// Subscribed reports whether the workflow listens on the given trigger topic
func (w *Workflow) Subscribed(topic string) bool {
	for _, t := range w.Triggers {
		if t.Topic == topic {
			return true
		}
	}
	return false
}

func (w *Workflow) hasStep(id string) bool {
	return w.FindStep(id) != nil
}

// ParseDefinition decodes a YAML workflow definition and validates it
func ParseDefinition(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, err
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// LoadDefinition reads and parses a YAML workflow definition file
func LoadDefinition(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDefinition(data)
}

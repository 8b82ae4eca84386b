package helpers

import (
	"github.com/loomhq/loom/pkg/api"
)

// NewTaskStep creates a basic task step for testing
func NewTaskStep(id, command string) *api.Step {
	return &api.Step{
		ID:   id,
		Name: "Task " + id,
		Type: api.StepTask,
		Task: &api.TaskConfig{
			Command: command,
		},
	}
}

// NewExprCondition creates an expression condition
func NewExprCondition(expr string) *api.Condition {
	return &api.Condition{
		Type:       api.ConditionExpression,
		Expression: expr,
	}
}

// NewTestWorkflow creates a workflow around the given steps
func NewTestWorkflow(id string, steps ...*api.Step) *api.Workflow {
	return &api.Workflow{
		ID:      id,
		Name:    "Workflow " + id,
		Version: "1.0.0",
		Steps:   steps,
	}
}

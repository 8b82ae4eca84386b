package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/pkg/api"
)

func TestStepValidateTask(t *testing.T) {
	step := &api.Step{ID: "a", Name: "A", Type: api.StepTask}
	assert.ErrorIs(t, step.Validate(), api.ErrTaskRequired)

	step.Task = &api.TaskConfig{}
	assert.ErrorIs(t, step.Validate(), api.ErrCommandEmpty)

	step.Task.Command = "do work"
	assert.NoError(t, step.Validate())
}

func TestStepValidateUnknownType(t *testing.T) {
	step := &api.Step{ID: "a", Name: "A", Type: "teleport"}
	assert.ErrorIs(t, step.Validate(), api.ErrInvalidStepType)
}

func TestStepValidateBranches(t *testing.T) {
	step := &api.Step{ID: "a", Name: "A", Type: api.StepIfElse}
	assert.ErrorIs(t, step.Validate(), api.ErrBranchesRequired)

	step.Branches = []*api.Branch{
		{ID: "then", Name: "then", Steps: []*api.Step{taskStep("x")}},
	}
	assert.NoError(t, step.Validate())
}

func TestStepValidateTryCatch(t *testing.T) {
	step := &api.Step{
		ID:   "a",
		Name: "A",
		Type: api.StepTryCatch,
		Branches: []*api.Branch{
			{ID: "c", Name: api.BranchCatch, Steps: []*api.Step{taskStep("x")}},
		},
	}
	assert.ErrorIs(t, step.Validate(), api.ErrTryBranchMissing)

	step.Branches = append(step.Branches, &api.Branch{
		ID: "t", Name: api.BranchTry, Steps: []*api.Step{taskStep("y")},
	})
	assert.NoError(t, step.Validate())
}

func TestSortedBranches(t *testing.T) {
	step := &api.Step{
		Branches: []*api.Branch{
			{ID: "late", Priority: 5},
			{ID: "early", Priority: 1},
			{ID: "tied", Priority: 1},
		},
	}
	sorted := step.SortedBranches()
	require.Len(t, sorted, 3)
	assert.Equal(t, "early", sorted[0].ID)
	assert.Equal(t, "tied", sorted[1].ID)
	assert.Equal(t, "late", sorted[2].ID)

	// declaration order untouched
	assert.Equal(t, "late", step.Branches[0].ID)
}

func TestLoopValidate(t *testing.T) {
	loop := &api.LoopConfig{Type: "spiral"}
	assert.ErrorIs(t, loop.Validate(), api.ErrInvalidLoopType)

	loop.Type = api.LoopWhile
	assert.ErrorIs(t, loop.Validate(), api.ErrMaxIterationsMissing)

	loop.MaxIterations = 10
	assert.ErrorIs(t, loop.Validate(), api.ErrLoopConditionMissing)

	loop.Condition = &api.Condition{
		Type:       api.ConditionExpression,
		Expression: "count < 10",
	}
	assert.NoError(t, loop.Validate())

	batch := &api.LoopConfig{
		Type:            api.LoopBatch,
		MaxIterations:   10,
		ItemsExpression: "items",
	}
	assert.ErrorIs(t, batch.Validate(), api.ErrInvalidBatchSize)
	batch.BatchSize = 3
	assert.NoError(t, batch.Validate())
	assert.True(t, batch.IsItemLoop())
}

func TestConditionValidate(t *testing.T) {
	cond := &api.Condition{Type: api.ConditionExpression}
	assert.ErrorIs(t, cond.Validate(), api.ErrExpressionEmpty)

	cond.Expression = "x > 1"
	assert.NoError(t, cond.Validate())

	ai := &api.Condition{Type: api.ConditionAIDecision, TimeoutMs: -1}
	assert.ErrorIs(t, ai.Validate(), api.ErrNegativeTimeout)
}

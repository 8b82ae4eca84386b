package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/assert/helpers"
	"github.com/loomhq/loom/internal/engine"
	"github.com/loomhq/loom/pkg/api"
)

// TestDynamicExpressionStep verifies that an expression-strategy step
// expands into the configured number of tasks and runs each one
func TestDynamicExpressionStep(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		wf := helpers.NewTestWorkflow("wf-dynamic",
			&api.Step{
				ID:   "fanout",
				Name: "Fan out shards",
				Type: api.StepDynamicTask,
				Dynamic: &api.DynamicTaskConfig{
					Strategy:   api.GeneratorExpression,
					Count:      3,
					NamePrefix: "shard",
					Command:    "process shard",
				},
			},
		)
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		exec := env.RunToCompletion(t, "wf-dynamic", nil)
		require.Equal(t, api.ExecutionCompleted, exec.Status)
		require.Equal(t, api.StepCompleted, exec.StepResults["fanout"].Status)
		assert.Equal(t, 3, env.Runner.InvocationCount("process shard"))

		out, ok := exec.StepResults["fanout"].Output.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(3), out["generated"])
		assert.Equal(t, float64(3), out["succeeded"])
		assert.Equal(t, float64(0), out["failed"])
	})
}

// TestDynamicTaskFailuresRecorded verifies that generated task failures
// are tallied without aborting the batch or the execution
func TestDynamicTaskFailuresRecorded(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		wf := helpers.NewTestWorkflow("wf-dynamic-fail",
			&api.Step{
				ID:   "fanout",
				Name: "Fan out shards",
				Type: api.StepDynamicTask,
				Dynamic: &api.DynamicTaskConfig{
					Strategy:   api.GeneratorExpression,
					Count:      3,
					NamePrefix: "shard",
					Command:    "process shard",
				},
			},
		)
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		env.Runner.SetErrorCount("process shard",
			errors.New("shard offline"), 1)

		exec := env.RunToCompletion(t, "wf-dynamic-fail", nil)
		require.Equal(t, api.ExecutionCompleted, exec.Status)
		require.Equal(t, api.StepCompleted, exec.StepResults["fanout"].Status)

		out, ok := exec.StepResults["fanout"].Output.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(1), out["failed"])
		assert.Equal(t, float64(2), out["succeeded"])
	})
}

// TestDynamicTemplateStep verifies that a registered template expands
// into its fixed task list
func TestDynamicTemplateStep(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		env.Registry.RegisterTemplate("nightly", []*api.GeneratedTask{
			{ID: "t1", Name: "compact", Command: "compact tables"},
			{ID: "t2", Name: "report", Command: "emit report"},
		})

		wf := helpers.NewTestWorkflow("wf-template",
			&api.Step{
				ID:   "nightly",
				Name: "Nightly batch",
				Type: api.StepDynamicTask,
				Dynamic: &api.DynamicTaskConfig{
					Strategy: api.GeneratorTemplate,
					Template: "nightly",
				},
			},
		)
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		exec := env.RunToCompletion(t, "wf-template", nil)
		require.Equal(t, api.ExecutionCompleted, exec.Status)
		assert.True(t, env.Runner.WasInvoked("compact tables"))
		assert.True(t, env.Runner.WasInvoked("emit report"))
	})
}

// TestAddDynamicStepRuns verifies that a step inserted after an anchor is
// picked up by the next execution in its inserted position
func TestAddDynamicStepRuns(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		wf := helpers.NewTestWorkflow("wf-mutate",
			helpers.NewTaskStep("a", "op a"),
			helpers.NewTaskStep("c", "op c"),
		)
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		require.NoError(t, env.Engine.AddDynamicStep(
			"wf-mutate", helpers.NewTaskStep("b", "op b"), "a"))

		exec := env.RunToCompletion(t, "wf-mutate", nil)
		require.Equal(t, api.ExecutionCompleted, exec.Status)
		assert.Equal(t,
			[]string{"op a", "op b", "op c"}, env.Runner.Invocations())
	})
}

// TestAddDynamicStepDuplicate verifies that inserting a step with an
// existing id is rejected
func TestAddDynamicStepDuplicate(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		wf := helpers.NewTestWorkflow("wf-dup",
			helpers.NewTaskStep("a", "op a"))
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		err := env.Engine.AddDynamicStep(
			"wf-dup", helpers.NewTaskStep("a", "op a2"), "")
		assert.ErrorIs(t, err, engine.ErrStepExists)
	})
}

// TestRemoveStepConflict verifies that a step already completed inside a
// live execution cannot be removed until that execution settles
func TestRemoveStepConflict(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		wf := helpers.NewTestWorkflow("wf-remove",
			helpers.NewTaskStep("first", "first-op"),
			helpers.NewTaskStep("second", "second-op"),
		)
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		env.Runner.SetDelay("second-op", 5*time.Second)

		execID, err := env.Engine.ExecuteWorkflow(
			context.Background(), "wf-remove", nil, "test")
		require.NoError(t, err)
		waitForInvocation(t, env, "second-op")

		err = env.Engine.RemoveStep("wf-remove", "first")
		assert.ErrorIs(t, err, engine.ErrInvalidState)

		require.NoError(t, env.Engine.CancelExecution(execID))
		env.WaitForExecutionStatus(t, execID, api.ExecutionCancelled)

		assert.NoError(t, env.Engine.RemoveStep("wf-remove", "first"))
		got, err := env.Engine.GetWorkflow(
			context.Background(), "wf-remove")
		require.NoError(t, err)
		assert.Nil(t, got.FindStep("first"))
	})
}

// TestHandleTrigger verifies that a trigger starts every subscribed
// workflow with the payload bound into its variables
func TestHandleTrigger(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		listener := helpers.NewTestWorkflow("wf-listener",
			helpers.NewTaskStep("handle", "handle order"))
		listener.Triggers = []api.Trigger{{Topic: "orders"}}

		bystander := helpers.NewTestWorkflow("wf-bystander",
			helpers.NewTaskStep("noop", "do nothing"))

		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), listener))
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), bystander))

		waiter := env.SubscribeToExecutionDone()
		ids, err := env.Engine.HandleTrigger(
			context.Background(), api.TriggerMessage{
				Topic:   "orders",
				Payload: api.Vars{"order_id": "ord-42"},
			})
		require.NoError(t, err)
		require.Len(t, ids, 1)

		for {
			if ev := waiter.Wait(t); ev.ExecutionID == ids[0] {
				break
			}
		}

		exec, err := env.Engine.GetExecution(
			context.Background(), ids[0])
		require.NoError(t, err)
		assert.Equal(t, api.ExecutionCompleted, exec.Status)
		assert.Equal(t, "wf-listener", exec.WorkflowID)
		assert.Equal(t, "trigger:orders", exec.TriggeredBy)
		assert.Equal(t, "ord-42", exec.Variables["order_id"])
		assert.False(t, env.Runner.WasInvoked("do nothing"))
	})
}

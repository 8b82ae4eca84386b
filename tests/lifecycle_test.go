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
	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/pkg/api"
)

// waitForInvocation polls until the runner has seen the command, so tests
// can interrupt an execution while a step is known to be in flight
func waitForInvocation(
	t *testing.T, env *helpers.TestEngineEnv, command string,
) {
	t.Helper()
	deadline := time.Now().Add(helpers.DefaultTimeout)
	for time.Now().Before(deadline) {
		if env.Runner.WasInvoked(command) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s to be invoked", command)
}

// TestPauseAndResume verifies that pausing takes effect at the next step
// boundary and that resuming skips steps that already completed
func TestPauseAndResume(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		wf := helpers.NewTestWorkflow("wf-pause",
			helpers.NewTaskStep("first", "slow-op"),
			helpers.NewTaskStep("second", "later-op"),
		)
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		env.Runner.SetDelay("slow-op", 200*time.Millisecond)

		stepDone := env.SubscribeToEvent(api.EventStepCompleted)
		execID, err := env.Engine.ExecuteWorkflow(
			context.Background(), "wf-pause", nil, "test")
		require.NoError(t, err)
		waitForInvocation(t, env, "slow-op")
		require.NoError(t, env.Engine.PauseExecution(execID))

		// the in-flight step still finishes; the pause lands at the next
		// step boundary
		for {
			ev := stepDone.Wait(t)
			if ev.ExecutionID == execID && ev.StepID == "first" {
				break
			}
		}
		paused := env.WaitForExecutionStatus(t, execID, api.ExecutionPaused)
		assert.Equal(t, api.StepCompleted, paused.StepResults["first"].Status)
		assert.NotContains(t, paused.StepResults, "second")
		assert.False(t, env.Runner.WasInvoked("later-op"))

		waiter := env.SubscribeToExecutionDone()
		require.NoError(t, env.Engine.ResumeExecution(execID))
		for {
			if ev := waiter.Wait(t); ev.ExecutionID == execID {
				break
			}
		}

		exec, err := env.Engine.GetExecution(context.Background(), execID)
		require.NoError(t, err)
		require.Equal(t, api.ExecutionCompleted, exec.Status)
		assert.Equal(t, api.StepCompleted, exec.StepResults["second"].Status)
		assert.Equal(t, 1, env.Runner.InvocationCount("slow-op"))
		assert.Equal(t, 1, env.Runner.InvocationCount("later-op"))
	})
}

// TestResumeWhileStepRunning verifies that resuming before the paused
// pass has drained reuses that pass instead of launching a second one:
// the in-flight step must run exactly once
func TestResumeWhileStepRunning(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		wf := helpers.NewTestWorkflow("wf-quick-resume",
			helpers.NewTaskStep("first", "slow-op"),
			helpers.NewTaskStep("second", "later-op"),
		)
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		env.Runner.SetDelay("slow-op", 300*time.Millisecond)

		waiter := env.SubscribeToExecutionDone()
		execID, err := env.Engine.ExecuteWorkflow(
			context.Background(), "wf-quick-resume", nil, "test")
		require.NoError(t, err)
		waitForInvocation(t, env, "slow-op")

		// the pass is still inside the first step, so it has never
		// observed the pause when the resume arrives
		require.NoError(t, env.Engine.PauseExecution(execID))
		require.NoError(t, env.Engine.ResumeExecution(execID))

		for {
			if ev := waiter.Wait(t); ev.ExecutionID == execID {
				break
			}
		}

		exec, err := env.Engine.GetExecution(context.Background(), execID)
		require.NoError(t, err)
		require.Equal(t, api.ExecutionCompleted, exec.Status)
		assert.Equal(t, 1, env.Runner.InvocationCount("slow-op"))
		assert.Equal(t, 1, env.Runner.InvocationCount("later-op"))
	})
}

// TestFailureWhilePaused verifies that a step failing after a pause
// request landed still records the failure on the execution
func TestFailureWhilePaused(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		wf := helpers.NewTestWorkflow("wf-paused-failure",
			helpers.NewTaskStep("doomed", "doomed-op"),
			helpers.NewTaskStep("second", "later-op"),
		)
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		env.Runner.SetDelay("doomed-op", 200*time.Millisecond)
		env.Runner.SetError("doomed-op", errors.New("disk on fire"))

		execID, err := env.Engine.ExecuteWorkflow(
			context.Background(), "wf-paused-failure", nil, "test")
		require.NoError(t, err)
		waitForInvocation(t, env, "doomed-op")
		require.NoError(t, env.Engine.PauseExecution(execID))

		// the pause wins the race, so the execution stays paused, but
		// the failure must not vanish
		env.WaitForExecutionStatus(t, execID, api.ExecutionPaused)
		require.Eventually(t, func() bool {
			got, err := env.Engine.GetExecution(
				context.Background(), execID)
			return err == nil && got.Error != ""
		}, helpers.DefaultTimeout, time.Millisecond)

		exec, err := env.Engine.GetExecution(context.Background(), execID)
		require.NoError(t, err)
		assert.Contains(t, exec.Error, "disk on fire")
		assert.Equal(t, api.StepFailed, exec.StepResults["doomed"].Status)
		assert.False(t, env.Runner.WasInvoked("later-op"))
	})
}

// TestCancelExecution verifies that cancellation interrupts an in-flight
// step and no later step starts
func TestCancelExecution(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		wf := helpers.NewTestWorkflow("wf-cancel",
			helpers.NewTaskStep("first", "slow-op"),
			helpers.NewTaskStep("second", "later-op"),
		)
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		env.Runner.SetDelay("slow-op", 5*time.Second)

		execID, err := env.Engine.ExecuteWorkflow(
			context.Background(), "wf-cancel", nil, "test")
		require.NoError(t, err)
		waitForInvocation(t, env, "slow-op")
		require.NoError(t, env.Engine.CancelExecution(execID))

		exec := env.WaitForExecutionStatus(
			t, execID, api.ExecutionCancelled)
		assert.False(t, env.Runner.WasInvoked("later-op"))
		assert.Equal(t, 1, env.Runner.InvocationCount("slow-op"))
		assert.NotContains(t, exec.StepResults, "second")
	})
}

// TestDependencyGating verifies that a skipped step gates its dependents
// without failing the execution
func TestDependencyGating(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		gated := helpers.NewTaskStep("gated", "gated-op")
		gated.Condition = helpers.NewExprCondition("false")
		dependent := helpers.NewTaskStep("dependent", "dependent-op")
		dependent.Dependencies = []string{"gated"}

		wf := helpers.NewTestWorkflow("wf-gating",
			gated,
			dependent,
			helpers.NewTaskStep("free", "free-op"),
		)
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		exec := env.RunToCompletion(t, "wf-gating", nil)
		require.Equal(t, api.ExecutionCompleted, exec.Status)

		assert.Equal(t, api.StepSkipped, exec.StepResults["gated"].Status)
		assert.Equal(t, api.StepSkipped,
			exec.StepResults["dependent"].Status)
		assert.Equal(t, api.StepCompleted, exec.StepResults["free"].Status)
		assert.False(t, env.Runner.WasInvoked("gated-op"))
		assert.False(t, env.Runner.WasInvoked("dependent-op"))
		assert.Equal(t, 2, exec.Metrics.StepsSkipped)
	})
}

// TestInvalidTransitions verifies that out-of-order lifecycle calls are
// rejected
func TestInvalidTransitions(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		wf := helpers.NewTestWorkflow("wf-transitions",
			helpers.NewTaskStep("only", "only-op"))
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		err := env.Engine.PauseExecution("no-such-execution")
		assert.ErrorIs(t, err, store.ErrExecutionNotFound)

		exec := env.RunToCompletion(t, "wf-transitions", nil)
		require.Equal(t, api.ExecutionCompleted, exec.Status)

		assert.ErrorIs(t,
			env.Engine.PauseExecution(exec.ID), engine.ErrInvalidState)
		assert.ErrorIs(t,
			env.Engine.ResumeExecution(exec.ID), engine.ErrInvalidState)
		assert.ErrorIs(t,
			env.Engine.CancelExecution(exec.ID), engine.ErrInvalidState)
	})
}

// TestExecutionSurvivesInStore verifies that a finished execution can
// still be fetched through the store after its run settles
func TestExecutionSurvivesInStore(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		wf := helpers.NewTestWorkflow("wf-retained",
			helpers.NewTaskStep("only", "only-op"))
		require.NoError(t,
			env.Engine.CreateWorkflow(context.Background(), wf))

		exec := env.RunToCompletion(t, "wf-retained", nil)

		stored, err := env.Store.GetExecution(
			context.Background(), exec.ID)
		require.NoError(t, err)
		assert.Equal(t, api.ExecutionCompleted, stored.Status)
		assert.Equal(t, "wf-retained", stored.WorkflowID)
		assert.NotZero(t, stored.EndedAt)
	})
}

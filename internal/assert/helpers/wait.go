package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/loomhq/loom/pkg/api"
)

// EventWaiter waits for events matching a filter. Create before triggering
// the action so no event is missed
type EventWaiter struct {
	env    *TestEngineEnv
	events chan api.Event
	filter func(api.Event) bool
	desc   string
}

// DefaultTimeout bounds event waits in tests
const DefaultTimeout = 5 * time.Second

// Subscribe creates a waiter for events matching the filter
func (env *TestEngineEnv) Subscribe(
	desc string, filter func(api.Event) bool,
) *EventWaiter {
	w := &EventWaiter{
		env:    env,
		events: make(chan api.Event, 64),
		filter: filter,
	}
	w.desc = desc
	env.Engine.Subscribe(func(ev api.Event) {
		select {
		case w.events <- ev:
		default:
		}
	})
	return w
}

// Wait blocks until a matching event arrives and returns it
func (w *EventWaiter) Wait(t *testing.T) api.Event {
	t.Helper()

	deadline := time.After(DefaultTimeout)
	for {
		select {
		case ev := <-w.events:
			if w.filter(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", w.desc)
			return api.Event{}
		}
	}
}

// SubscribeToExecutionDone creates a waiter for an execution reaching a
// terminal state
func (env *TestEngineEnv) SubscribeToExecutionDone() *EventWaiter {
	return env.Subscribe("execution to settle", func(ev api.Event) bool {
		switch ev.Type {
		case api.EventExecutionCompleted,
			api.EventExecutionFailed,
			api.EventExecutionCancelled:
			return true
		default:
			return false
		}
	})
}

// SubscribeToEvent creates a waiter for a specific event type
func (env *TestEngineEnv) SubscribeToEvent(t api.EventType) *EventWaiter {
	return env.Subscribe(string(t), func(ev api.Event) bool {
		return ev.Type == t
	})
}

// RunToCompletion executes a registered workflow and waits for it to reach
// a terminal state, returning the final execution snapshot
func (env *TestEngineEnv) RunToCompletion(
	t *testing.T, workflowID string, vars api.Vars,
) *api.Execution {
	t.Helper()

	waiter := env.SubscribeToExecutionDone()
	execID, err := env.Engine.ExecuteWorkflow(
		context.Background(), workflowID, vars, "test")
	if err != nil {
		t.Fatalf("failed to execute workflow %s: %v", workflowID, err)
	}

	for {
		ev := waiter.Wait(t)
		if ev.ExecutionID == execID {
			break
		}
	}

	exec, err := env.Engine.GetExecution(context.Background(), execID)
	if err != nil {
		t.Fatalf("failed to get execution %s: %v", execID, err)
	}
	return exec
}

// WaitForExecutionStatus polls until the execution reaches the wanted
// status, for transitions that do not emit terminal events
func (env *TestEngineEnv) WaitForExecutionStatus(
	t *testing.T, execID string, want api.ExecutionStatus,
) *api.Execution {
	t.Helper()

	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		exec, err := env.Engine.GetExecution(context.Background(), execID)
		if err == nil && exec.Status == want {
			return exec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for execution %s to reach %s", execID, want)
	return nil
}

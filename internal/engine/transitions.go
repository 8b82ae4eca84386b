package engine

import (
	"github.com/loomhq/loom/pkg/api"
	"github.com/loomhq/loom/pkg/util"
)

// StateTransitions maps states to their set of valid next states
//
// Generic state transition tables are used to validate execution and step
// status changes
type StateTransitions[T comparable] map[T]util.Set[T]

var (
	executionTransitions = StateTransitions[api.ExecutionStatus]{
		api.ExecutionPending: util.SetOf(
			api.ExecutionRunning,
			api.ExecutionCancelled,
		),
		api.ExecutionRunning: util.SetOf(
			api.ExecutionPaused,
			api.ExecutionCompleted,
			api.ExecutionFailed,
			api.ExecutionCancelled,
		),
		api.ExecutionPaused: util.SetOf(
			api.ExecutionRunning,
			api.ExecutionCancelled,
		),
		api.ExecutionCompleted: {},
		api.ExecutionFailed:    {},
		api.ExecutionCancelled: {},
	}

	stepTransitions = StateTransitions[api.StepStatus]{
		api.StepPending: util.SetOf(
			api.StepRunning,
			api.StepSkipped,
			api.StepFailed,
		),
		api.StepRunning: util.SetOf(
			api.StepCompleted,
			api.StepFailed,
			api.StepSkipped,
		),
		// retry re-enters a failed step from the top, and a later loop
		// iteration may skip it outright
		api.StepFailed: util.SetOf(
			api.StepRunning,
			api.StepSkipped,
		),
		// a skipped step may become runnable on a later pass
		api.StepSkipped: util.SetOf(
			api.StepRunning,
		),
		// loop bodies re-enter completed steps on later iterations; a
		// completed result is never downgraded to skipped
		api.StepCompleted: util.SetOf(
			api.StepRunning,
		),
	}
)

// CanTransition returns whether transition from one state to another is
// valid
func (t StateTransitions[T]) CanTransition(from, to T) bool {
	allowed, ok := t[from]
	if !ok {
		return false
	}
	return allowed.Contains(to)
}

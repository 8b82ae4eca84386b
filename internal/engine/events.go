package engine

import (
	"time"

	"github.com/loomhq/loom/pkg/api"
)

// publish stamps and queues a lifecycle event
func (e *Engine) publish(ev api.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.hub.Publish(ev)
}

func (e *Engine) emitExecution(
	t api.EventType, workflowID, executionID string,
) {
	e.publish(api.Event{
		Type:        t,
		WorkflowID:  workflowID,
		ExecutionID: executionID,
	})
}

func (e *Engine) emitStep(
	t api.EventType, workflowID, executionID, stepID string,
) {
	e.publish(api.Event{
		Type:        t,
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		StepID:      stepID,
	})
}

package api

import "time"

type (
	EventType string

	// Event is a lifecycle event emitted by the engine and streamed to
	// subscribers
	Event struct {
		Type        EventType `json:"type"`
		WorkflowID  string    `json:"workflow_id,omitempty"`
		ExecutionID string    `json:"execution_id,omitempty"`
		StepID      string    `json:"step_id,omitempty"`
		Payload     any       `json:"payload,omitempty"`
		Time        time.Time `json:"time"`
	}
)

const (
	EventWorkflowCreated    EventType = "workflow:created"
	EventExecutionStarted   EventType = "execution:started"
	EventExecutionPaused    EventType = "execution:paused"
	EventExecutionResumed   EventType = "execution:resumed"
	EventExecutionCompleted EventType = "execution:completed"
	EventExecutionFailed    EventType = "execution:failed"
	EventExecutionCancelled EventType = "execution:cancelled"
	EventStepCompleted      EventType = "step:completed"
	EventStepAdded          EventType = "workflow:step-added"
	EventStepRemoved        EventType = "workflow:step-removed"
	EventErrorEscalated     EventType = "error:escalated"
	EventWorkflowTrigger    EventType = "workflow:trigger"
)

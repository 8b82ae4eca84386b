package api

type (
	// ExecuteRequest starts an execution of a workflow
	ExecuteRequest struct {
		Variables   Vars   `json:"variables,omitempty"`
		TriggeredBy string `json:"triggered_by,omitempty"`
	}

	// ExecuteResponse carries the id of the asynchronously started run
	ExecuteResponse struct {
		ExecutionID string `json:"execution_id"`
	}

	// AddStepRequest adds a dynamic step to a workflow's step list. An
	// empty After appends to the end of the list
	AddStepRequest struct {
		Step  *Step  `json:"step"`
		After string `json:"after,omitempty"`
	}

	// TriggerMessage is an inbound workflow:trigger delivery
	TriggerMessage struct {
		Topic   string `json:"topic"`
		Payload Vars   `json:"payload,omitempty"`
	}

	// TriggerResponse lists the executions started by a trigger
	TriggerResponse struct {
		ExecutionIDs []string `json:"execution_ids"`
	}

	// ErrorResponse is the standard error payload of the HTTP API
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}

	// WorkflowListResponse lists registered workflow definitions
	WorkflowListResponse struct {
		Workflows []*Workflow `json:"workflows"`
		Count     int         `json:"count"`
	}

	// SubscribeRequest narrows a websocket client's event stream. Empty
	// filters match everything
	SubscribeRequest struct {
		Type       string      `json:"type"`
		EventTypes []EventType `json:"event_types,omitempty"`
		WorkflowID string      `json:"workflow_id,omitempty"`
	}

	// HealthResponse reports service liveness
	HealthResponse struct {
		Service string `json:"service"`
		Version string `json:"version"`
		Status  string `json:"status"`
	}
)

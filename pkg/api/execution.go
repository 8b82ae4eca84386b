package api

import (
	"time"

	"github.com/loomhq/loom/pkg/util"
)

type (
	ExecutionStatus string
	StepStatus      string
	LogLevel        string

	// Execution is one run of a workflow: a variable snapshot, per-step
	// results, an append-only log, and a live status. Executions are
	// retained for inspection after completion; the engine never deletes
	// them
	Execution struct {
		ID          string                 `json:"id"`
		WorkflowID  string                 `json:"workflow_id"`
		Status      ExecutionStatus        `json:"status"`
		Variables   Vars                   `json:"variables"`
		StepResults map[string]*StepResult `json:"step_results"`
		Log         []LogEntry             `json:"log"`
		Metrics     Metrics                `json:"metrics"`
		CurrentStep string                 `json:"current_step,omitempty"`
		TriggeredBy string                 `json:"triggered_by,omitempty"`
		Error       string                 `json:"error,omitempty"`
		StartedAt   time.Time              `json:"started_at"`
		EndedAt     time.Time              `json:"ended_at,omitzero"`
		PausedAt    time.Time              `json:"paused_at,omitzero"`
		DurationMs  int64                  `json:"duration_ms,omitempty"`
	}

	// StepResult is the recorded outcome of one step within one execution
	StepResult struct {
		StepID     string     `json:"step_id"`
		Status     StepStatus `json:"status"`
		Output     any        `json:"output,omitempty"`
		Error      string     `json:"error,omitempty"`
		DurationMs int64      `json:"duration_ms"`
		RetryCount int        `json:"retry_count"`
		Variables  Vars       `json:"variables,omitempty"`
		Log        []string   `json:"log,omitempty"`
		StartedAt  time.Time  `json:"started_at"`
		EndedAt    time.Time  `json:"ended_at,omitzero"`
	}

	// LogEntry is one line of an execution's append-only log
	LogEntry struct {
		Time    time.Time `json:"time"`
		Level   LogLevel  `json:"level"`
		Message string    `json:"message"`
		StepID  string    `json:"step_id,omitempty"`
	}

	// Metrics carries an execution's performance counters
	Metrics struct {
		StepsCompleted int `json:"steps_completed"`
		StepsFailed    int `json:"steps_failed"`
		StepsSkipped   int `json:"steps_skipped"`
		Retries        int `json:"retries"`
	}
)

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"

	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"

	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

var terminalStatuses = util.SetOf(
	ExecutionCompleted,
	ExecutionFailed,
	ExecutionCancelled,
)

// IsTerminal reports whether the status admits no further transitions
func (s ExecutionStatus) IsTerminal() bool {
	return terminalStatuses.Contains(s)
}

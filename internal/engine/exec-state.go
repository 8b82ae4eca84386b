package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loomhq/loom/pkg/api"
	"github.com/loomhq/loom/pkg/log"
)

// execRun drives one execution of a workflow. All mutable execution state
// (status, variables, step results, log, metrics) is guarded by mu: nested
// and parallel branches read and write the same variable map, so concurrent
// writers of the same key race by design (last write wins), but the map
// itself stays consistent
type execRun struct {
	e      *Engine
	wf     *api.Workflow
	exec   *api.Execution
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex

	// active is true while a run goroutine owns this execution. At most
	// one pass may be live at a time: a second pass would re-execute the
	// step the first is still inside
	active bool
}

func (r *execRun) status() api.ExecutionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.Status
}

// setStatus validates and applies an execution status transition
func (r *execRun) setStatus(to api.ExecutionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.exec.Status
	if !executionTransitions.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}

	r.exec.Status = to
	now := time.Now()
	switch to {
	case api.ExecutionPaused:
		r.exec.PausedAt = now
	case api.ExecutionCompleted, api.ExecutionFailed, api.ExecutionCancelled:
		r.exec.EndedAt = now
		r.exec.DurationMs = now.Sub(r.exec.StartedAt).Milliseconds()
	}
	return nil
}

// endRun applies a terminal transition for a finishing pass. When the
// transition is refused because a pause request won the race, the pass
// is released so a later resume can launch a fresh one
func (r *execRun) endRun(to api.ExecutionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.exec.Status
	if !executionTransitions.CanTransition(from, to) {
		if from == api.ExecutionPaused {
			r.active = false
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}

	r.exec.Status = to
	now := time.Now()
	r.exec.EndedAt = now
	r.exec.DurationMs = now.Sub(r.exec.StartedAt).Milliseconds()
	return nil
}

// resume transitions a paused execution back to running. It reports
// whether the caller must launch a new pass: a pass still draining from
// the pause request observes the resume at its next checkpoint instead
func (r *execRun) resume() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.exec.Status
	if !executionTransitions.CanTransition(from, api.ExecutionRunning) {
		return false, fmt.Errorf(
			"%w: %s -> %s", ErrInvalidState, from, api.ExecutionRunning)
	}
	r.exec.Status = api.ExecutionRunning
	r.exec.Error = ""

	if r.active {
		return false, nil
	}
	r.active = true
	return true, nil
}

func (r *execRun) setCurrentStep(stepID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exec.CurrentStep = stepID
}

// varsClone returns a point-in-time copy of the execution's variable map
func (r *execRun) varsClone() api.Vars {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.Variables.Clone()
}

func (r *execRun) setVar(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exec.Variables[name] = value
}

func (r *execRun) resultStatus(stepID string) (api.StepStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.exec.StepResults[stepID]
	if !ok {
		return "", false
	}
	return res.Status, true
}

// setStepStatus applies a step status change when the transition table
// allows it, reporting whether the write took effect. Re-entering the
// current status is the retry path and always succeeds
func setStepStatus(res *api.StepResult, to api.StepStatus) bool {
	from := res.Status
	if from == "" {
		from = api.StepPending
	}
	if from != to && !stepTransitions.CanTransition(from, to) {
		return false
	}
	res.Status = to
	return true
}

// beginStep creates or resets the step's result record and marks it
// running. The retry count survives only when re-entering an in-flight
// step (the retry path); a fresh invocation starts from zero
func (r *execRun) beginStep(step *api.Step) *api.StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.exec.StepResults[step.ID]
	if !ok {
		res = &api.StepResult{StepID: step.ID}
		r.exec.StepResults[step.ID] = res
	}

	if res.Status != api.StepRunning {
		res.RetryCount = 0
	}
	setStepStatus(res, api.StepRunning)
	res.Output = nil
	res.Error = ""
	res.StartedAt = time.Now()
	res.EndedAt = time.Time{}
	res.DurationMs = 0
	return res
}

func (r *execRun) finishCompleted(step *api.Step, res *api.StepResult, output any) {
	r.mu.Lock()
	r.exec.Variables.Merge(step.Assign)
	setStepStatus(res, api.StepCompleted)
	res.Output = output
	res.EndedAt = time.Now()
	res.DurationMs = res.EndedAt.Sub(res.StartedAt).Milliseconds()
	res.Variables = r.exec.Variables.Clone()
	r.exec.Metrics.StepsCompleted++
	r.mu.Unlock()

	r.logStep(api.LevelInfo, step.ID, "step completed")
	r.e.emitStep(api.EventStepCompleted, r.exec.WorkflowID, r.exec.ID, step.ID)
	r.persist()
}

func (r *execRun) finishFailed(step *api.Step, res *api.StepResult, err error) {
	r.mu.Lock()
	setStepStatus(res, api.StepFailed)
	res.Error = err.Error()
	res.EndedAt = time.Now()
	res.DurationMs = res.EndedAt.Sub(res.StartedAt).Milliseconds()
	res.Variables = r.exec.Variables.Clone()
	r.exec.Metrics.StepsFailed++
	r.mu.Unlock()

	r.logStep(api.LevelError, step.ID, "step failed: "+err.Error())
	r.persist()
}

// skipStep records a skip without ever starting the step. A completed
// result is never downgraded: the transition table refuses it, so a step
// that ran on an earlier iteration keeps its outcome
func (r *execRun) skipStep(step *api.Step, reason string) {
	r.mu.Lock()
	res, ok := r.exec.StepResults[step.ID]
	if !ok {
		res = &api.StepResult{StepID: step.ID}
		r.exec.StepResults[step.ID] = res
	}
	if !setStepStatus(res, api.StepSkipped) {
		r.mu.Unlock()
		return
	}
	res.Output = reason
	r.exec.Metrics.StepsSkipped++
	r.mu.Unlock()

	r.logStep(api.LevelWarn, step.ID, "step skipped: "+reason)
}

func (r *execRun) bumpRetries(res *api.StepResult) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	res.RetryCount++
	r.exec.Metrics.Retries++
	return res.RetryCount
}

// logStep appends to the execution log and, when a result record exists,
// to the step's own log lines
func (r *execRun) logStep(level api.LogLevel, stepID, message string) {
	r.mu.Lock()
	r.exec.Log = append(r.exec.Log, api.LogEntry{
		Time:    time.Now(),
		Level:   level,
		Message: message,
		StepID:  stepID,
	})
	if res, ok := r.exec.StepResults[stepID]; ok {
		res.Log = append(res.Log, message)
	}
	r.mu.Unlock()
}

func (r *execRun) logRun(level api.LogLevel, message string) {
	r.mu.Lock()
	r.exec.Log = append(r.exec.Log, api.LogEntry{
		Time:    time.Now(),
		Level:   level,
		Message: message,
	})
	r.mu.Unlock()
}

// snapshot returns a deep copy of the execution safe for external readers
func (r *execRun) snapshot() *api.Execution {
	r.mu.Lock()
	data, err := json.Marshal(r.exec)
	r.mu.Unlock()
	if err != nil {
		slog.Error("Failed to snapshot execution",
			log.ExecutionID(r.exec.ID),
			log.Error(err))
		return nil
	}

	var copied api.Execution
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil
	}
	return &copied
}

// persist writes the current execution snapshot through the store
func (r *execRun) persist() {
	snap := r.snapshot()
	if snap == nil {
		return
	}
	if err := r.e.store.SaveExecution(r.e.ctx, snap); err != nil {
		slog.Error("Failed to persist execution",
			log.ExecutionID(snap.ID),
			log.Error(err))
	}
}

// sleep waits for the given duration, returning false if the run context
// is cancelled first
func (r *execRun) sleep(ctx context.Context, ms int64) bool {
	if ms <= 0 {
		return true
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

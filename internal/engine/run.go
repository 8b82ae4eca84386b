package engine

import (
	"fmt"
	"log/slog"

	"github.com/loomhq/loom/pkg/api"
	"github.com/loomhq/loom/pkg/log"
)

// start launches one asynchronous pass over the workflow's step list.
// It is a no-op while another pass owns the execution; at most one run
// goroutine may be live per execution
func (r *execRun) start() {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return
	}
	r.active = true
	r.mu.Unlock()
	r.launch()
}

func (r *execRun) launch() {
	r.e.wg.Add(1)
	go r.run()
}

// run makes a single linear pass over the step list in declared order. The
// engine performs no backtracking: authors must list steps in an order
// consistent with the dependency graph, which workflow validation enforces
// at creation time. Steps already completed (a resumed pass) are skipped
func (r *execRun) run() {
	defer r.e.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			r.fail(fmt.Errorf("step handler panicked: %v", p))
		}
	}()

	for i := 0; ; i++ {
		step, ok := r.e.stepAt(r.wf, i)
		if !ok {
			break
		}
		if !r.checkpoint() {
			return
		}
		if status, ok := r.resultStatus(step.ID); ok &&
			status == api.StepCompleted {
			continue
		}

		r.setCurrentStep(step.ID)
		if err := r.executeStep(r.ctx, step); err != nil {
			r.fail(err)
			return
		}
	}

	r.complete()
}

// checkpoint reports whether the pass should continue. Pause and
// cancellation take effect here, at step boundaries. Observing the pause
// also releases the execution, in the same critical section as the status
// read, so a resume either restarts this pass or launches the next one
// but never both
func (r *execRun) checkpoint() bool {
	r.mu.Lock()
	status := r.exec.Status
	if status == api.ExecutionPaused {
		r.active = false
	}
	r.mu.Unlock()

	switch status {
	case api.ExecutionRunning:
		return true
	case api.ExecutionPaused:
		r.logRun(api.LevelInfo, "execution paused, leaving run loop")
		r.persist()
		return false
	default:
		return false
	}
}

func (r *execRun) complete() {
	if err := r.endRun(api.ExecutionCompleted); err != nil {
		// paused or cancelled concurrently; that outcome stands and the
		// pass is released
		return
	}

	r.logRun(api.LevelInfo, "execution completed")
	r.persist()
	r.archive()
	r.e.emitExecution(api.EventExecutionCompleted, r.exec.WorkflowID, r.exec.ID)

	slog.Info("Execution completed",
		log.ExecutionID(r.exec.ID),
		log.WorkflowID(r.exec.WorkflowID))
}

func (r *execRun) fail(err error) {
	if endErr := r.endRun(api.ExecutionFailed); endErr != nil {
		// a pause request or cancellation won the race; that status
		// stands, but the failure is still recorded so the execution
		// remains inspectable and a resume can retry the step
		r.mu.Lock()
		if r.exec.Error == "" {
			r.exec.Error = err.Error()
		}
		r.mu.Unlock()
		r.logRun(api.LevelError, "execution failed: "+err.Error())
		r.persist()
		return
	}

	r.mu.Lock()
	r.exec.Error = err.Error()
	r.mu.Unlock()

	r.logRun(api.LevelError, "execution failed: "+err.Error())
	r.persist()
	r.archive()
	r.e.emitExecution(api.EventExecutionFailed, r.exec.WorkflowID, r.exec.ID)

	slog.Error("Execution failed",
		log.ExecutionID(r.exec.ID),
		log.WorkflowID(r.exec.WorkflowID),
		log.Error(err))
}

func (r *execRun) archive() {
	if r.e.archiver == nil {
		return
	}
	snap := r.snapshot()
	if snap == nil {
		return
	}
	if err := r.e.archiver.Put(r.e.ctx, snap); err != nil {
		slog.Error("Failed to archive execution",
			log.ExecutionID(snap.ID),
			log.Error(err))
	}
}

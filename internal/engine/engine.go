// Package engine implements the workflow execution engine: workflow
// registration, asynchronous execution with pause/resume/cancel, control
// flow step handlers, condition evaluation, error recovery, and lifecycle
// event emission
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kode4food/caravan/topic"

	"github.com/loomhq/loom/internal/archive"
	"github.com/loomhq/loom/internal/client"
	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/engine/event"
	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/pkg/api"
	"github.com/loomhq/loom/pkg/log"
)

type (
	// Engine owns the workflow definitions, live executions, and the
	// collaborators steps delegate to. Create one with New, wire
	// subscribers, then Start it
	Engine struct {
		cfg       *config.Config
		store     store.Store
		runner    client.TaskRunner
		inference client.Inference
		archiver  archive.Archiver
		registry  *Registry
		evaluator *Evaluator
		generator *Generator
		lua       *LuaEnv
		hub       *event.Hub
		ctx       context.Context
		cancel    context.CancelFunc
		wg        sync.WaitGroup

		// defMu guards workflow definitions against dynamic step mutation
		defMu     sync.RWMutex
		workflows map[string]*api.Workflow

		runs sync.Map // execution id -> *execRun
	}

	// Dependencies carries the collaborators an Engine is built from.
	// Store is required; the rest are optional, disabling the features
	// that depend on them
	Dependencies struct {
		Store     store.Store
		Runner    client.TaskRunner
		Inference client.Inference
		Archiver  archive.Archiver
		Registry  *Registry
	}
)

var (
	ErrInvalidState    = errors.New("invalid state transition")
	ErrWorkflowExists  = errors.New("workflow already exists")
	ErrStepExists      = errors.New("step already exists")
	ErrStepNotFound    = errors.New("step not found")
	ErrShutdownTimeout = errors.New("shutdown timed out")
)

// New creates an engine from its configuration and collaborators
func New(cfg *config.Config, deps Dependencies) *Engine {
	registry := deps.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	lua := NewLuaEnv()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		store:     deps.Store,
		runner:    deps.Runner,
		inference: deps.Inference,
		archiver:  deps.Archiver,
		registry:  registry,
		evaluator: NewEvaluator(lua, registry, deps.Inference),
		generator: NewGenerator(registry, deps.Inference),
		lua:       lua,
		hub:       event.NewHub(),
		ctx:       ctx,
		cancel:    cancel,
		workflows: map[string]*api.Workflow{},
	}
}

// Start begins event dispatch. Call before executing workflows
func (e *Engine) Start() {
	e.hub.Start()
	slog.Info("Engine started")
}

// Subscribe registers a lifecycle event subscriber
func (e *Engine) Subscribe(fn event.Subscriber) {
	e.hub.Subscribe(fn)
}

// EventConsumer attaches a streaming consumer to the engine's event topic.
// The caller owns the consumer and must close it
func (e *Engine) EventConsumer() topic.Consumer[api.Event] {
	return e.hub.NewConsumer()
}

// Shutdown cancels running executions and waits for them to settle, bounded
// by the configured shutdown timeout. Remaining events are flushed to
// subscribers before returning
func (e *Engine) Shutdown() error {
	slog.Info("Engine shutting down")

	e.runs.Range(func(_, value any) bool {
		r := value.(*execRun)
		if !r.status().IsTerminal() {
			e.cancelRun(r)
		}
		return true
	})
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(e.cfg.ShutdownTimeout):
		err = ErrShutdownTimeout
	}

	e.hub.Flush()
	e.lua.Close()
	return err
}

// CreateWorkflow validates, registers, and persists a workflow definition
func (e *Engine) CreateWorkflow(ctx context.Context, wf *api.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}

	e.defMu.Lock()
	if _, ok := e.workflows[wf.ID]; ok {
		e.defMu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkflowExists, wf.ID)
	}
	e.workflows[wf.ID] = wf
	e.defMu.Unlock()

	if err := e.store.SaveWorkflow(ctx, wf); err != nil {
		return err
	}

	e.publish(api.Event{
		Type:       api.EventWorkflowCreated,
		WorkflowID: wf.ID,
	})
	slog.Info("Workflow created",
		log.WorkflowID(wf.ID),
		slog.String("name", wf.Name))
	return nil
}

// GetWorkflow returns a registered workflow, falling back to the store
func (e *Engine) GetWorkflow(
	ctx context.Context, id string,
) (*api.Workflow, error) {
	e.defMu.RLock()
	wf, ok := e.workflows[id]
	e.defMu.RUnlock()
	if ok {
		return wf, nil
	}
	return e.store.GetWorkflow(ctx, id)
}

// ListWorkflows returns all persisted workflow definitions
func (e *Engine) ListWorkflows(ctx context.Context) ([]*api.Workflow, error) {
	return e.store.ListWorkflows(ctx)
}

// ExecuteWorkflow starts an asynchronous execution of the workflow,
// overlaying the workflow's declared variables with the caller's. It
// returns the execution id immediately
func (e *Engine) ExecuteWorkflow(
	ctx context.Context, workflowID string, vars api.Vars, triggeredBy string,
) (string, error) {
	wf, err := e.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}

	exec := &api.Execution{
		ID:          uuid.NewString(),
		WorkflowID:  wf.ID,
		Status:      api.ExecutionPending,
		Variables:   wf.Variables.Merged(vars),
		StepResults: map[string]*api.StepResult{},
		TriggeredBy: triggeredBy,
		StartedAt:   time.Now(),
	}

	runCtx, cancel := context.WithCancel(e.ctx)
	r := &execRun{
		e:      e,
		wf:     wf,
		exec:   exec,
		ctx:    runCtx,
		cancel: cancel,
	}
	e.runs.Store(exec.ID, r)

	if err := r.setStatus(api.ExecutionRunning); err != nil {
		return "", err
	}
	r.persist()
	e.emitExecution(api.EventExecutionStarted, wf.ID, exec.ID)
	slog.Info("Execution started",
		log.ExecutionID(exec.ID),
		log.WorkflowID(wf.ID))

	r.start()
	return exec.ID, nil
}

// PauseExecution requests a pause; the run loop honors it at the next step
// boundary
func (e *Engine) PauseExecution(id string) error {
	r, err := e.liveRun(id)
	if err != nil {
		return err
	}
	if err := r.setStatus(api.ExecutionPaused); err != nil {
		return err
	}

	e.emitExecution(api.EventExecutionPaused, r.exec.WorkflowID, id)
	slog.Info("Execution paused", log.ExecutionID(id))
	return nil
}

// ResumeExecution resumes a paused execution with a fresh pass over the
// step list. Steps that already completed are skipped. When the paused
// pass has not drained yet it is reused rather than duplicated
func (e *Engine) ResumeExecution(id string) error {
	r, err := e.liveRun(id)
	if err != nil {
		return err
	}
	fresh, err := r.resume()
	if err != nil {
		return err
	}

	e.emitExecution(api.EventExecutionResumed, r.exec.WorkflowID, id)
	slog.Info("Execution resumed", log.ExecutionID(id))
	if fresh {
		r.launch()
	}
	return nil
}

// CancelExecution cancels a pending, running, or paused execution
func (e *Engine) CancelExecution(id string) error {
	r, err := e.liveRun(id)
	if err != nil {
		return err
	}
	return e.cancelRun(r)
}

func (e *Engine) cancelRun(r *execRun) error {
	if err := r.setStatus(api.ExecutionCancelled); err != nil {
		return err
	}
	r.cancel()

	r.logRun(api.LevelWarn, "execution cancelled")
	r.persist()
	r.archive()
	e.emitExecution(
		api.EventExecutionCancelled, r.exec.WorkflowID, r.exec.ID)
	slog.Info("Execution cancelled", log.ExecutionID(r.exec.ID))
	return nil
}

// GetExecution returns an execution snapshot: live runs first, then the
// store, then the archive
func (e *Engine) GetExecution(
	ctx context.Context, id string,
) (*api.Execution, error) {
	if value, ok := e.runs.Load(id); ok {
		if snap := value.(*execRun).snapshot(); snap != nil {
			return snap, nil
		}
	}

	exec, err := e.store.GetExecution(ctx, id)
	if err == nil {
		return exec, nil
	}
	if !errors.Is(err, store.ErrExecutionNotFound) || e.archiver == nil {
		return nil, err
	}
	return e.archiver.Get(ctx, id)
}

// AddDynamicStep inserts a step into the workflow's top-level list after
// the named step, or appends when after is empty. The mutation is visible
// to every execution of the workflow, including ones already running that
// have not yet passed the insertion point
func (e *Engine) AddDynamicStep(
	workflowID string, step *api.Step, after string,
) error {
	if err := step.Validate(); err != nil {
		return err
	}

	e.defMu.Lock()
	defer e.defMu.Unlock()

	wf, ok := e.workflows[workflowID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrWorkflowNotFound, workflowID)
	}
	if wf.FindStep(step.ID) != nil {
		return fmt.Errorf("%w: %s", ErrStepExists, step.ID)
	}

	if after == "" {
		wf.Steps = append(wf.Steps, step)
	} else {
		at := -1
		for i, s := range wf.Steps {
			if s.ID == after {
				at = i
				break
			}
		}
		if at < 0 {
			return fmt.Errorf("%w: %s", ErrStepNotFound, after)
		}
		wf.Steps = append(
			wf.Steps[:at+1],
			append([]*api.Step{step}, wf.Steps[at+1:]...)...,
		)
	}

	e.publish(api.Event{
		Type:       api.EventStepAdded,
		WorkflowID: workflowID,
		StepID:     step.ID,
	})
	slog.Info("Dynamic step added",
		log.WorkflowID(workflowID),
		log.StepID(step.ID))
	return nil
}

// RemoveStep removes a top-level step from the workflow. Steps that are
// currently running, or already completed in a live execution, cannot be
// removed
func (e *Engine) RemoveStep(workflowID, stepID string) error {
	e.defMu.Lock()
	defer e.defMu.Unlock()

	wf, ok := e.workflows[workflowID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrWorkflowNotFound, workflowID)
	}
	if wf.FindStep(stepID) == nil {
		return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	if err := e.stepInUse(workflowID, stepID); err != nil {
		return err
	}

	steps := make([]*api.Step, 0, len(wf.Steps)-1)
	for _, s := range wf.Steps {
		if s.ID != stepID {
			steps = append(steps, s)
		}
	}
	wf.Steps = steps

	e.publish(api.Event{
		Type:       api.EventStepRemoved,
		WorkflowID: workflowID,
		StepID:     stepID,
	})
	slog.Info("Dynamic step removed",
		log.WorkflowID(workflowID),
		log.StepID(stepID))
	return nil
}

// HandleTrigger starts an execution of every workflow subscribed to the
// message's topic, binding the trigger payload into each execution's
// variables
func (e *Engine) HandleTrigger(
	ctx context.Context, msg api.TriggerMessage,
) ([]string, error) {
	e.defMu.RLock()
	var subscribed []*api.Workflow
	for _, wf := range e.workflows {
		if wf.Subscribed(msg.Topic) {
			subscribed = append(subscribed, wf)
		}
	}
	e.defMu.RUnlock()

	e.publish(api.Event{
		Type:    api.EventWorkflowTrigger,
		Payload: api.Vars{"topic": msg.Topic},
	})

	ids := make([]string, 0, len(subscribed))
	for _, wf := range subscribed {
		id, err := e.ExecuteWorkflow(
			ctx, wf.ID, msg.Payload, "trigger:"+msg.Topic)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// stepAt reads the workflow's step list under the definition lock so
// running passes observe dynamic mutation safely
func (e *Engine) stepAt(wf *api.Workflow, i int) (*api.Step, bool) {
	e.defMu.RLock()
	defer e.defMu.RUnlock()

	if i < 0 || i >= len(wf.Steps) {
		return nil, false
	}
	return wf.Steps[i], true
}

func (e *Engine) liveRun(id string) (*execRun, error) {
	value, ok := e.runs.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrExecutionNotFound, id)
	}
	return value.(*execRun), nil
}

// stepInUse reports whether any live execution of the workflow has started
// or finished the step
func (e *Engine) stepInUse(workflowID, stepID string) error {
	var inUse error
	e.runs.Range(func(_, value any) bool {
		r := value.(*execRun)
		if r.exec.WorkflowID != workflowID || r.status().IsTerminal() {
			return true
		}
		if status, ok := r.resultStatus(stepID); ok &&
			(status == api.StepRunning || status == api.StepCompleted) {
			inUse = fmt.Errorf("%w: step %s is %s in execution %s",
				ErrInvalidState, stepID, status, r.exec.ID)
			return false
		}
		return true
	})
	return inUse
}

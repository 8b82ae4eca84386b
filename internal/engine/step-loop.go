package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loomhq/loom/pkg/api"
)

type (
	// iterationRecord captures the outcome of one loop iteration
	iterationRecord struct {
		Index      int      `json:"index"`
		DurationMs int64    `json:"duration_ms"`
		Skipped    bool     `json:"skipped,omitempty"`
		Error      string   `json:"error,omitempty"`
		Variables  api.Vars `json:"variables,omitempty"`
	}

	loopOutput struct {
		Type       api.LoopType       `json:"type"`
		Iterations int                `json:"iterations"`
		Succeeded  int                `json:"succeeded"`
		Failed     int                `json:"failed"`
		Skipped    int                `json:"skipped"`
		Broken     bool               `json:"broken,omitempty"`
		Capped     bool               `json:"capped,omitempty"`
		Records    []*iterationRecord `json:"records"`
	}
)

var ErrLoopConfigMissing = errors.New("loop config required")

// runWhile handles the condition-driven loop types. A while loop checks
// the condition before each iteration, an until loop checks after, so an
// until loop always runs the body at least once. Body errors propagate to
// the step's error handling. MaxIterations is a hard cap enforced even
// when the condition never releases the loop
func (r *execRun) runWhile(
	ctx context.Context, step *api.Step,
) (any, error) {
	loop := step.Loop
	if loop == nil {
		return nil, definitionError(
			fmt.Errorf("%w: %s", ErrLoopConfigMissing, step.ID),
		)
	}

	out := &loopOutput{Type: loop.Type}
	for i := 0; i < loop.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if loop.Type == api.LoopWhile {
			ok, err := r.e.evaluator.Evaluate(ctx, loop.Condition, r.varsClone())
			if err != nil {
				return nil, err
			}
			if !ok {
				return out, nil
			}
		}

		r.setVar(api.VarLoopIndex, i)
		rec, brk, err := r.runIteration(ctx, step, loop, i)
		out.record(rec)
		if err != nil {
			return nil, err
		}
		if brk {
			out.Broken = true
			return out, nil
		}

		if loop.Type == api.LoopUntil {
			ok, err := r.e.evaluator.Evaluate(ctx, loop.Condition, r.varsClone())
			if err != nil {
				return nil, err
			}
			if ok {
				return out, nil
			}
		}

		if !r.sleep(ctx, loop.IterationDelayMs) {
			return nil, ctx.Err()
		}
	}

	out.Capped = true
	r.logStep(api.LevelWarn, step.ID, fmt.Sprintf(
		"loop stopped at max_iterations (%d)", loop.MaxIterations))
	return out, nil
}

// runFor handles the counter and item driven loop types. Iteration
// failures are recorded in the output but never abort the loop or fail
// the step
func (r *execRun) runFor(
	ctx context.Context, step *api.Step,
) (any, error) {
	loop := step.Loop
	if loop == nil {
		return nil, definitionError(
			fmt.Errorf("%w: %s", ErrLoopConfigMissing, step.ID),
		)
	}

	switch loop.Type {
	case api.LoopFor:
		return r.runCounting(ctx, step, loop)
	case api.LoopForEach:
		return r.runForEach(ctx, step, loop)
	case api.LoopBatch:
		return r.runBatched(ctx, step, loop)
	case api.LoopAsyncParallel:
		return r.runAsyncParallel(ctx, step, loop)
	default:
		return nil, definitionError(
			fmt.Errorf("%w: %s", api.ErrInvalidLoopType, loop.Type),
		)
	}
}

func (r *execRun) runCounting(
	ctx context.Context, step *api.Step, loop *api.LoopConfig,
) (any, error) {
	out := &loopOutput{Type: loop.Type}
	for i := 0; i < loop.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r.setVar(api.VarLoopIndex, i)
		rec, brk, err := r.runIteration(ctx, step, loop, i)
		if fatal := loopFatal(err); fatal != nil {
			return nil, fatal
		}
		if err != nil {
			rec = r.failedIteration(step, i, err)
		}
		out.record(rec)
		if brk {
			out.Broken = true
			return out, nil
		}
		if !r.sleep(ctx, loop.IterationDelayMs) {
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (r *execRun) runForEach(
	ctx context.Context, step *api.Step, loop *api.LoopConfig,
) (any, error) {
	items, err := resolveItems(r.varsClone(), loop.ItemsExpression)
	if err != nil {
		return nil, err
	}

	out := &loopOutput{Type: loop.Type}
	for i, item := range items {
		if i >= loop.MaxIterations {
			out.Capped = true
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r.setVar(api.VarLoopIndex, i)
		r.setVar(api.VarLoopItem, item)
		rec, brk, err := r.runIteration(ctx, step, loop, i)
		if fatal := loopFatal(err); fatal != nil {
			return nil, fatal
		}
		if err != nil {
			rec = r.failedIteration(step, i, err)
		}
		out.record(rec)
		if brk {
			out.Broken = true
			return out, nil
		}
		if !r.sleep(ctx, loop.IterationDelayMs) {
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// runBatched slices the items into sequential batches of BatchSize and
// runs the body once per batch with the batch bound as __loop_batch
func (r *execRun) runBatched(
	ctx context.Context, step *api.Step, loop *api.LoopConfig,
) (any, error) {
	items, err := resolveItems(r.varsClone(), loop.ItemsExpression)
	if err != nil {
		return nil, err
	}

	out := &loopOutput{Type: loop.Type}
	for start, i := 0, 0; start < len(items); start, i = start+loop.BatchSize, i+1 {
		if i >= loop.MaxIterations {
			out.Capped = true
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+loop.BatchSize, len(items))
		r.setVar(api.VarLoopIndex, i)
		r.setVar(api.VarLoopBatch, items[start:end])
		rec, brk, err := r.runIteration(ctx, step, loop, i)
		if fatal := loopFatal(err); fatal != nil {
			return nil, fatal
		}
		if err != nil {
			rec = r.failedIteration(step, i, err)
		}
		out.record(rec)
		if brk {
			out.Broken = true
			return out, nil
		}
		if !r.sleep(ctx, loop.IterationDelayMs) {
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// runAsyncParallel fans the items out to a bounded set of workers. Item
// iterations share the execution's variable map, so writers of the same
// key race with last write winning. Break and continue conditions are not
// applied; every item runs
func (r *execRun) runAsyncParallel(
	ctx context.Context, step *api.Step, loop *api.LoopConfig,
) (any, error) {
	items, err := resolveItems(r.varsClone(), loop.ItemsExpression)
	if err != nil {
		return nil, err
	}
	if len(items) > loop.MaxIterations {
		items = items[:loop.MaxIterations]
	}

	limit := loop.MaxConcurrency
	if limit <= 0 {
		limit = r.e.cfg.MaxConcurrency
	}

	records := make([]*iterationRecord, len(items))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, item := range items {
		sem <- struct{}{}
		wg.Go(func() {
			defer func() { <-sem }()

			r.setVar(api.VarLoopIndex, i)
			r.setVar(api.VarLoopItem, item)
			started := time.Now()
			rec := &iterationRecord{Index: i}
			if err := r.runSteps(ctx, loop.Body); err != nil {
				rec.Error = err.Error()
				r.logStep(api.LevelWarn, step.ID, fmt.Sprintf(
					"iteration %d failed: %s", i, err))
			}
			rec.DurationMs = time.Since(started).Milliseconds()
			rec.Variables = r.varsClone()
			records[i] = rec
		})
	}
	wg.Wait()

	out := &loopOutput{Type: loop.Type}
	for _, rec := range records {
		out.record(rec)
	}
	return out, nil
}

// runIteration applies the continue and break conditions around one body
// pass and returns the iteration record plus whether the loop should break
func (r *execRun) runIteration(
	ctx context.Context, step *api.Step, loop *api.LoopConfig, index int,
) (*iterationRecord, bool, error) {
	rec := &iterationRecord{Index: index}

	// the iteration body runs only while the continue condition holds; a
	// skipped iteration still counts toward the cap
	if loop.ContinueCondition != nil {
		ok, err := r.e.evaluator.Evaluate(
			ctx, loop.ContinueCondition, r.varsClone())
		if err != nil {
			return rec, false, err
		}
		if !ok {
			rec.Skipped = true
			r.logStep(api.LevelDebug, step.ID, fmt.Sprintf(
				"iteration %d skipped by continue condition", index))
			return rec, false, nil
		}
	}

	started := time.Now()
	err := r.runSteps(ctx, loop.Body)
	rec.DurationMs = time.Since(started).Milliseconds()
	rec.Variables = r.varsClone()
	if err != nil {
		rec.Error = err.Error()
		return rec, false, err
	}

	if loop.BreakCondition != nil {
		brk, err := r.e.evaluator.Evaluate(
			ctx, loop.BreakCondition, r.varsClone())
		if err != nil {
			return rec, false, err
		}
		if brk {
			r.logStep(api.LevelDebug, step.ID, fmt.Sprintf(
				"break condition met at iteration %d", index))
			return rec, true, nil
		}
	}
	return rec, false, nil
}

// loopFatal identifies errors that must abort an otherwise fault-tolerant
// for loop: malformed definitions and cancellation
func loopFatal(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBadDefinition) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (r *execRun) failedIteration(
	step *api.Step, index int, err error,
) *iterationRecord {
	r.logStep(api.LevelWarn, step.ID, fmt.Sprintf(
		"iteration %d failed: %s", index, err))
	return &iterationRecord{
		Index:     index,
		Error:     err.Error(),
		Variables: r.varsClone(),
	}
}

func (o *loopOutput) record(rec *iterationRecord) {
	if rec == nil {
		return
	}
	o.Records = append(o.Records, rec)
	o.Iterations++
	switch {
	case rec.Skipped:
		o.Skipped++
	case rec.Error != "":
		o.Failed++
	default:
		o.Succeeded++
	}
}

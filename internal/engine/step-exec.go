package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loomhq/loom/pkg/api"
)

// ErrBadDefinition wraps errors that indicate a malformed workflow
// definition (unknown step type, unknown condition type, unknown generator
// strategy, missing branches). They bypass the error handling strategies
// and fail the execution immediately
var ErrBadDefinition = errors.New("malformed workflow definition")

func definitionError(err error) error {
	return fmt.Errorf("%w: %w", ErrBadDefinition, err)
}

// executeStep runs a single step: dependency gating, condition evaluation,
// dispatch to the type handler, and failure recovery. It is re-entered
// from the top by the retry strategy, re-evaluating the condition
func (r *execRun) executeStep(ctx context.Context, step *api.Step) error {
	if unmet := r.unmetDependencies(step); len(unmet) > 0 {
		r.skipStep(step, "dependencies not satisfied: "+
			strings.Join(unmet, ", "))
		return nil
	}

	res := r.beginStep(step)

	if step.Condition != nil {
		ok, err := r.e.evaluator.Evaluate(ctx, step.Condition, r.varsClone())
		if err != nil {
			r.finishFailed(step, res, err)
			return err
		}
		if !ok {
			r.skipStep(step, "condition evaluated false")
			return nil
		}
	}

	output, err := r.dispatch(ctx, step)
	if err != nil {
		if errors.Is(err, ErrBadDefinition) {
			r.finishFailed(step, res, err)
			return err
		}
		return r.recoverStep(ctx, step, res, err)
	}

	r.finishCompleted(step, res, output)
	return nil
}

func (r *execRun) dispatch(
	ctx context.Context, step *api.Step,
) (any, error) {
	switch step.Type {
	case api.StepTask:
		return r.runTask(ctx, step)
	case api.StepIfElse, api.StepSwitch:
		return r.runBranching(ctx, step)
	case api.StepWhile:
		return r.runWhile(ctx, step)
	case api.StepFor:
		return r.runFor(ctx, step)
	case api.StepParallel:
		return r.runParallel(ctx, step)
	case api.StepTryCatch:
		return r.runTryCatch(ctx, step)
	case api.StepDynamicTask:
		return r.runDynamic(ctx, step)
	default:
		return nil, definitionError(
			fmt.Errorf("%w: %s", api.ErrInvalidStepType, step.Type),
		)
	}
}

// unmetDependencies returns the dependency ids that do not have a
// completed step result
func (r *execRun) unmetDependencies(step *api.Step) []string {
	var unmet []string
	for _, dep := range step.Dependencies {
		if status, ok := r.resultStatus(dep); !ok ||
			status != api.StepCompleted {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

// runSteps executes a nested step list in order, stopping at the first
// unhandled error. Nested errors propagate unchanged so enclosing
// handlers (and step results) see the original message
func (r *execRun) runSteps(ctx context.Context, steps []*api.Step) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.executeStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

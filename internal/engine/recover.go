package engine

import (
	"context"
	"fmt"

	"github.com/loomhq/loom/pkg/api"
)

// recoverStep applies the effective error handling strategy to a failed
// step. The step-level config wins over the workflow default; with
// neither present the error propagates and fails the execution
func (r *execRun) recoverStep(
	ctx context.Context, step *api.Step, res *api.StepResult, stepErr error,
) error {
	cfg := step.ErrorHandling
	if cfg == nil {
		cfg = r.wf.ErrorHandling
	}
	if cfg == nil {
		r.finishFailed(step, res, stepErr)
		return stepErr
	}

	switch cfg.Strategy {
	case api.StrategyIgnore:
		r.finishFailed(step, res, stepErr)
		r.logStep(api.LevelWarn, step.ID,
			"error ignored, continuing workflow")
		return nil

	case api.StrategyRetry:
		return r.retryStep(ctx, step, res, cfg, stepErr)

	case api.StrategyFallback:
		r.finishFailed(step, res, stepErr)
		r.logStep(api.LevelWarn, step.ID, "running fallback steps")
		if err := r.runSteps(ctx, cfg.Fallback); err != nil {
			r.logStep(api.LevelError, step.ID,
				"fallback failed: "+err.Error())
		}
		return nil

	case api.StrategyCompensate:
		r.finishFailed(step, res, stepErr)
		r.logStep(api.LevelWarn, step.ID, "running compensation steps")
		if err := r.runSteps(ctx, cfg.Compensation); err != nil {
			r.logStep(api.LevelError, step.ID,
				"compensation failed: "+err.Error())
		}
		return nil

	case api.StrategyEscalate:
		r.finishFailed(step, res, stepErr)
		r.escalate(step, cfg, stepErr)
		return stepErr

	default:
		r.finishFailed(step, res, stepErr)
		return stepErr
	}
}

// retryStep re-enters executeStep until the retries are spent. The
// step's result record stays running between attempts so the retry count
// survives re-entry
func (r *execRun) retryStep(
	ctx context.Context, step *api.Step, res *api.StepResult,
	cfg *api.ErrorHandlingConfig, stepErr error,
) error {
	if res.RetryCount >= cfg.MaxRetries {
		r.logStep(api.LevelError, step.ID, fmt.Sprintf(
			"retries exhausted after %d attempts", res.RetryCount))
		r.finishFailed(step, res, stepErr)
		return stepErr
	}

	attempt := r.bumpRetries(res)
	r.logStep(api.LevelWarn, step.ID, fmt.Sprintf(
		"retry %d/%d after error: %s", attempt, cfg.MaxRetries, stepErr))

	if !r.sleep(ctx, cfg.BackoffDelayMs(attempt)) {
		r.finishFailed(step, res, ctx.Err())
		return ctx.Err()
	}
	return r.executeStep(ctx, step)
}

func (r *execRun) escalate(
	step *api.Step, cfg *api.ErrorHandlingConfig, stepErr error,
) {
	payload := api.Vars{"error": stepErr.Error()}
	if rule := cfg.Escalation; rule != nil {
		payload["notify"] = rule.Notify
		payload["severity"] = rule.Severity
	}
	r.e.publish(api.Event{
		Type:        api.EventErrorEscalated,
		WorkflowID:  r.exec.WorkflowID,
		ExecutionID: r.exec.ID,
		StepID:      step.ID,
		Payload:     payload,
	})
	r.logStep(api.LevelError, step.ID, "error escalated: "+stepErr.Error())
}

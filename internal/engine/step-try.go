package engine

import (
	"context"
	"fmt"

	"github.com/loomhq/loom/pkg/api"
)

type tryCatchOutput struct {
	TryFailed bool   `json:"try_failed"`
	Caught    bool   `json:"caught"`
	Error     string `json:"error,omitempty"`
}

// runTryCatch executes the reserved try branch, routes any unhandled error
// to the catch branch (with the message injected as __error), and always
// runs the finally branch last. Catch and finally failures are logged but
// never override the try outcome. A try failure with no catch branch
// re-raises the original error after finally
func (r *execRun) runTryCatch(
	ctx context.Context, step *api.Step,
) (any, error) {
	try := step.FindBranch(api.BranchTry)
	if try == nil {
		return nil, definitionError(
			fmt.Errorf("%w: %s", api.ErrTryBranchMissing, step.ID),
		)
	}

	tryErr := r.runSteps(ctx, try.Steps)

	out := &tryCatchOutput{TryFailed: tryErr != nil}
	if tryErr != nil {
		out.Error = tryErr.Error()
		r.logStep(api.LevelWarn, step.ID,
			"try branch failed: "+tryErr.Error())

		if catch := step.FindBranch(api.BranchCatch); catch != nil {
			r.setVar(api.VarError, tryErr.Error())
			if catchErr := r.runSteps(ctx, catch.Steps); catchErr != nil {
				r.logStep(api.LevelWarn, step.ID,
					"catch branch failed: "+catchErr.Error())
			}
			out.Caught = true
			tryErr = nil
		}
	}

	if finally := step.FindBranch(api.BranchFinally); finally != nil {
		if finErr := r.runSteps(ctx, finally.Steps); finErr != nil {
			r.logStep(api.LevelWarn, step.ID,
				"finally branch failed: "+finErr.Error())
		}
	}

	if tryErr != nil {
		return nil, tryErr
	}
	return out, nil
}

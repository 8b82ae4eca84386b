package engine

import (
	"context"

	"github.com/loomhq/loom/pkg/api"
)

type branchOutput struct {
	Matched any `json:"matched"`
}

// runBranching handles if-else and switch steps: branches are evaluated in
// ascending priority order and the first branch whose condition holds has
// its nested steps executed. No match is a valid terminal outcome, not an
// error; the step succeeds with a null match
func (r *execRun) runBranching(
	ctx context.Context, step *api.Step,
) (any, error) {
	for _, branch := range step.SortedBranches() {
		matched := true
		if branch.Condition != nil {
			ok, err := r.e.evaluator.Evaluate(
				ctx, branch.Condition, r.varsClone(),
			)
			if err != nil {
				return nil, err
			}
			matched = ok
		}
		if !matched {
			continue
		}

		if err := r.runSteps(ctx, branch.Steps); err != nil {
			return nil, err
		}
		return &branchOutput{Matched: branch.ID}, nil
	}

	r.logStep(api.LevelInfo, step.ID, "no branch matched")
	return &branchOutput{Matched: nil}, nil
}

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loomhq/loom/pkg/api"
)

type (
	branchResult struct {
		BranchID   string `json:"branch_id"`
		Success    bool   `json:"success"`
		Error      string `json:"error,omitempty"`
		DurationMs int64  `json:"duration_ms"`
	}

	parallelOutput struct {
		Total     int             `json:"total"`
		Succeeded int             `json:"succeeded"`
		Failed    int             `json:"failed"`
		Branches  []*branchResult `json:"branches"`
	}
)

// runParallel runs the step's branches concurrently in declaration order,
// in batches bounded by the configured concurrency. Each batch drains
// fully before the next begins. Branch failures are aggregated into the
// output; the step itself succeeds regardless
func (r *execRun) runParallel(
	ctx context.Context, step *api.Step,
) (any, error) {
	limit := r.e.cfg.MaxConcurrency
	if step.Loop != nil && step.Loop.MaxConcurrency > 0 {
		limit = step.Loop.MaxConcurrency
	}

	out := &parallelOutput{
		Total:    len(step.Branches),
		Branches: make([]*branchResult, len(step.Branches)),
	}

	for start := 0; start < len(step.Branches); start += limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+limit, len(step.Branches))
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			branch := step.Branches[i]
			wg.Go(func() {
				out.Branches[i] = r.runBranch(ctx, step, branch)
			})
		}
		wg.Wait()
	}

	for _, res := range out.Branches {
		if res.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	return out, nil
}

func (r *execRun) runBranch(
	ctx context.Context, step *api.Step, branch *api.Branch,
) *branchResult {
	res := &branchResult{BranchID: branch.ID, Success: true}
	started := time.Now()
	if err := r.runSteps(ctx, branch.Steps); err != nil {
		res.Success = false
		res.Error = err.Error()
		r.logStep(api.LevelWarn, step.ID, fmt.Sprintf(
			"branch %s failed: %s", branch.ID, err))
	}
	res.DurationMs = time.Since(started).Milliseconds()
	return res
}

package engine

import (
	"context"
	"errors"
	"time"

	"github.com/loomhq/loom/pkg/api"
)

var ErrNoTaskRunner = errors.New("no task runner configured")

// runTask delegates the step's work to the task runner collaborator
func (r *execRun) runTask(ctx context.Context, step *api.Step) (any, error) {
	if r.e.runner == nil {
		return nil, ErrNoTaskRunner
	}

	cfg := step.Task
	if cfg.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(
			ctx, time.Duration(cfg.TimeoutMs)*time.Millisecond,
		)
		defer cancel()
	}

	return r.e.runner.Run(ctx, cfg.Command, cfg.AgentType, r.varsClone())
}

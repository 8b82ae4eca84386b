package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loomhq/loom/pkg/api"
)

var ErrDynamicConfigMissing = errors.New("dynamic task config required")

type (
	generatedResult struct {
		TaskID     string `json:"task_id"`
		Name       string `json:"name"`
		Success    bool   `json:"success"`
		Output     any    `json:"output,omitempty"`
		Error      string `json:"error,omitempty"`
		DurationMs int64  `json:"duration_ms"`
	}

	dynamicOutput struct {
		Generated int                `json:"generated"`
		Succeeded int                `json:"succeeded"`
		Failed    int                `json:"failed"`
		Tasks     []*generatedResult `json:"tasks"`
	}
)

// runDynamic generates the step's task batch and runs every task through
// the task runner, aggregating per-task outcomes. Task failures never
// abort the batch
func (r *execRun) runDynamic(
	ctx context.Context, step *api.Step,
) (any, error) {
	if step.Dynamic == nil {
		return nil, definitionError(
			fmt.Errorf("%w: %s", ErrDynamicConfigMissing, step.ID),
		)
	}
	if r.e.runner == nil {
		return nil, ErrNoTaskRunner
	}

	tasks, err := r.e.generator.Generate(ctx, step.Dynamic, r.varsClone())
	if err != nil {
		return nil, err
	}
	r.logStep(api.LevelInfo, step.ID, fmt.Sprintf(
		"generated %d tasks via %s strategy",
		len(tasks), step.Dynamic.Strategy))

	out := &dynamicOutput{Generated: len(tasks)}
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res := &generatedResult{TaskID: task.ID, Name: task.Name}
		started := time.Now()
		output, err := r.e.runner.Run(
			ctx, task.Command, "", r.varsClone().Merged(task.Params),
		)
		res.DurationMs = time.Since(started).Milliseconds()
		if err != nil {
			res.Error = err.Error()
			out.Failed++
			r.logStep(api.LevelWarn, step.ID, fmt.Sprintf(
				"task %s failed: %s", task.Name, err))
		} else {
			res.Success = true
			res.Output = output
			out.Succeeded++
		}
		out.Tasks = append(out.Tasks, res)
	}
	return out, nil
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/client"
	"github.com/loomhq/loom/pkg/api"
)

// Generator produces ad-hoc task batches for dynamic-task steps. Every
// strategy is subject to the config's task cap
type Generator struct {
	registry  *Registry
	inference client.Inference
}

var ErrNoInference = errors.New("no inference collaborator configured")

// NewGenerator creates a dynamic task generator
func NewGenerator(registry *Registry, inference client.Inference) *Generator {
	return &Generator{
		registry:  registry,
		inference: inference,
	}
}

// Generate produces the task batch for the given config. Unknown
// strategies are definition errors
func (g *Generator) Generate(
	ctx context.Context, cfg *api.DynamicTaskConfig, vars api.Vars,
) ([]*api.GeneratedTask, error) {
	switch cfg.Strategy {
	case api.GeneratorExpression:
		return g.expand(cfg), nil
	case api.GeneratorFunction:
		return g.fromFunction(cfg, vars)
	case api.GeneratorAI:
		return g.fromInference(ctx, cfg, vars)
	case api.GeneratorTemplate:
		return g.fromTemplate(cfg)
	default:
		return nil, definitionError(
			fmt.Errorf("%w: %s", api.ErrInvalidGenerator, cfg.Strategy),
		)
	}
}

// expand produces Count copies of the configured command, each carrying
// its ordinal as a parameter
func (g *Generator) expand(cfg *api.DynamicTaskConfig) []*api.GeneratedTask {
	count := min(cfg.Count, cfg.TaskCap())
	prefix := cfg.NamePrefix
	if prefix == "" {
		prefix = "task"
	}

	tasks := make([]*api.GeneratedTask, count)
	for i := range tasks {
		params := cfg.Params.Clone()
		params[api.VarTaskIndex] = i
		tasks[i] = &api.GeneratedTask{
			ID:      uuid.NewString(),
			Name:    fmt.Sprintf("%s-%d", prefix, i),
			Command: cfg.Command,
			Params:  params,
		}
	}
	return tasks
}

func (g *Generator) fromFunction(
	cfg *api.DynamicTaskConfig, vars api.Vars,
) ([]*api.GeneratedTask, error) {
	fn, err := g.registry.Generator(cfg.Function)
	if err != nil {
		return nil, err
	}

	tasks, err := fn(cfg, vars)
	if err != nil {
		return nil, err
	}
	return capTasks(tasks, cfg.TaskCap()), nil
}

func (g *Generator) fromTemplate(
	cfg *api.DynamicTaskConfig,
) ([]*api.GeneratedTask, error) {
	tasks, err := g.registry.Template(cfg.Template)
	if err != nil {
		return nil, err
	}
	return capTasks(tasks, cfg.TaskCap()), nil
}

func (g *Generator) fromInference(
	ctx context.Context, cfg *api.DynamicTaskConfig, vars api.Vars,
) ([]*api.GeneratedTask, error) {
	if g.inference == nil {
		return nil, ErrNoInference
	}

	response, err := g.inference.Ask(ctx, cfg.AIPrompt, vars)
	if err != nil {
		return nil, err
	}
	return capTasks(parseTaskResponse(response), cfg.TaskCap()), nil
}

// parseTaskResponse interprets an inference response as a JSON array of
// tasks, falling back to one task per non-empty line of plain text
func parseTaskResponse(response string) []*api.GeneratedTask {
	var tasks []*api.GeneratedTask
	trimmed := strings.TrimSpace(response)
	if err := json.Unmarshal([]byte(trimmed), &tasks); err == nil {
		for _, t := range tasks {
			if t.ID == "" {
				t.ID = uuid.NewString()
			}
		}
		return tasks
	}

	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		tasks = append(tasks, &api.GeneratedTask{
			ID:      uuid.NewString(),
			Name:    line,
			Command: line,
		})
	}
	return tasks
}

func capTasks(
	tasks []*api.GeneratedTask, limit int,
) []*api.GeneratedTask {
	if len(tasks) > limit {
		return tasks[:limit]
	}
	return tasks
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/pkg/api"
)

// Redis is a Store backed by Redis. Workflows and executions are stored as
// JSON snapshots under prefixed keys; workflow ids are additionally tracked
// in a set so definitions can be listed
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis-backed store and verifies connectivity
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Redis{
		client: client,
		prefix: cfg.Prefix,
	}, nil
}

func (r *Redis) SaveWorkflow(ctx context.Context, wf *api.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.workflowKey(wf.ID), data, 0)
	pipe.SAdd(ctx, r.indexKey(), wf.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) GetWorkflow(
	ctx context.Context, id string,
) (*api.Workflow, error) {
	data, err := r.client.Get(ctx, r.workflowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var wf api.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (r *Redis) ListWorkflows(ctx context.Context) ([]*api.Workflow, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, err
	}

	var res []*api.Workflow
	for _, id := range ids {
		wf, err := r.GetWorkflow(ctx, id)
		if errors.Is(err, ErrWorkflowNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, wf)
	}
	return res, nil
}

func (r *Redis) SaveExecution(ctx context.Context, ex *api.Execution) error {
	data, err := json.Marshal(ex)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.executionKey(ex.ID), data, 0).Err()
}

func (r *Redis) GetExecution(
	ctx context.Context, id string,
) (*api.Execution, error) {
	data, err := r.client.Get(ctx, r.executionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var ex api.Execution
	if err := json.Unmarshal(data, &ex); err != nil {
		return nil, err
	}
	return &ex, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) workflowKey(id string) string {
	return fmt.Sprintf("%s:workflow:%s", r.prefix, id)
}

func (r *Redis) executionKey(id string) string {
	return fmt.Sprintf("%s:execution:%s", r.prefix, id)
}

func (r *Redis) indexKey() string {
	return fmt.Sprintf("%s:workflows", r.prefix)
}

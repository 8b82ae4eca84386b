package store_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/pkg/api"
)

func testWorkflow(id string) *api.Workflow {
	return &api.Workflow{
		ID:      id,
		Name:    "Workflow " + id,
		Version: "1.0.0",
		Steps: []*api.Step{
			{
				ID:   "a",
				Name: "A",
				Type: api.StepTask,
				Task: &api.TaskConfig{Command: "do a"},
			},
		},
	}
}

func testExecution(id, workflowID string) *api.Execution {
	return &api.Execution{
		ID:          id,
		WorkflowID:  workflowID,
		Status:      api.ExecutionCompleted,
		Variables:   api.Vars{"env": "test"},
		StepResults: map[string]*api.StepResult{},
	}
}

func withStores(t *testing.T, fn func(*testing.T, store.Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		m := store.NewMemory()
		defer func() { _ = m.Close() }()
		fn(t, m)
	})

	t.Run("redis", func(t *testing.T) {
		server, err := miniredis.Run()
		require.NoError(t, err)
		defer server.Close()

		r, err := store.NewRedis(context.Background(), config.RedisConfig{
			Addr:   server.Addr(),
			Prefix: "test",
		})
		require.NoError(t, err)
		defer func() { _ = r.Close() }()
		fn(t, r)
	})
}

func TestWorkflowRoundTrip(t *testing.T) {
	withStores(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		wf := testWorkflow("wf-1")

		require.NoError(t, s.SaveWorkflow(ctx, wf))

		got, err := s.GetWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, wf.ID, got.ID)
		assert.Equal(t, wf.Name, got.Name)
		require.Len(t, got.Steps, 1)
		assert.Equal(t, "do a", got.Steps[0].Task.Command)
	})
}

func TestWorkflowNotFound(t *testing.T) {
	withStores(t, func(t *testing.T, s store.Store) {
		_, err := s.GetWorkflow(context.Background(), "missing")
		assert.ErrorIs(t, err, store.ErrWorkflowNotFound)
	})
}

func TestListWorkflows(t *testing.T) {
	withStores(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveWorkflow(ctx, testWorkflow("wf-1")))
		require.NoError(t, s.SaveWorkflow(ctx, testWorkflow("wf-2")))

		flows, err := s.ListWorkflows(ctx)
		require.NoError(t, err)
		assert.Len(t, flows, 2)
	})
}

func TestExecutionRoundTrip(t *testing.T) {
	withStores(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		ex := testExecution("ex-1", "wf-1")

		require.NoError(t, s.SaveExecution(ctx, ex))

		got, err := s.GetExecution(ctx, "ex-1")
		require.NoError(t, err)
		assert.Equal(t, api.ExecutionCompleted, got.Status)
		assert.Equal(t, "test", got.Variables["env"])
	})
}

func TestExecutionNotFound(t *testing.T) {
	withStores(t, func(t *testing.T, s store.Store) {
		_, err := s.GetExecution(context.Background(), "missing")
		assert.ErrorIs(t, err, store.ErrExecutionNotFound)
	})
}

// Saving again overwrites the previous snapshot
func TestExecutionOverwrite(t *testing.T) {
	withStores(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		ex := testExecution("ex-1", "wf-1")
		ex.Status = api.ExecutionRunning
		require.NoError(t, s.SaveExecution(ctx, ex))

		ex.Status = api.ExecutionCompleted
		require.NoError(t, s.SaveExecution(ctx, ex))

		got, err := s.GetExecution(ctx, "ex-1")
		require.NoError(t, err)
		assert.Equal(t, api.ExecutionCompleted, got.Status)
	})
}

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomhq/loom/pkg/api"
)

// Memory is an in-process Store used for tests and embedded deployments
type Memory struct {
	mu         sync.RWMutex
	workflows  map[string]*api.Workflow
	executions map[string]*api.Execution
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		workflows:  map[string]*api.Workflow{},
		executions: map[string]*api.Execution{},
	}
}

func (m *Memory) SaveWorkflow(_ context.Context, wf *api.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[wf.ID] = wf
	return nil
}

func (m *Memory) GetWorkflow(
	_ context.Context, id string,
) (*api.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wf, ok := m.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return wf, nil
}

func (m *Memory) ListWorkflows(context.Context) ([]*api.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]*api.Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		res = append(res, wf)
	}
	return res, nil
}

func (m *Memory) SaveExecution(_ context.Context, ex *api.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[ex.ID] = ex
	return nil
}

func (m *Memory) GetExecution(
	_ context.Context, id string,
) (*api.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ex, ok := m.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return ex, nil
}

func (m *Memory) Close() error {
	return nil
}

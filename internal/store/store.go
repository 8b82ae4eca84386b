// Package store persists workflow definitions and execution snapshots.
// Persistence is a collaborator concern: the engine writes snapshots at
// lifecycle transitions and reads through when an execution is no longer
// live in memory
package store

import (
	"context"
	"errors"

	"github.com/loomhq/loom/pkg/api"
)

// Store is the persistence contract consumed by the engine
type Store interface {
	SaveWorkflow(context.Context, *api.Workflow) error
	GetWorkflow(context.Context, string) (*api.Workflow, error)
	ListWorkflows(context.Context) ([]*api.Workflow, error)
	SaveExecution(context.Context, *api.Execution) error
	GetExecution(context.Context, string) (*api.Execution, error)
	Close() error
}

var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutionNotFound = errors.New("execution not found")
)

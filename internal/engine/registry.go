package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/loomhq/loom/pkg/api"
)

type (
	// PredicateFunc is a registered predicate backing function-type
	// conditions
	PredicateFunc func(api.Vars) (bool, error)

	// GeneratorFunc is a registered generator backing function-strategy
	// dynamic tasks
	GeneratorFunc func(
		*api.DynamicTaskConfig, api.Vars,
	) ([]*api.GeneratedTask, error)

	// Registry holds named predicates, task generators, and task templates.
	// It is injected at engine construction so multiple engine instances
	// can carry different registrations
	Registry struct {
		mu         sync.RWMutex
		predicates map[string]PredicateFunc
		generators map[string]GeneratorFunc
		templates  map[string][]*api.GeneratedTask
	}
)

var (
	ErrUnknownFunction  = errors.New("unknown predicate function")
	ErrUnknownGenerator = errors.New("unknown generator function")
	ErrUnknownTemplate  = errors.New("unknown task template")
)

// NewRegistry creates an empty registry with the built-in task templates
func NewRegistry() *Registry {
	r := &Registry{
		predicates: map[string]PredicateFunc{},
		generators: map[string]GeneratorFunc{},
		templates:  map[string][]*api.GeneratedTask{},
	}
	r.registerBuiltinTemplates()
	return r
}

// RegisterPredicate registers a named predicate function
func (r *Registry) RegisterPredicate(name string, fn PredicateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predicates[name] = fn
}

// RegisterGenerator registers a named task generator function
func (r *Registry) RegisterGenerator(name string, fn GeneratorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[name] = fn
}

// RegisterTemplate registers a named fixed task list
func (r *Registry) RegisterTemplate(name string, tasks []*api.GeneratedTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[name] = tasks
}

// Predicate returns the named predicate function
func (r *Registry) Predicate(name string) (PredicateFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.predicates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return fn, nil
}

// Generator returns the named generator function
func (r *Registry) Generator(name string) (GeneratorFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.generators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGenerator, name)
	}
	return fn, nil
}

// Template returns the named task template
func (r *Registry) Template(name string) ([]*api.GeneratedTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	return tasks, nil
}

func (r *Registry) registerBuiltinTemplates() {
	r.templates["data-processing"] = []*api.GeneratedTask{
		{ID: "extract", Name: "Extract", Command: "extract input data"},
		{ID: "transform", Name: "Transform", Command: "transform records"},
		{ID: "load", Name: "Load", Command: "load transformed records"},
	}
	r.templates["testing-suite"] = []*api.GeneratedTask{
		{ID: "unit", Name: "Unit Tests", Command: "run unit tests"},
		{ID: "integration", Name: "Integration Tests",
			Command: "run integration tests"},
		{ID: "report", Name: "Report", Command: "publish test report"},
	}
}

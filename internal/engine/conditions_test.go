package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/pkg/api"
)

type scriptedInference struct {
	response string
	err      error
	mu       sync.Mutex
}

func (s *scriptedInference) Ask(
	_ context.Context, _ string, _ api.Vars,
) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.response, s.err
}

func newTestEvaluator(inference *scriptedInference) (*Evaluator, *Registry) {
	registry := NewRegistry()
	lua := NewLuaEnv()
	return NewEvaluator(lua, registry, inference), registry
}

func TestEvaluateExpression(t *testing.T) {
	ev, _ := newTestEvaluator(nil)

	cond := &api.Condition{
		Type:       api.ConditionExpression,
		Expression: "count >= 3",
	}

	ok, err := ev.Evaluate(context.Background(), cond, api.Vars{"count": 5})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Evaluate(context.Background(), cond, api.Vars{"count": 1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateScript(t *testing.T) {
	ev, _ := newTestEvaluator(nil)

	cond := &api.Condition{
		Type: api.ConditionScript,
		Script: `
			local ready = status == "active"
			return ready
		`,
	}

	ok, err := ev.Evaluate(
		context.Background(), cond, api.Vars{"status": "active"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateFunction(t *testing.T) {
	ev, registry := newTestEvaluator(nil)
	registry.RegisterPredicate("is-admin", func(vars api.Vars) (bool, error) {
		return vars["role"] == "admin", nil
	})

	cond := &api.Condition{
		Type:     api.ConditionFunction,
		Function: "is-admin",
	}

	ok, err := ev.Evaluate(
		context.Background(), cond, api.Vars{"role": "admin"})
	require.NoError(t, err)
	assert.True(t, ok)
}

// A broken condition resolves to its configured fallback instead of
// failing the step
func TestEvaluateFailSafe(t *testing.T) {
	ev, _ := newTestEvaluator(nil)

	cond := &api.Condition{
		Type:       api.ConditionExpression,
		Expression: "this is not lua either",
		Fallback:   true,
	}

	ok, err := ev.Evaluate(context.Background(), cond, api.Vars{})
	require.NoError(t, err)
	assert.True(t, ok)

	cond.Fallback = false
	ok, err = ev.Evaluate(context.Background(), cond, api.Vars{})
	require.NoError(t, err)
	assert.False(t, ok)
}

// An unknown predicate name follows the fail-safe policy too
func TestEvaluateUnknownFunction(t *testing.T) {
	ev, _ := newTestEvaluator(nil)

	cond := &api.Condition{
		Type:     api.ConditionFunction,
		Function: "never-registered",
		Fallback: true,
	}

	ok, err := ev.Evaluate(context.Background(), cond, api.Vars{})
	require.NoError(t, err)
	assert.True(t, ok)
}

// An unknown condition type is a definition error and is the one case
// surfaced to the caller
func TestEvaluateUnknownType(t *testing.T) {
	ev, _ := newTestEvaluator(nil)

	cond := &api.Condition{Type: "vibes", Fallback: true}
	_, err := ev.Evaluate(context.Background(), cond, api.Vars{})
	assert.ErrorIs(t, err, ErrBadDefinition)
}

func TestEvaluateAIDecision(t *testing.T) {
	inference := &scriptedInference{response: "yes"}
	ev, _ := newTestEvaluator(inference)

	cond := &api.Condition{
		Type:     api.ConditionAIDecision,
		AIPrompt: "should we deploy?",
	}

	ok, err := ev.Evaluate(context.Background(), cond, api.Vars{})
	require.NoError(t, err)
	assert.True(t, ok)

	inference.response = "no"
	ok, err = ev.Evaluate(context.Background(), cond, api.Vars{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateAIDecisionError(t *testing.T) {
	inference := &scriptedInference{err: errors.New("model offline")}
	ev, _ := newTestEvaluator(inference)

	cond := &api.Condition{
		Type:     api.ConditionAIDecision,
		AIPrompt: "should we deploy?",
		Fallback: true,
	}

	ok, err := ev.Evaluate(context.Background(), cond, api.Vars{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCoerceResponse(t *testing.T) {
	assert.True(t, coerceResponse("true"))
	assert.True(t, coerceResponse(" YES "))
	assert.True(t, coerceResponse("y"))
	assert.True(t, coerceResponse("1"))
	assert.False(t, coerceResponse("false"))
	assert.False(t, coerceResponse("No"))
	assert.False(t, coerceResponse("0"))
	assert.False(t, coerceResponse(""))
	assert.True(t, coerceResponse("sure, go ahead"))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy([]any{}))
	assert.False(t, Truthy(map[string]any{}))

	assert.True(t, Truthy(true))
	assert.True(t, Truthy(1))
	assert.True(t, Truthy(-1.5))
	assert.True(t, Truthy("no"))
	assert.True(t, Truthy([]any{1}))
	assert.True(t, Truthy(map[string]any{"a": 1}))
}

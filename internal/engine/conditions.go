package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/loomhq/loom/internal/client"
	"github.com/loomhq/loom/pkg/api"
	"github.com/loomhq/loom/pkg/log"
)

// Evaluator evaluates step, branch, and loop conditions against the
// execution's variable map.
//
// Evaluation follows a fail-safe policy: when evaluation itself fails the
// evaluator logs a warning and reports the condition's configured fallback
// (default false) instead of propagating the error. A broken condition
// therefore disables its branch rather than crashing the workflow. The only
// errors surfaced to the caller are definition errors (an unknown condition
// type), which indicate a malformed workflow
type Evaluator struct {
	lua       *LuaEnv
	registry  *Registry
	inference client.Inference
}

var ErrUnknownConditionType = errors.New("unknown condition type")

// NewEvaluator creates a condition evaluator
func NewEvaluator(
	lua *LuaEnv, registry *Registry, inference client.Inference,
) *Evaluator {
	return &Evaluator{
		lua:       lua,
		registry:  registry,
		inference: inference,
	}
}

// Evaluate applies the fail-safe policy around evaluate
func (e *Evaluator) Evaluate(
	ctx context.Context, cond *api.Condition, vars api.Vars,
) (bool, error) {
	result, err := e.evaluate(ctx, cond, vars)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, ErrBadDefinition) {
		return false, err
	}

	slog.Warn("Condition evaluation failed, using fallback",
		slog.String("condition_type", string(cond.Type)),
		slog.Bool("fallback", cond.Fallback),
		log.Error(err))
	return cond.Fallback, nil
}

func (e *Evaluator) evaluate(
	ctx context.Context, cond *api.Condition, vars api.Vars,
) (bool, error) {
	switch cond.Type {
	case api.ConditionExpression:
		return e.evalExpression(cond.Expression, vars)
	case api.ConditionScript:
		return e.evalScript(cond.Script, vars)
	case api.ConditionFunction:
		return e.evalFunction(cond.Function, vars)
	case api.ConditionAIDecision:
		return e.evalAIDecision(ctx, cond, vars)
	default:
		return false, definitionError(
			fmt.Errorf("%w: %s", ErrUnknownConditionType, cond.Type),
		)
	}
}

func (e *Evaluator) evalExpression(expr string, vars api.Vars) (bool, error) {
	c, err := e.lua.CompileExpression(expr, vars)
	if err != nil {
		return false, err
	}

	value, err := e.lua.Eval(c, vars)
	if err != nil {
		return false, err
	}
	return Truthy(value), nil
}

func (e *Evaluator) evalScript(script string, vars api.Vars) (bool, error) {
	c, err := e.lua.CompileScript(script, vars)
	if err != nil {
		return false, err
	}

	value, err := e.lua.Eval(c, vars)
	if err != nil {
		return false, err
	}
	return Truthy(value), nil
}

func (e *Evaluator) evalFunction(name string, vars api.Vars) (bool, error) {
	fn, err := e.registry.Predicate(name)
	if err != nil {
		return false, err
	}
	return fn(vars)
}

func (e *Evaluator) evalAIDecision(
	ctx context.Context, cond *api.Condition, vars api.Vars,
) (bool, error) {
	if e.inference == nil {
		return false, errors.New("no inference collaborator configured")
	}

	if cond.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(
			ctx, time.Duration(cond.TimeoutMs)*time.Millisecond,
		)
		defer cancel()
	}

	response, err := e.inference.Ask(ctx, cond.AIPrompt, vars)
	if err != nil {
		return false, err
	}
	return coerceResponse(response), nil
}

// coerceResponse maps an inference response to a boolean decision
func coerceResponse(response string) bool {
	switch strings.ToLower(strings.TrimSpace(response)) {
	case "true", "yes", "y", "1":
		return true
	case "false", "no", "n", "0", "":
		return false
	default:
		return Truthy(response)
	}
}

// Truthy coerces a value to boolean: non-zero numbers and non-empty
// strings and collections are true
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16,
		reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16,
		reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}

package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/tidwall/gjson"

	"github.com/loomhq/loom/pkg/api"
)

var (
	ErrItemsNotFound = errors.New("items expression matched nothing")
	ErrItemsNotArray = errors.New("items expression is not a collection")
)

// resolveItems evaluates a foreach source expression as a gjson path into
// the variable document and returns the matched collection. Maps yield
// their values in key order so iteration stays deterministic
func resolveItems(vars api.Vars, expr string) ([]any, error) {
	value, ok := lookupPath(vars, expr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemsNotFound, expr)
	}

	switch value := value.(type) {
	case []any:
		return value, nil
	case map[string]any:
		items := make([]any, 0, len(value))
		for _, key := range slices.Sorted(maps.Keys(value)) {
			items = append(items, value[key])
		}
		return items, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrItemsNotArray, expr)
	}
}

// lookupPath reads a dotted gjson path from the variable document,
// reporting whether the path matched
func lookupPath(vars api.Vars, path string) (any, bool) {
	doc, err := json.Marshal(vars)
	if err != nil {
		return nil, false
	}

	result := gjson.GetBytes(doc, path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

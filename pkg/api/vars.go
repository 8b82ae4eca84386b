package api

import "maps"

// Vars is the variable context a workflow executes against. Workflow globals
// are merged with caller-supplied overrides when an execution is created, and
// steps mutate the resulting map as they run
type Vars map[string]any

// Reserved variable names injected by the engine during execution
const (
	VarLoopIndex = "__loop_index"
	VarLoopItem  = "__loop_item"
	VarLoopBatch = "__loop_batch"
	VarTaskIndex = "__task_index"
	VarError     = "__error"
)

// Clone returns a shallow copy of the variable map
func (v Vars) Clone() Vars {
	if v == nil {
		return Vars{}
	}
	return maps.Clone(v)
}

// Merge copies all entries from other into v, overwriting existing keys
func (v Vars) Merge(other Vars) {
	maps.Copy(v, other)
}

// Merged returns a new map containing v overlaid with other
func (v Vars) Merged(other Vars) Vars {
	res := v.Clone()
	res.Merge(other)
	return res
}

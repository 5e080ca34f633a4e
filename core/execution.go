package core

import (
	"reflect"
	"sort"
)

// MemoryName is the reserved root name under which the shared memory
// object is reachable from expressions and reference paths.
const MemoryName = "memory"

// Limits bounds how much of the execution context is rendered into prompts
// and tool results. Token counts use the renderer's tokenizer.
type Limits struct {
	ValueMaxTokens      int // per rendered value
	MaxItems            int // per section
	LocalsMaxTokens     int
	GlobalsMaxTokens    int
	MemoryMaxTokens     int
	ToolResultMaxTokens int
}

// DefaultLimits returns the default rendering limits.
func DefaultLimits() Limits {
	return Limits{
		ValueMaxTokens:      200,
		MaxItems:            200,
		LocalsMaxTokens:     1500,
		GlobalsMaxTokens:    1500,
		MemoryMaxTokens:     1500,
		ToolResultMaxTokens: 2000,
	}
}

// WithDefaults fills zero fields from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.ValueMaxTokens <= 0 {
		l.ValueMaxTokens = d.ValueMaxTokens
	}
	if l.MaxItems <= 0 {
		l.MaxItems = d.MaxItems
	}
	if l.LocalsMaxTokens <= 0 {
		l.LocalsMaxTokens = d.LocalsMaxTokens
	}
	if l.GlobalsMaxTokens <= 0 {
		l.GlobalsMaxTokens = d.GlobalsMaxTokens
	}
	if l.MemoryMaxTokens <= 0 {
		l.MemoryMaxTokens = d.MemoryMaxTokens
	}
	if l.ToolResultMaxTokens <= 0 {
		l.ToolResultMaxTokens = d.ToolResultMaxTokens
	}
	return l
}

// ExecutionContext is the isolated state a single step instance runs
// against. It is created fresh for every step call and is not safe for
// concurrent mutation: the runner and the tool boundary take turns.
type ExecutionContext struct {
	ID      string
	RunID   string
	ScopeID string

	// Function, File and Line locate the step in host source.
	Function string
	File     string
	Line     int

	Globals map[string]any
	Locals  map[string]any

	// CommitTargets are the output binding names the model may write.
	CommitTargets []string
	// BindingTypes holds the declared Go type of each output binding.
	BindingTypes map[string]reflect.Type

	Memory any
	Limits Limits

	// Revision increments on every successful model-initiated write.
	Revision int
	// Assigned records names written during the step, in first-write order.
	Assigned []string
}

// NewExecutionContext creates an empty execution context with the given id.
func NewExecutionContext(id string) *ExecutionContext {
	return &ExecutionContext{
		ID:           id,
		Globals:      make(map[string]any),
		Locals:       make(map[string]any),
		BindingTypes: make(map[string]reflect.Type),
		Limits:       DefaultLimits(),
	}
}

// Lookup resolves a top-level name against locals, then globals, then the
// reserved memory name.
func (ec *ExecutionContext) Lookup(name string) (any, bool) {
	if v, ok := ec.Locals[name]; ok {
		return v, true
	}
	if v, ok := ec.Globals[name]; ok {
		return v, true
	}
	if name == MemoryName && ec.Memory != nil {
		return ec.Memory, true
	}
	return nil, false
}

// Commit stores a value in locals on behalf of a model-initiated write.
// It bumps the revision and records the name as assigned.
func (ec *ExecutionContext) Commit(name string, value any) {
	if ec.Locals == nil {
		ec.Locals = make(map[string]any)
	}
	ec.Locals[name] = value
	ec.MarkAssigned(name)
}

// MarkAssigned bumps the revision and records name as assigned.
func (ec *ExecutionContext) MarkAssigned(name string) {
	ec.Revision++
	for _, n := range ec.Assigned {
		if n == name {
			return
		}
	}
	ec.Assigned = append(ec.Assigned, name)
}

// WasAssigned reports whether name was written during the step.
func (ec *ExecutionContext) WasAssigned(name string) bool {
	for _, n := range ec.Assigned {
		if n == name {
			return true
		}
	}
	return false
}

// IsCommitTarget reports whether name is an output binding of the step.
func (ec *ExecutionContext) IsCommitTarget(name string) bool {
	for _, n := range ec.CommitTargets {
		if n == name {
			return true
		}
	}
	return false
}

// LocalNames returns the sorted names of all locals.
func (ec *ExecutionContext) LocalNames() []string {
	names := make([]string, 0, len(ec.Locals))
	for n := range ec.Locals {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CopyLocals returns a shallow copy of the locals map.
func (ec *ExecutionContext) CopyLocals() map[string]any {
	out := make(map[string]any, len(ec.Locals))
	for k, v := range ec.Locals {
		out[k] = v
	}
	return out
}

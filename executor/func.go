package executor

import (
	"context"

	"github.com/petal-labs/nighthawk/core"
	"github.com/petal-labs/nighthawk/runtime"
)

// StepFunc runs one step.
type StepFunc func(ctx context.Context, req core.StepRequest) (core.Outcome, map[string]any, error)

// FuncExecutor is a synchronous executor backed by a function.
type FuncExecutor struct {
	fn StepFunc
}

// NewFuncExecutor wraps fn.
func NewFuncExecutor(fn StepFunc) *FuncExecutor {
	return &FuncExecutor{fn: fn}
}

// RunStep calls the wrapped function.
func (e *FuncExecutor) RunStep(ctx context.Context, req core.StepRequest) (core.Outcome, map[string]any, error) {
	return e.fn(ctx, req)
}

// AsyncFuncExecutor runs a function on its own goroutine for every step.
type AsyncFuncExecutor struct {
	fn StepFunc
}

// NewAsyncFuncExecutor wraps fn.
func NewAsyncFuncExecutor(fn StepFunc) *AsyncFuncExecutor {
	return &AsyncFuncExecutor{fn: fn}
}

// RunStepAsync runs the wrapped function in the background.
func (e *AsyncFuncExecutor) RunStepAsync(ctx context.Context, req core.StepRequest) <-chan core.StepResult {
	return runtime.Go(func() (core.Outcome, map[string]any, error) {
		return e.fn(ctx, req)
	})
}

// AssignedBindings returns the output bindings of req that were written
// during the step, read from the execution context's locals. A write of an
// unchanged value still counts.
func AssignedBindings(req core.StepRequest) map[string]any {
	out := make(map[string]any)
	ec := req.Context
	if ec == nil {
		return out
	}
	for _, name := range req.Outputs {
		if ec.WasAssigned(name) {
			out[name] = ec.Locals[name]
		}
	}
	return out
}

// Compile-time interface checks.
var (
	_ core.StepExecutor      = (*FuncExecutor)(nil)
	_ core.AsyncStepExecutor = (*AsyncFuncExecutor)(nil)
)

package runtime

import (
	"context"
	"sync/atomic"

	"github.com/petal-labs/nighthawk/core"
	"github.com/petal-labs/nighthawk/tool"
)

// Unexported struct types used as context keys prevent collisions with
// keys from other packages.
type (
	emitterKey   struct{}
	envKey       struct{}
	stepKey      struct{}
	nameScopeKey struct{}
	callScopeKey struct{}
)

// ContextWithEmitter attaches an event emitter to the context.
func ContextWithEmitter(ctx context.Context, emit EventEmitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, emit)
}

// EmitterFromContext retrieves the event emitter from the context.
// Returns a no-op emitter if none is set.
func EmitterFromContext(ctx context.Context) EventEmitter {
	if emit, ok := ctx.Value(emitterKey{}).(EventEmitter); ok {
		return emit
	}
	return func(Event) {}
}

// stepFrame links the execution contexts of nested steps.
type stepFrame struct {
	ec     *core.ExecutionContext
	parent *stepFrame
}

func withStep(ctx context.Context, ec *core.ExecutionContext) context.Context {
	parent, _ := ctx.Value(stepKey{}).(*stepFrame)
	return context.WithValue(ctx, stepKey{}, &stepFrame{ec: ec, parent: parent})
}

// CurrentExecutionContext returns the execution context of the innermost
// running step, or nil outside a step.
func CurrentExecutionContext(ctx context.Context) *core.ExecutionContext {
	if f, ok := ctx.Value(stepKey{}).(*stepFrame); ok {
		return f.ec
	}
	return nil
}

// ExecutionStack returns the execution contexts of all running steps,
// outermost first.
func ExecutionStack(ctx context.Context) []*core.ExecutionContext {
	var stack []*core.ExecutionContext
	for f, _ := ctx.Value(stepKey{}).(*stepFrame); f != nil; f = f.parent {
		stack = append(stack, f.ec)
	}
	for i, j := 0, len(stack)-1; i < j; i, j = i+1, j-1 {
		stack[i], stack[j] = stack[j], stack[i]
	}
	return stack
}

// nameScope is one layer of names pushed with WithNameScope.
type nameScope struct {
	names  map[string]any
	parent *nameScope
}

// WithNameScope returns a context in which names resolve as input bindings
// after the caller's locals and closure cells. Inner scopes shadow outer
// ones. The map is copied.
func WithNameScope(ctx context.Context, names map[string]any) context.Context {
	parent, _ := ctx.Value(nameScopeKey{}).(*nameScope)
	copied := make(map[string]any, len(names))
	for k, v := range names {
		copied[k] = v
	}
	return context.WithValue(ctx, nameScopeKey{}, &nameScope{names: copied, parent: parent})
}

func lookupNameScope(ctx context.Context, name string) (any, bool) {
	for s, _ := ctx.Value(nameScopeKey{}).(*nameScope); s != nil; s = s.parent {
		if v, ok := s.names[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// callScope holds tools registered while a generated function runs. Ending
// the call hides them even from contexts that still reference the scope.
type callScope struct {
	tools  *tool.Registry
	ended  atomic.Bool
	parent *callScope
}

func currentCallScope(ctx context.Context) *callScope {
	for s, _ := ctx.Value(callScopeKey{}).(*callScope); s != nil; s = s.parent {
		if !s.ended.Load() {
			return s
		}
	}
	return nil
}

// activeCallScopes returns the live call scopes, outermost first.
func activeCallScopes(ctx context.Context) []*tool.Registry {
	var regs []*tool.Registry
	for s, _ := ctx.Value(callScopeKey{}).(*callScope); s != nil; s = s.parent {
		if !s.ended.Load() {
			regs = append(regs, s.tools)
		}
	}
	for i, j := 0, len(regs)-1; i < j; i, j = i+1, j-1 {
		regs[i], regs[j] = regs[j], regs[i]
	}
	return regs
}

// EnterCall opens a call tool scope for one invocation of a generated
// function. The returned end func must run when the function returns;
// generated code defers it.
func EnterCall(ctx context.Context) (context.Context, func()) {
	parent, _ := ctx.Value(callScopeKey{}).(*callScope)
	s := &callScope{tools: tool.NewRegistry(), parent: parent}
	return context.WithValue(ctx, callScopeKey{}, s), func() { s.ended.Store(true) }
}

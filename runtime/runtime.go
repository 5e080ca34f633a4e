package runtime

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/petal-labs/nighthawk/coerce"
	"github.com/petal-labs/nighthawk/contract"
	"github.com/petal-labs/nighthawk/core"
	"github.com/petal-labs/nighthawk/expr"
	"github.com/petal-labs/nighthawk/tool"
)

// Call describes one natural block invocation. Generated code builds it
// from the block and the static scope analysis of the enclosing function.
type Call struct {
	// Program is the block text after the sentinel line, frontmatter included.
	Program string

	// Inputs and Outputs are the binding names in first-seen order.
	Inputs  []string
	Outputs []string

	// Types holds the declared type of each output binding.
	Types map[string]reflect.Type

	// Returns are the host function's result types, excluding a trailing error.
	Returns []reflect.Type

	// InLoop is set when the block sits inside a for or range loop.
	InLoop bool

	// Locals are the visible locals of the innermost function, Cells the
	// visible locals of enclosing functions.
	Locals map[string]any
	Cells  map[string]any

	// Unbound are names the function declares after the block.
	Unbound []string

	// Globals are the package-level names the block can see.
	Globals map[string]any

	Function string
	File     string
	Line     int
}

// Envelope is the reconciled result of a step, consumed by generated code.
type Envelope struct {
	StepID  string
	Outcome core.Outcome

	// InputBindings are the resolved input values.
	InputBindings map[string]any

	// Bindings are the output bindings the step wrote, coerced to their
	// declared types. Absent names were not written.
	Bindings map[string]any

	// Results are the host function's results for a return outcome.
	Results []any
}

// Returned reports whether the host function must return Results.
func (e *Envelope) Returned() bool { return e != nil && e.Outcome.Kind == core.KindReturn }

// Broke reports whether the enclosing loop must break.
func (e *Envelope) Broke() bool { return e != nil && e.Outcome.Kind == core.KindBreak }

// Continued reports whether the enclosing loop must continue.
func (e *Envelope) Continued() bool { return e != nil && e.Outcome.Kind == core.KindContinue }

// StepResult is delivered by RunStepAsync.
type StepResult struct {
	Envelope *Envelope
	Err      error
}

// RunStep executes one natural step and blocks until it is reconciled.
//
// The execution context built for the step is handed to a single executor
// at a time; it carries no locks and must not be shared across goroutines
// while the step runs.
func RunStep(ctx context.Context, call *Call) (*Envelope, error) {
	env, ok := EnvironmentFrom(ctx)
	if !ok {
		return nil, core.Executionf("no step executor is set; wrap the call with runtime.WithEnvironment or runtime.SetDefault")
	}

	program, denied, err := contract.SplitFrontmatter(call.Program)
	if err != nil {
		return nil, err
	}
	program = strings.TrimLeft(program, "\n")
	allowed := contract.AllowedKinds(call.InLoop, denied)

	enclosing := CurrentExecutionContext(ctx)
	inputs, copied, err := resolveInputs(ctx, call, enclosing)
	if err != nil {
		return nil, err
	}

	ec := buildContext(env, call, enclosing, copied)
	started := time.Now()
	stepEvent := func(kind EventKind) Event {
		return NewEvent(kind, env.RunID).
			WithScope(env.ScopeID).
			WithStep(ec.ID, call.Function, call.File, call.Line).
			WithElapsed(time.Since(started))
	}

	env.Emit(stepEvent(EventStepStarted).
		WithPayload("inputs", append([]string(nil), call.Inputs...)).
		WithPayload("outputs", append([]string(nil), call.Outputs...)).
		WithPayload("allowed", kindNames(allowed)))
	env.Logger.Debug("step started", "step_id", ec.ID, "function", call.Function, "file", call.File, "line", call.Line)

	req := core.StepRequest{
		Program: program,
		Context: ec,
		Outputs: append([]string(nil), call.Outputs...),
		Allowed: allowed,
	}
	outcome, bindings, err := dispatch(withStep(ctx, ec), env.Executor, req)
	if err == nil {
		var envelope *Envelope
		envelope, err = reconcile(call, ec, allowed, outcome, bindings)
		if err == nil {
			envelope.InputBindings = inputs
			env.Emit(stepEvent(EventStepFinished).WithPayload("kind", string(outcome.Kind)))
			env.Logger.Debug("step finished", "step_id", ec.ID, "kind", outcome.Kind)
			return envelope, nil
		}
	}

	failed := stepEvent(EventStepFailed).WithPayload("error", err.Error())
	if outcome.Kind != "" {
		failed = failed.WithPayload("kind", string(outcome.Kind))
	}
	env.Emit(failed)
	env.Logger.Debug("step failed", "step_id", ec.ID, "error", err)
	return nil, err
}

// RunStepAsync runs RunStep on a new goroutine and delivers exactly one
// result on the returned channel.
func RunStepAsync(ctx context.Context, call *Call) <-chan StepResult {
	ch := make(chan StepResult, 1)
	go func() {
		defer close(ch)
		defer func() {
			if r := recover(); r != nil {
				ch <- StepResult{Err: panicError(r)}
			}
		}()
		envelope, err := RunStep(ctx, call)
		ch <- StepResult{Envelope: envelope, Err: err}
	}()
	return ch
}

// resolveInputs resolves every input binding. It returns all resolved
// values and the subset that is copied into the new context's locals.
func resolveInputs(ctx context.Context, call *Call, enclosing *core.ExecutionContext) (map[string]any, map[string]any, error) {
	resolved := make(map[string]any, len(call.Inputs))
	copied := make(map[string]any, len(call.Inputs))
	for _, name := range call.Inputs {
		v, local, err := resolveName(ctx, call, enclosing, name)
		if err != nil {
			return nil, nil, err
		}
		resolved[name] = v
		if local {
			copied[name] = v
		}
	}
	return resolved, copied, nil
}

func resolveName(ctx context.Context, call *Call, enclosing *core.ExecutionContext, name string) (value any, local bool, err error) {
	if v, ok := call.Locals[name]; ok {
		return v, true, nil
	}
	if v, ok := call.Cells[name]; ok {
		return v, true, nil
	}
	for _, u := range call.Unbound {
		if u == name {
			return nil, false, &core.NameError{Name: name, Unbound: true}
		}
	}
	if v, ok := lookupNameScope(ctx, name); ok {
		return v, true, nil
	}
	if enclosing != nil {
		if v, ok := enclosing.Locals[name]; ok {
			return v, true, nil
		}
	}
	if v, ok := call.Globals[name]; ok {
		return v, false, nil
	}
	if b, ok := expr.LookupBuiltin(name); ok {
		return b, false, nil
	}
	return nil, false, &core.NameError{Name: name}
}

func buildContext(env *Environment, call *Call, enclosing *core.ExecutionContext, inputs map[string]any) *core.ExecutionContext {
	ec := core.NewExecutionContext(newID())
	ec.RunID = env.RunID
	ec.ScopeID = env.ScopeID
	ec.Function = call.Function
	ec.File = call.File
	ec.Line = call.Line
	ec.Memory = env.Memory
	ec.Limits = env.Limits.WithDefaults()

	if enclosing != nil {
		for k, v := range enclosing.Locals {
			ec.Locals[k] = v
		}
	}
	for k, v := range call.Cells {
		ec.Locals[k] = v
	}
	for k, v := range call.Locals {
		ec.Locals[k] = v
	}
	for k, v := range inputs {
		ec.Locals[k] = v
	}
	for k, v := range call.Globals {
		ec.Globals[k] = v
	}
	ec.CommitTargets = append([]string(nil), call.Outputs...)
	for name, t := range call.Types {
		ec.BindingTypes[name] = t
	}
	return ec
}

// reconcile checks the outcome against the call site and builds the
// envelope. Bindings are committed before the return or raise is handled,
// so writes survive a rejected return.
func reconcile(call *Call, ec *core.ExecutionContext, allowed []core.Kind, outcome core.Outcome, bindings map[string]any) (*Envelope, error) {
	if err := contract.ValidateOutcome(outcome); err != nil {
		return nil, err
	}
	if !core.ContainsKind(allowed, outcome.Kind) {
		return nil, core.Executionf("Step '%s' is not allowed for this step. Allowed kinds: %s", outcome.Kind, core.FormatKinds(allowed))
	}

	envelope := &Envelope{StepID: ec.ID, Outcome: outcome, Bindings: make(map[string]any, len(bindings))}
	for _, name := range call.Outputs {
		v, ok := bindings[name]
		if !ok {
			continue
		}
		coerced, err := coerce.To(v, call.Types[name])
		if err != nil {
			return nil, core.Executionf("Binding %q has an incompatible value: %w", name, err)
		}
		ec.Locals[name] = coerced
		envelope.Bindings[name] = coerced
	}

	switch outcome.Kind {
	case core.KindReturn:
		results, err := resolveReturn(call, ec, outcome.ReferencePath)
		if err != nil {
			return nil, err
		}
		envelope.Results = results
	case core.KindRaise:
		return nil, raiseError(ec, outcome)
	}
	return envelope, nil
}

func resolveReturn(call *Call, ec *core.ExecutionContext, path string) ([]any, error) {
	if err := contract.ValidateReferencePath(path); err != nil {
		return nil, core.Executionf("Invalid return_reference_path: %w", err)
	}
	root, _, _ := strings.Cut(path, ".")
	if _, ok := ec.Locals[root]; !ok && !(root == core.MemoryName && ec.Memory != nil) {
		return nil, core.Executionf("Unknown root name in return_reference_path: %s", root)
	}
	value, err := tool.ResolveReference(ec, path)
	if err != nil {
		return nil, core.Executionf("Failed to resolve return_reference_path %q: %w", path, err)
	}

	switch len(call.Returns) {
	case 0:
		return nil, nil
	case 1:
		v, err := coerce.To(value, call.Returns[0])
		if err != nil {
			return nil, core.Executionf("Return value validation failed: %w", err)
		}
		return []any{v}, nil
	}

	rv := reflect.ValueOf(value)
	if value == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, core.Executionf("Return value validation failed: expected %d values, got %T", len(call.Returns), value)
	}
	if rv.Len() != len(call.Returns) {
		return nil, core.Executionf("Return value validation failed: expected %d values, got %d", len(call.Returns), rv.Len())
	}
	results := make([]any, len(call.Returns))
	for i, t := range call.Returns {
		v, err := coerce.To(rv.Index(i).Interface(), t)
		if err != nil {
			return nil, core.Executionf("Return value validation failed: result %d: %w", i, err)
		}
		results[i] = v
	}
	return results, nil
}

func raiseError(ec *core.ExecutionContext, outcome core.Outcome) error {
	if outcome.Message == "" {
		return core.Executionf("Step produced invalid step outcome: raise requires a message")
	}
	if outcome.ErrorType == "" {
		return core.Executionf("Execution failed: %s", outcome.Message)
	}

	segs, err := contract.SplitPath(outcome.ErrorType)
	if err != nil {
		return core.Executionf("Invalid raise_error_type: %q", outcome.ErrorType)
	}
	v, ok := ec.Lookup(segs[0])
	for _, seg := range segs[1:] {
		if !ok {
			break
		}
		v, err = expr.Member(v, seg)
		ok = err == nil
	}
	if !ok {
		return core.Executionf("Invalid raise_error_type: %q", outcome.ErrorType)
	}
	ctor, ok := ErrorConstructor(segs[len(segs)-1], v)
	if !ok {
		return core.Executionf("Invalid raise_error_type: %q", outcome.ErrorType)
	}
	return ctor(outcome.Message)
}

func kindNames(kinds []core.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// String renders a call for logs.
func (c *Call) String() string {
	return fmt.Sprintf("%s (%s:%d)", c.Function, c.File, c.Line)
}

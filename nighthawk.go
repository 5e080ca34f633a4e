// Package nighthawk runs natural-language steps embedded in Go functions.
//
// A function body marks a step with a string whose first line is "natural".
// The nighthawk generator rewrites such files into code that hands each
// step to a model-backed executor and turns the structured outcome back
// into Go control flow. This package re-exports the host-facing types and
// functions of the runtime, core and tool subpackages, and Setup wires the
// default executor and event stack from configuration.
//
// For finer control, import the subpackages directly:
//
//	import "github.com/petal-labs/nighthawk/runtime"
//	import "github.com/petal-labs/nighthawk/executor"
package nighthawk

import (
	"context"

	"github.com/petal-labs/nighthawk/core"
	"github.com/petal-labs/nighthawk/runtime"
	"github.com/petal-labs/nighthawk/tool"
)

// =============================================================================
// Core Package Re-exports
// =============================================================================

type (
	// Kind is the discriminator of a step outcome.
	Kind = core.Kind

	// Outcome is the structured result of a step.
	Outcome = core.Outcome

	// Limits bounds the rendered step context.
	Limits = core.Limits

	// ExecutionContext is the state a step and its tools operate on.
	ExecutionContext = core.ExecutionContext

	// StepRequest is what an executor receives for one step.
	StepRequest = core.StepRequest

	// StepResult is delivered by asynchronous executors.
	StepResult = core.StepResult

	// StepExecutor runs a step synchronously.
	StepExecutor = core.StepExecutor

	// AsyncStepExecutor runs a step and delivers its result on a channel.
	AsyncStepExecutor = core.AsyncStepExecutor

	// LLMClient performs model completions.
	LLMClient = core.LLMClient

	// ParseError reports an invalid natural block at generate time.
	ParseError = core.ParseError

	// NameError reports an input binding that could not be resolved.
	NameError = core.NameError

	// ExecutionError reports a step that could not complete.
	ExecutionError = core.ExecutionError
)

// Outcome kinds.
const (
	KindPass     = core.KindPass
	KindReturn   = core.KindReturn
	KindBreak    = core.KindBreak
	KindContinue = core.KindContinue
	KindRaise    = core.KindRaise
)

// Sentinel errors for errors.Is.
var (
	ErrParse     = core.ErrParse
	ErrName      = core.ErrName
	ErrExecution = core.ErrExecution
)

// DefaultLimits returns the default rendering limits.
func DefaultLimits() Limits { return core.DefaultLimits() }

// =============================================================================
// Runtime Package Re-exports
// =============================================================================

type (
	// Environment holds the executor, limits, memory and event plumbing
	// that steps run against.
	Environment = runtime.Environment

	// Option configures an Environment.
	Option = runtime.Option

	// ScopeOptions adjusts a nested scope.
	ScopeOptions = runtime.ScopeOptions

	// Event is a runtime event such as step.started or tool.call.
	Event = runtime.Event

	// EventKind identifies the type of an event.
	EventKind = runtime.EventKind

	// EventHandler receives events.
	EventHandler = runtime.EventHandler

	// ErrorClass names an error type a step may raise.
	ErrorClass = runtime.ErrorClass

	// RaisedError is returned when a step raises.
	RaisedError = runtime.RaisedError
)

// Option constructors.
var (
	WithLimits           = runtime.WithLimits
	WithMemory           = runtime.WithMemory
	WithLogger           = runtime.WithLogger
	WithEventHandler     = runtime.WithEventHandler
	WithEventBus         = runtime.WithEventBus
	WithEmitterDecorator = runtime.WithEmitterDecorator
	WithRunID            = runtime.WithRunID
)

// NewEnvironment creates an environment around executor, which must
// implement StepExecutor or AsyncStepExecutor.
func NewEnvironment(executor any, opts ...Option) (*Environment, error) {
	return runtime.NewEnvironment(executor, opts...)
}

// WithEnvironment starts a run of env and returns a context carrying it.
func WithEnvironment(ctx context.Context, env *Environment) context.Context {
	return runtime.WithEnvironment(ctx, env)
}

// SetDefault installs the environment used when a context carries none.
func SetDefault(env *Environment) { runtime.SetDefault(env) }

// Run executes fn inside a fresh run of an environment around executor.
func Run(ctx context.Context, executor any, fn func(ctx context.Context) error, opts ...Option) error {
	return runtime.Run(ctx, executor, fn, opts...)
}

// WithScope derives a nested scope of the current environment.
func WithScope(ctx context.Context, opts ScopeOptions) (context.Context, error) {
	return runtime.WithScope(ctx, opts)
}

// NewErrorClass declares an error type steps may raise by name.
func NewErrorClass(name string, ctor func(message string) error) *ErrorClass {
	return runtime.NewErrorClass(name, ctor)
}

// =============================================================================
// Tool Package Re-exports
// =============================================================================

type (
	// Tool is a function the model may call during a step.
	Tool = tool.Tool

	// ToolHandler implements a Tool.
	ToolHandler = tool.Handler
)

// NewTool validates and builds a tool.
func NewTool(name, description string, schema map[string]any, fn ToolHandler) (Tool, error) {
	return tool.Func(name, description, schema, fn)
}

// RegisterTool makes t visible to the steps of the innermost call or
// scope of ctx, or globally when ctx carries neither.
func RegisterTool(ctx context.Context, t Tool, overwrite bool) error {
	return runtime.RegisterTool(ctx, t, overwrite)
}

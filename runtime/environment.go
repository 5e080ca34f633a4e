package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/nighthawk/core"
	"github.com/petal-labs/nighthawk/tool"
)

// Environment is the ambient configuration steps run under. It travels in
// a context.Context; WithScope derives a child environment instead of
// mutating the parent, so a scope ends when its context goes out of use.
type Environment struct {
	// Executor is a core.StepExecutor, a core.AsyncStepExecutor or both.
	Executor any

	RunID   string
	ScopeID string

	// SystemSuffixes and UserSuffixes are appended to the prompts of every
	// step in the scope, outermost first.
	SystemSuffixes []string
	UserSuffixes   []string

	Limits core.Limits
	Memory any
	Logger *slog.Logger

	handler   EventHandler
	publisher EventPublisher
	decorator EventEmitterDecorator
	emit      EventEmitter

	// toolScopes are the tool registries opened by runs and scopes,
	// outermost first.
	toolScopes []*tool.Registry
}

// Option configures an Environment.
type Option func(*Environment)

// WithLimits sets the rendering limits. Zero fields take defaults.
func WithLimits(l core.Limits) Option {
	return func(e *Environment) { e.Limits = l.WithDefaults() }
}

// WithMemory sets the shared memory object exposed to steps as "memory".
func WithMemory(memory any) Option {
	return func(e *Environment) { e.Memory = memory }
}

// WithLogger sets the logger used by the runner and executors.
func WithLogger(l *slog.Logger) Option {
	return func(e *Environment) { e.Logger = l }
}

// WithEventHandler sets the handler that receives every event.
func WithEventHandler(h EventHandler) Option {
	return func(e *Environment) { e.handler = h }
}

// WithEventBus publishes every event to p.
func WithEventBus(p EventPublisher) Option {
	return func(e *Environment) { e.publisher = p }
}

// WithEmitterDecorator wraps the event emitter, for example to enrich
// events with trace ids.
func WithEmitterDecorator(d EventEmitterDecorator) Option {
	return func(e *Environment) { e.decorator = d }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(e *Environment) { e.RunID = id }
}

// NewEnvironment creates an environment around executor.
func NewEnvironment(executor any, opts ...Option) (*Environment, error) {
	if err := checkExecutor(executor); err != nil {
		return nil, err
	}
	env := &Environment{
		Executor: executor,
		Limits:   core.DefaultLimits(),
		Logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(env)
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	env.emit = env.buildEmitter()
	return env, nil
}

func checkExecutor(executor any) error {
	switch executor.(type) {
	case core.StepExecutor, core.AsyncStepExecutor:
		return nil
	}
	return core.Executionf("step executor must implement RunStep or RunStepAsync, got %T", executor)
}

// buildEmitter wires the bus and handler the way every emitted event
// flows. Scopes cloned from a run keep its emitter, so Seq counts from 1
// across the whole run.
func (e *Environment) buildEmitter() EventEmitter {
	seq := new(atomic.Uint64)
	publisher, handler := e.publisher, e.handler
	emit := EventEmitter(func(ev Event) {
		ev.Seq = seq.Add(1)
		if publisher != nil {
			publisher.Publish(ev)
		}
		if handler != nil {
			handler(ev)
		}
	})
	if e.decorator != nil {
		emit = e.decorator(emit)
	}
	return emit
}

// Emit sends an event stamped with the environment's run and scope ids.
func (e *Environment) Emit(ev Event) {
	if e == nil || e.emit == nil {
		return
	}
	if ev.RunID == "" {
		ev.RunID = e.RunID
	}
	if ev.ScopeID == "" {
		ev.ScopeID = e.ScopeID
	}
	e.emit(ev)
}

func (e *Environment) clone() *Environment {
	c := *e
	c.SystemSuffixes = append([]string(nil), e.SystemSuffixes...)
	c.UserSuffixes = append([]string(nil), e.UserSuffixes...)
	c.toolScopes = append([]*tool.Registry(nil), e.toolScopes...)
	return &c
}

func newID() string { return uuid.NewString() }

var defaultEnv atomic.Pointer[Environment]

// SetDefault installs the environment used when a context carries none.
// Passing nil clears it.
func SetDefault(env *Environment) {
	defaultEnv.Store(env)
}

// EnvironmentFrom returns the environment carried by ctx, falling back to
// the process default. It reports false when neither exists.
func EnvironmentFrom(ctx context.Context) (*Environment, bool) {
	if env, ok := ctx.Value(envKey{}).(*Environment); ok {
		return env, true
	}
	if env := defaultEnv.Load(); env != nil {
		return env, true
	}
	return nil, false
}

// WithEnvironment starts a run: the returned context carries a copy of env
// with a fresh run id (unless one was fixed), a fresh scope id, a fresh
// sequence and an empty root tool scope.
func WithEnvironment(ctx context.Context, env *Environment) context.Context {
	run := env.clone()
	if run.RunID == "" {
		run.RunID = newID()
	}
	run.ScopeID = newID()
	run.toolScopes = []*tool.Registry{tool.NewRegistry()}
	run.emit = run.buildEmitter()
	run.Emit(NewEvent(EventRunStarted, run.RunID))
	ctx = ContextWithEmitter(ctx, run.Emit)
	return context.WithValue(ctx, envKey{}, run)
}

// Run executes fn inside a fresh run of an environment around executor.
func Run(ctx context.Context, executor any, fn func(ctx context.Context) error, opts ...Option) error {
	env, err := NewEnvironment(executor, opts...)
	if err != nil {
		return err
	}
	ctx = WithEnvironment(ctx, env)
	run, _ := EnvironmentFrom(ctx)
	start := time.Now()
	err = fn(ctx)
	ev := NewEvent(EventRunFinished, run.RunID).WithElapsed(time.Since(start))
	if err != nil {
		ev = ev.WithPayload("error", err.Error())
	}
	run.Emit(ev)
	return err
}

// ScopeOptions adjusts a nested scope. Zero fields inherit from the parent.
type ScopeOptions struct {
	Executor     any
	SystemSuffix string
	UserSuffix   string
	Limits       *core.Limits
	Memory       any
}

// WithScope derives a nested scope with a fresh scope id, the given
// overrides, appended prompt suffixes and its own tool scope.
func WithScope(ctx context.Context, opts ScopeOptions) (context.Context, error) {
	parent, ok := EnvironmentFrom(ctx)
	if !ok {
		return nil, core.Executionf("no step environment is set")
	}
	scope := parent.clone()
	scope.ScopeID = newID()
	if opts.Executor != nil {
		if err := checkExecutor(opts.Executor); err != nil {
			return nil, err
		}
		scope.Executor = opts.Executor
	}
	if opts.Limits != nil {
		scope.Limits = opts.Limits.WithDefaults()
	}
	if opts.Memory != nil {
		scope.Memory = opts.Memory
	}
	if opts.SystemSuffix != "" {
		scope.SystemSuffixes = append(scope.SystemSuffixes, opts.SystemSuffix)
	}
	if opts.UserSuffix != "" {
		scope.UserSuffixes = append(scope.UserSuffixes, opts.UserSuffix)
	}
	scope.toolScopes = append(scope.toolScopes, tool.NewRegistry())
	if scope.emit == nil {
		scope.emit = scope.buildEmitter()
	}
	scope.Emit(NewEvent(EventScopeStarted, scope.RunID).WithPayload("parent_scope_id", parent.ScopeID))
	ctx = ContextWithEmitter(ctx, scope.Emit)
	return context.WithValue(ctx, envKey{}, scope), nil
}

// RegisterTool makes t visible to steps. It goes into the innermost live
// call scope, else the innermost tool scope, else the global registry. A
// name that is already visible is a conflict unless overwrite is set.
func RegisterTool(ctx context.Context, t tool.Tool, overwrite bool) error {
	if err := tool.ValidateName(t.Name); err != nil {
		return err
	}
	if !overwrite {
		for _, visible := range VisibleTools(ctx) {
			if visible.Name == t.Name {
				return &core.ToolRegistrationError{
					Name:    t.Name,
					Message: "name conflicts with a visible tool; pass overwrite to replace it",
				}
			}
		}
	}
	if s := currentCallScope(ctx); s != nil {
		return s.tools.Register(t, true)
	}
	if env, ok := EnvironmentFrom(ctx); ok && len(env.toolScopes) > 0 {
		return env.toolScopes[len(env.toolScopes)-1].Register(t, true)
	}
	return tool.Global().Register(t, true)
}

// VisibleTools returns the tools a step in ctx may call: the provided
// tools, then global registrations, then tool scopes, then call scopes.
// Later layers replace earlier tools of the same name.
func VisibleTools(ctx context.Context) []tool.Tool {
	layers := []*tool.Registry{tool.Builtins(), tool.Global()}
	if env, ok := EnvironmentFrom(ctx); ok {
		layers = append(layers, env.toolScopes...)
	}
	layers = append(layers, activeCallScopes(ctx)...)
	return tool.Merge(layers...)
}

func (e *Environment) String() string {
	return fmt.Sprintf("Environment{run=%s scope=%s executor=%T}", e.RunID, e.ScopeID, e.Executor)
}

package scenario

import (
	"context"
	"testing"

	"github.com/petal-labs/nighthawk/core"
	"github.com/petal-labs/nighthawk/executor"
	"github.com/petal-labs/nighthawk/runtime"
	"github.com/petal-labs/nighthawk/tool"
)

// useExecutor installs fn as the step executor for the generated code,
// which runs without a caller context.
func useExecutor(t *testing.T, fn executor.StepFunc) {
	t.Helper()
	env, err := runtime.NewEnvironment(executor.NewFuncExecutor(fn))
	if err != nil {
		t.Fatalf("NewEnvironment() error = %v", err)
	}
	runtime.SetDefault(env)
	t.Cleanup(func() { runtime.SetDefault(nil) })
}

func TestIncrement(t *testing.T) {
	var programs []string
	useExecutor(t, func(_ context.Context, req core.StepRequest) (core.Outcome, map[string]any, error) {
		programs = append(programs, req.Program)
		if res := tool.Assign(req.Context, "result", "x + 1"); !res.OK() {
			t.Fatalf("assign failed: %+v", res.Error)
		}
		return core.Pass(), map[string]any{"result": req.Context.Locals["result"]}, nil
	})

	if got := Increment(10); got != 11 {
		t.Fatalf("Increment(10) = %d, want 11", got)
	}
	if len(programs) != 1 || programs[0] != "Set <:result> to <x> plus one.\n" {
		t.Fatalf("programs = %q", programs)
	}
}

func TestCountIterations(t *testing.T) {
	var seen []any
	useExecutor(t, func(_ context.Context, req core.StepRequest) (core.Outcome, map[string]any, error) {
		if !core.ContainsKind(req.Allowed, core.KindContinue) {
			t.Fatalf("continue not allowed: %v", req.Allowed)
		}
		seen = append(seen, req.Context.Locals["i"])
		return core.Continue(), nil, nil
	})

	if got := CountIterations(5); got != 5 {
		t.Fatalf("CountIterations(5) = %d, want 5", got)
	}
	if len(seen) != 5 {
		t.Fatalf("steps = %d, want 5", len(seen))
	}
	for i, v := range seen {
		if v != i {
			t.Errorf("step %d saw i = %v", i, v)
		}
	}
}

func TestCountIterations_PassFallsThrough(t *testing.T) {
	useExecutor(t, func(context.Context, core.StepRequest) (core.Outcome, map[string]any, error) {
		return core.Pass(), nil, nil
	})

	if got := CountIterations(2); got != 202 {
		t.Fatalf("CountIterations(2) = %d, want 202", got)
	}
}

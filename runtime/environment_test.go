package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/petal-labs/nighthawk/core"
	"github.com/petal-labs/nighthawk/tool"
)

func noopExecutor() syncExec {
	return func(context.Context, core.StepRequest) (core.Outcome, map[string]any, error) {
		return core.Pass(), nil, nil
	}
}

func testTool(name string) tool.Tool {
	return tool.MustFunc(name, "test tool", tool.ObjectSchema(nil, nil),
		func(context.Context, *core.ExecutionContext, map[string]any) (any, error) { return name, nil })
}

func visibleNames(ctx context.Context) map[string]bool {
	names := map[string]bool{}
	for _, t := range VisibleTools(ctx) {
		names[t.Name] = true
	}
	return names
}

func TestNewEnvironment_RejectsNonExecutor(t *testing.T) {
	if _, err := NewEnvironment(42); !errors.Is(err, core.ErrExecution) {
		t.Fatalf("err = %v", err)
	}
}

func TestWithEnvironment_FreshRunIDs(t *testing.T) {
	env, err := NewEnvironment(noopExecutor())
	if err != nil {
		t.Fatal(err)
	}
	a, _ := EnvironmentFrom(WithEnvironment(context.Background(), env))
	b, _ := EnvironmentFrom(WithEnvironment(context.Background(), env))
	if a.RunID == "" || a.RunID == b.RunID {
		t.Fatalf("run ids = %q, %q", a.RunID, b.RunID)
	}

	fixed, _ := NewEnvironment(noopExecutor(), WithRunID("run-1"))
	c, _ := EnvironmentFrom(WithEnvironment(context.Background(), fixed))
	if c.RunID != "run-1" {
		t.Fatalf("RunID = %q", c.RunID)
	}
}

func TestWithScope_AppendsSuffixesAndKeepsParent(t *testing.T) {
	ctx := newTestContext(t, noopExecutor())
	parent, _ := EnvironmentFrom(ctx)

	limits := core.Limits{LocalsMaxTokens: 10}
	child, err := WithScope(ctx, ScopeOptions{SystemSuffix: "be brief", UserSuffix: "user note", Limits: &limits})
	if err != nil {
		t.Fatalf("WithScope() error = %v", err)
	}
	grandchild, err := WithScope(child, ScopeOptions{SystemSuffix: "be exact"})
	if err != nil {
		t.Fatalf("WithScope() error = %v", err)
	}

	env, _ := EnvironmentFrom(grandchild)
	if len(env.SystemSuffixes) != 2 || env.SystemSuffixes[0] != "be brief" || env.SystemSuffixes[1] != "be exact" {
		t.Fatalf("SystemSuffixes = %v", env.SystemSuffixes)
	}
	if len(env.UserSuffixes) != 1 {
		t.Fatalf("UserSuffixes = %v", env.UserSuffixes)
	}
	if env.Limits.LocalsMaxTokens != 10 || env.Limits.GlobalsMaxTokens != core.DefaultLimits().GlobalsMaxTokens {
		t.Fatalf("Limits = %+v", env.Limits)
	}
	if env.RunID != parent.RunID || env.ScopeID == parent.ScopeID {
		t.Fatalf("ids: run %q/%q scope %q/%q", env.RunID, parent.RunID, env.ScopeID, parent.ScopeID)
	}
	if len(parent.SystemSuffixes) != 0 {
		t.Fatalf("parent mutated: %v", parent.SystemSuffixes)
	}
}

func TestWithScope_ReplacesExecutor(t *testing.T) {
	ctx := newTestContext(t, noopExecutor())
	replacement := syncExec(func(context.Context, core.StepRequest) (core.Outcome, map[string]any, error) {
		return core.Raise("replaced", ""), nil, nil
	})
	scoped, err := WithScope(ctx, ScopeOptions{Executor: replacement})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := RunStep(scoped, &Call{Program: "x"}); err == nil || err.Error() != "Execution failed: replaced" {
		t.Fatalf("scoped err = %v", err)
	}
	if _, err := RunStep(ctx, &Call{Program: "x"}); err != nil {
		t.Fatalf("parent err = %v", err)
	}
	if _, err := WithScope(ctx, ScopeOptions{Executor: "nope"}); err == nil {
		t.Fatal("expected invalid executor error")
	}
}

func TestWithScope_RequiresEnvironment(t *testing.T) {
	SetDefault(nil)
	if _, err := WithScope(context.Background(), ScopeOptions{}); err == nil {
		t.Fatal("expected error without environment")
	}
}

func TestSetDefault(t *testing.T) {
	env, _ := NewEnvironment(noopExecutor())
	SetDefault(env)
	defer SetDefault(nil)

	got, ok := EnvironmentFrom(context.Background())
	if !ok || got != env {
		t.Fatal("expected default environment")
	}
	if _, err := RunStep(context.Background(), &Call{Program: "x"}); err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
}

func TestRegisterTool_CallScopeEndsWithCall(t *testing.T) {
	ctx := newTestContext(t, noopExecutor())

	callCtx, end := EnterCall(ctx)
	if err := RegisterTool(callCtx, testTool("lookup_user"), false); err != nil {
		t.Fatalf("RegisterTool() error = %v", err)
	}
	if !visibleNames(callCtx)["lookup_user"] {
		t.Fatal("tool should be visible inside the call")
	}

	sibling, endSibling := EnterCall(ctx)
	defer endSibling()
	if visibleNames(sibling)["lookup_user"] {
		t.Fatal("tool should be invisible to a sibling call")
	}

	end()
	if visibleNames(callCtx)["lookup_user"] {
		t.Fatal("tool should be invisible after the call ended")
	}
}

func TestRegisterTool_ScopesAndConflicts(t *testing.T) {
	ctx := newTestContext(t, noopExecutor())
	scoped, err := WithScope(ctx, ScopeOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if err := RegisterTool(scoped, testTool("search"), false); err != nil {
		t.Fatalf("RegisterTool() error = %v", err)
	}
	if visibleNames(ctx)["search"] {
		t.Fatal("scope tool leaked into parent")
	}
	if !visibleNames(scoped)["search"] {
		t.Fatal("scope tool should be visible in the scope")
	}

	var regErr *core.ToolRegistrationError
	if err := RegisterTool(scoped, testTool("search"), false); !errors.As(err, &regErr) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if err := RegisterTool(scoped, testTool(tool.EvalToolName), false); !errors.As(err, &regErr) {
		t.Fatalf("err = %v, want conflict with provided tool", err)
	}
	if err := RegisterTool(scoped, testTool("search"), true); err != nil {
		t.Fatalf("overwrite err = %v", err)
	}
	badName := tool.Tool{
		Name: "bad-name",
		Handler: func(context.Context, *core.ExecutionContext, map[string]any) (any, error) {
			return nil, nil
		},
	}
	if err := RegisterTool(scoped, badName, false); !errors.As(err, &regErr) {
		t.Fatalf("err = %v, want invalid name", err)
	}
	if visibleNames(scoped)["bad-name"] {
		t.Error("invalid tool became visible")
	}
}

func TestVisibleTools_LaterLayersOverride(t *testing.T) {
	ctx := newTestContext(t, noopExecutor())
	callCtx, end := EnterCall(ctx)
	defer end()

	override := tool.MustFunc(tool.EvalToolName, "custom eval", tool.ObjectSchema(nil, nil),
		func(context.Context, *core.ExecutionContext, map[string]any) (any, error) { return nil, nil })
	if err := RegisterTool(callCtx, override, true); err != nil {
		t.Fatal(err)
	}

	tools := VisibleTools(callCtx)
	if tools[0].Name != tool.EvalToolName || tools[0].Description != "custom eval" {
		t.Fatalf("first tool = %+v", tools[0])
	}
}

func TestRun_EmitsRunEvents(t *testing.T) {
	var kinds []EventKind
	err := Run(context.Background(), noopExecutor(), func(ctx context.Context) error {
		_, err := RunStep(ctx, &Call{Program: "x"})
		return err
	}, WithEventHandler(func(e Event) { kinds = append(kinds, e.Kind) }))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(kinds) != 4 || kinds[0] != EventRunStarted || kinds[3] != EventRunFinished {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestRun_SequenceSpansScopes(t *testing.T) {
	var mu sync.Mutex
	var seqs []uint64
	handler := func(e Event) {
		mu.Lock()
		seqs = append(seqs, e.Seq)
		mu.Unlock()
	}
	err := Run(context.Background(), noopExecutor(), func(ctx context.Context) error {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sctx, err := WithScope(ctx, ScopeOptions{UserSuffix: "inner"})
				if err != nil {
					t.Error(err)
					return
				}
				if _, err := RunStep(sctx, &Call{Program: "x"}); err != nil {
					t.Error(err)
				}
			}()
		}
		wg.Wait()
		return nil
	}, WithEventHandler(handler))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// run.started, 8 x (scope.started, step.started, step.finished), run.finished
	want := 2 + 8*3
	if len(seqs) != want {
		t.Fatalf("got %d events, want %d", len(seqs), want)
	}
	seen := make(map[uint64]bool, len(seqs))
	for _, s := range seqs {
		if s < 1 || s > uint64(want) || seen[s] {
			t.Fatalf("sequence numbers not unique in 1..%d: %v", want, seqs)
		}
		seen[s] = true
	}
	if seqs[0] != 1 || seqs[len(seqs)-1] != uint64(want) {
		t.Errorf("first/last seq = %d/%d, want 1/%d", seqs[0], seqs[len(seqs)-1], want)
	}
}

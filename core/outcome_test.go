package core

import (
	"errors"
	"testing"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, ok := ParseKind(string(k))
		if !ok || got != k {
			t.Fatalf("ParseKind(%q) = %q, %v", k, got, ok)
		}
	}
	if _, ok := ParseKind("yield"); ok {
		t.Fatal("expected unknown kind to be rejected")
	}
}

func TestFormatKinds(t *testing.T) {
	got := FormatKinds([]Kind{KindPass, KindRaise})
	if got != "('pass', 'raise')" {
		t.Fatalf("FormatKinds = %q", got)
	}
}

func TestExecutionContext_CommitTracksRevision(t *testing.T) {
	ec := NewExecutionContext("step-1")
	ec.Commit("x", 1)
	ec.Commit("x", 2)
	ec.Commit("y", 3)

	if ec.Revision != 3 {
		t.Fatalf("Revision = %d, want 3", ec.Revision)
	}
	if len(ec.Assigned) != 2 || ec.Assigned[0] != "x" || ec.Assigned[1] != "y" {
		t.Fatalf("Assigned = %v", ec.Assigned)
	}
	if ec.Locals["x"] != 2 {
		t.Fatalf("x = %v", ec.Locals["x"])
	}
}

func TestExecutionContext_LookupOrder(t *testing.T) {
	ec := NewExecutionContext("step-1")
	ec.Globals["a"] = "global"
	ec.Locals["a"] = "local"
	ec.Memory = map[string]any{"k": 1}

	if v, _ := ec.Lookup("a"); v != "local" {
		t.Fatalf("Lookup(a) = %v, want local", v)
	}
	if _, ok := ec.Lookup(MemoryName); !ok {
		t.Fatal("expected memory to resolve")
	}
	if _, ok := ec.Lookup("missing"); ok {
		t.Fatal("expected missing to be unresolved")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("boom")
	execErr := Executionf("Execution failed: %w", cause)
	if !errors.Is(execErr, ErrExecution) {
		t.Fatal("expected ErrExecution match")
	}
	if !errors.Is(execErr, cause) {
		t.Fatal("expected cause to be unwrapped")
	}

	nameErr := &NameError{Name: "x", Unbound: true}
	if !errors.Is(nameErr, ErrName) {
		t.Fatal("expected ErrName match")
	}
	if nameErr.Error() != `cannot access local variable "x" where it is not associated with a value` {
		t.Fatalf("unexpected message: %s", nameErr.Error())
	}

	parseErr := &ParseError{File: "a.go", Line: 3, Message: "bad"}
	if parseErr.Error() != "a.go:3: bad" || !errors.Is(parseErr, ErrParse) {
		t.Fatalf("unexpected parse error: %v", parseErr)
	}
}

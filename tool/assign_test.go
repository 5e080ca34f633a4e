package tool

import (
	"reflect"
	"strings"
	"testing"

	"github.com/petal-labs/nighthawk/core"
)

type profile struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Tags  map[string]string
}

type box struct {
	Inner profile
	Ptr   *profile
}

func newContext() *core.ExecutionContext {
	ec := core.NewExecutionContext("step")
	ec.Locals["x"] = 10
	ec.Locals["p"] = profile{Name: "ana", Score: 1}
	ec.Locals["pp"] = &profile{Name: "bo", Tags: map[string]string{}}
	ec.Locals["m"] = map[string]any{"k": 1}
	ec.Locals["b"] = box{Inner: profile{Name: "in"}}
	return ec
}

func TestAssign_Local(t *testing.T) {
	ec := newContext()
	ec.BindingTypes["x"] = reflect.TypeOf(0)

	res := Assign(ec, "x", "x + 1")
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	if ec.Locals["x"] != 11 {
		t.Fatalf("x = %v, want 11", ec.Locals["x"])
	}
	if ec.Revision != 1 || !ec.WasAssigned("x") {
		t.Fatalf("revision %d assigned %v", ec.Revision, ec.Assigned)
	}
}

func TestAssign_NewLocalUntyped(t *testing.T) {
	ec := newContext()
	if res := Assign(ec, "fresh", "'hello'"); !res.OK() {
		t.Fatalf("unexpected failure: %+v", res.Error)
	}
	if ec.Locals["fresh"] != "hello" {
		t.Fatalf("fresh = %v", ec.Locals["fresh"])
	}
}

func TestAssign_StructValueCopy(t *testing.T) {
	ec := newContext()
	before := ec.Locals["p"].(profile)

	if res := Assign(ec, "p.score", "41 + 1"); !res.OK() {
		t.Fatalf("unexpected failure: %+v", res.Error)
	}
	got := ec.Locals["p"].(profile)
	if got.Score != 42 || got.Name != "ana" {
		t.Fatalf("p = %+v", got)
	}
	if before.Score != 1 {
		t.Fatal("original struct value was mutated")
	}
}

func TestAssign_PointerAndMapInPlace(t *testing.T) {
	ec := newContext()
	pp := ec.Locals["pp"].(*profile)

	if res := Assign(ec, "pp.Name", "'cy'"); !res.OK() {
		t.Fatalf("unexpected failure: %+v", res.Error)
	}
	if pp.Name != "cy" {
		t.Fatalf("pointer not updated in place: %+v", pp)
	}
	if res := Assign(ec, "pp.Tags.color", "'red'"); !res.OK() {
		t.Fatalf("unexpected failure: %+v", res.Error)
	}
	if pp.Tags["color"] != "red" {
		t.Fatalf("map not updated: %v", pp.Tags)
	}
	if res := Assign(ec, "m.k", "2"); !res.OK() {
		t.Fatalf("unexpected failure: %+v", res.Error)
	}
	if ec.Locals["m"].(map[string]any)["k"] != 2 {
		t.Fatalf("m = %v", ec.Locals["m"])
	}
}

func TestAssign_NestedStruct(t *testing.T) {
	ec := newContext()
	if res := Assign(ec, "b.Inner.score", "5"); !res.OK() {
		t.Fatalf("unexpected failure: %+v", res.Error)
	}
	if got := ec.Locals["b"].(box).Inner.Score; got != 5 {
		t.Fatalf("b.Inner.Score = %d", got)
	}
}

func TestAssign_ReadBackThroughEval(t *testing.T) {
	tests := []struct {
		target     string
		expression string
		read       string
		want       any
	}{
		{"x", "x * 3", "x", 30},
		{"b.Inner.Tags", `{"lang": "go", "tier": "gold"}`, "b.Inner.Tags", map[string]string{"lang": "go", "tier": "gold"}},
		{"b.Inner.Name", "'nested'", "b.Inner.Name", "nested"},
		{"pp.Score", "6 * 7", "pp.Score", 42},
		{"m.k", "'two'", "m.k", "two"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			ec := newContext()
			ec.BindingTypes["x"] = reflect.TypeOf(0)
			if res := Assign(ec, tt.target, tt.expression); !res.OK() {
				t.Fatalf("Assign(%q): %+v", tt.target, res.Error)
			}
			got, err := Eval(ec, tt.read)
			if err != nil {
				t.Fatalf("Eval(%q): %v", tt.read, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Eval(%q) = %#v, want %#v", tt.read, got, tt.want)
			}
		})
	}
}

func TestAssign_Memory(t *testing.T) {
	ec := newContext()
	ec.Memory = &profile{}
	if res := Assign(ec, "memory.name", "'mem'"); !res.OK() {
		t.Fatalf("unexpected failure: %+v", res.Error)
	}
	if ec.Memory.(*profile).Name != "mem" {
		t.Fatalf("memory = %+v", ec.Memory)
	}
}

func TestAssign_Failures(t *testing.T) {
	tests := []struct {
		name   string
		target string
		expr   string
		kind   ErrorKind
	}{
		{"bare memory", "memory", "1", KindInvalidInput},
		{"dunder", "p.__x", "1", KindInvalidInput},
		{"non ascii", "é", "1", KindInvalidInput},
		{"empty segment", "p..Name", "1", KindInvalidInput},
		{"syntax", "x", "1 +", KindInvalidInput},
		{"unknown name in expression", "x", "nope", KindResolution},
		{"unknown root", "ghost.field", "1", KindResolution},
		{"unknown field", "p.missing", "1", KindResolution},
		{"type mismatch", "p.score", "'many'", KindInvalidInput},
		{"declared type mismatch", "x", "'eleven'", KindInvalidInput},
		{"memory disabled", "memory.name", "'x'", KindResolution},
		{"execution error", "x", "1 / 0", KindExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := newContext()
			ec.BindingTypes["x"] = reflect.TypeOf(0)
			snapshot := ec.CopyLocals()

			res := Assign(ec, tt.target, tt.expr)
			if res.OK() {
				t.Fatal("expected failure")
			}
			if res.Error.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s (%s)", res.Error.Kind, tt.kind, res.Error.Message)
			}
			if ec.Revision != 0 || len(ec.Assigned) != 0 {
				t.Fatal("failed assignment must not bump the revision")
			}
			if !reflect.DeepEqual(snapshot, ec.Locals) {
				t.Fatal("failed assignment mutated locals")
			}
		})
	}
}

func TestAssign_AtomicOnPointerRoot(t *testing.T) {
	ec := newContext()
	pp := ec.Locals["pp"].(*profile)
	res := Assign(ec, "pp.Score", "'not a number'")
	if res.OK() {
		t.Fatal("expected failure")
	}
	if pp.Score != 0 || pp.Name != "bo" {
		t.Fatalf("pointer root mutated on failure: %+v", pp)
	}
}

func TestResolveReference(t *testing.T) {
	ec := newContext()
	ec.Locals["list"] = []int{1, 2}

	v, err := ResolveReference(ec, "p.name")
	if err != nil || v != "ana" {
		t.Fatalf("p.name = %v, %v", v, err)
	}
	if _, err := ResolveReference(ec, "limit"); err == nil || !strings.Contains(err.Error(), "unknown root") {
		t.Fatalf("expected unknown root error, got %v", err)
	}
	if _, err := ResolveReference(ec, "p.__class"); err == nil {
		t.Fatal("expected dunder segment to be rejected")
	}
}

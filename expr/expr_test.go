package expr

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

// evalExpr is a parse-then-eval integration helper.
func evalExpr(t *testing.T, input string, vars map[string]any) any {
	t.Helper()
	ast, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q) unexpected error: %v", input, err)
	}
	result, err := Eval(ast, MapScope(vars))
	if err != nil {
		t.Fatalf("Eval(%q) unexpected error: %v", input, err)
	}
	return result
}

func evalExprErr(t *testing.T, input string, vars map[string]any) (any, error) {
	t.Helper()
	ast, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q) unexpected error: %v", input, err)
	}
	return Eval(ast, MapScope(vars))
}

type account struct {
	Owner   string `json:"owner"`
	Balance int
	tags    []string
}

func (a account) Greeting(prefix string) string { return prefix + " " + a.Owner }

func (a *account) Deposit(n int) int {
	a.Balance += n
	return a.Balance
}

func (a account) Fail() error { return errors.New("boom") }

func TestEval_Arithmetic(t *testing.T) {
	tests := []struct {
		input string
		want  any
	}{
		{"1 + 2", 1 + 2},
		{"7 / 2", 3},
		{"7 % 4", 3},
		{"7.0 / 2", 3.5},
		{"2 * 3 + 4", 10},
		{"2 * (3 + 4)", 14},
		{"-x + 1", -9},
		{"'a' + 'b'", "ab"},
		{"1_000 + 1", 1001},
		{"1.5e1", 15.0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := evalExpr(t, tt.input, map[string]any{"x": 10})
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %T(%v), want %T(%v)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestEval_DivisionByZero(t *testing.T) {
	for _, input := range []string{"1 / 0", "1 % 0", "1.0 / 0"} {
		_, err := evalExprErr(t, input, nil)
		var ee *EvalError
		if !errors.As(err, &ee) {
			t.Fatalf("%s: expected EvalError, got %v", input, err)
		}
	}
}

func TestEval_Comparisons(t *testing.T) {
	vars := map[string]any{"n": 5, "f": 5.0, "s": "abc", "m": map[string]any{"k": 1}}
	tests := []struct {
		input string
		want  bool
	}{
		{"n == f", true},
		{"n > 3 && n < 10", true},
		{"n >= 6 || s == 'abc'", true},
		{"!(n == 5)", false},
		{"s < 'abd'", true},
		{"s > 1", false},
		{"'k' in m", true},
		{"m has 'z'", false},
		{"s contains 'bc'", true},
		{"s startsWith 'ab'", true},
		{"s endsWith 'x'", false},
		{"s matches '^a.c$'", true},
		{"2 in [1, 2, 3]", true},
		{"nil == null", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := evalExpr(t, tt.input, vars)
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEval_NilCoalescing(t *testing.T) {
	got := evalExpr(t, "missing ?? 'fallback'", map[string]any{"missing": nil})
	if got != "fallback" {
		t.Fatalf("got %v", got)
	}
}

func TestEval_UndefinedName(t *testing.T) {
	_, err := evalExprErr(t, "nope + 1", nil)
	if !IsResolution(err) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if !strings.Contains(err.Error(), `name "nope" is not defined`) {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestEval_MemberAccess(t *testing.T) {
	acct := &account{Owner: "ana", Balance: 3}
	vars := map[string]any{
		"acct": acct,
		"cfg":  map[string]any{"nested": map[string]any{"depth": 2}},
	}

	if got := evalExpr(t, "acct.Owner", vars); got != "ana" {
		t.Fatalf("acct.Owner = %v", got)
	}
	if got := evalExpr(t, "acct.owner", vars); got != "ana" {
		t.Fatalf("json tag lookup = %v", got)
	}
	if got := evalExpr(t, "cfg.nested.depth", vars); got != 2 {
		t.Fatalf("cfg.nested.depth = %v", got)
	}
	if got := evalExpr(t, "cfg['nested']['depth']", vars); got != 2 {
		t.Fatalf("index form = %v", got)
	}

	_, err := evalExprErr(t, "acct.tags", vars)
	if !IsResolution(err) {
		t.Fatalf("unexported field should not resolve, got %v", err)
	}
	_, err = evalExprErr(t, "cfg.absent", vars)
	if !IsResolution(err) {
		t.Fatalf("missing key should be a ResolutionError, got %v", err)
	}
}

func TestEval_MethodCalls(t *testing.T) {
	acct := &account{Owner: "ana", Balance: 3}
	vars := map[string]any{"acct": acct}

	if got := evalExpr(t, "acct.Greeting('hi')", vars); got != "hi ana" {
		t.Fatalf("Greeting = %v", got)
	}
	if got := evalExpr(t, "acct.Deposit(4)", vars); got != 7 {
		t.Fatalf("Deposit = %v", got)
	}
	if acct.Balance != 7 {
		t.Fatalf("pointer receiver did not mutate, balance %d", acct.Balance)
	}

	_, err := evalExprErr(t, "acct.Fail()", vars)
	var ee *EvalError
	if !errors.As(err, &ee) || ee.Msg != "boom" {
		t.Fatalf("expected EvalError boom, got %v", err)
	}

	_, err = evalExprErr(t, "acct.Deposit('x')", vars)
	if !errors.As(err, &ee) {
		t.Fatalf("bad argument should fail coercion, got %v", err)
	}
}

func TestEval_FunctionValues(t *testing.T) {
	vars := map[string]any{
		"sum": func(xs ...int) int {
			total := 0
			for _, x := range xs {
				total += x
			}
			return total
		},
		"explode": func() string { panic("bad") },
		"pair":    func() (int, string) { return 1, "a" },
	}
	if got := evalExpr(t, "sum(1, 2, 3)", vars); got != 6 {
		t.Fatalf("sum = %v", got)
	}
	if got := evalExpr(t, "pair()", vars); !reflect.DeepEqual(got, []any{1, "a"}) {
		t.Fatalf("pair = %v", got)
	}
	_, err := evalExprErr(t, "explode()", vars)
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("expected recovered panic, got %v", err)
	}
}

func TestEval_Literals(t *testing.T) {
	got := evalExpr(t, `{"a": [1, 2,], b: 'x'}`, nil)
	want := map[string]any{"a": []any{1, 2}, "b": "x"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEval_Indexing(t *testing.T) {
	vars := map[string]any{"xs": []string{"a", "b", "c"}, "byID": map[int]string{7: "seven"}}
	if got := evalExpr(t, "xs[-1]", vars); got != "c" {
		t.Fatalf("xs[-1] = %v", got)
	}
	if got := evalExpr(t, "byID[7]", vars); got != "seven" {
		t.Fatalf("byID[7] = %v", got)
	}
	_, err := evalExprErr(t, "xs[5]", vars)
	if !IsResolution(err) {
		t.Fatalf("out of range should be a ResolutionError, got %v", err)
	}
}

func TestBuiltins(t *testing.T) {
	tests := []struct {
		input string
		want  any
	}{
		{"len('héllo')", 5},
		{"len([1, 2])", 2},
		{"str(12)", "12"},
		{"int(3.9)", 3},
		{"int('42')", 42},
		{"float('1.5')", 1.5},
		{"bool([])", false},
		{"keys({b: 1, a: 2})", []any{"a", "b"}},
		{"type(1)", "int"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := evalExpr(t, tt.input, nil)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuiltins_ShadowedByScope(t *testing.T) {
	got := evalExpr(t, "len", map[string]any{"len": 3})
	if got != 3 {
		t.Fatalf("scope should shadow builtins, got %v", got)
	}
}

func TestParse_Errors(t *testing.T) {
	for _, input := range []string{"", "1 +", "(1", "a.", "[1, 2", "'open"} {
		_, err := Parse(input)
		var se *SyntaxError
		if !errors.As(err, &se) {
			t.Errorf("Parse(%q): expected SyntaxError, got %v", input, err)
		}
	}
}

func TestNames(t *testing.T) {
	e, err := Parse("a.b + c[d] ?? f(g)")
	if err != nil {
		t.Fatal(err)
	}
	got := fmt.Sprint(Names(e))
	if got != "[a c d f g]" {
		t.Fatalf("Names = %s", got)
	}
}

func TestIsTruthy(t *testing.T) {
	var nilMap map[string]int
	tests := []struct {
		val  any
		want bool
	}{
		{nil, false},
		{0, false},
		{0.0, false},
		{"", false},
		{[]any{}, false},
		{nilMap, false},
		{1, true},
		{"x", true},
		{map[string]int{"a": 1}, true},
		{struct{}{}, true},
	}
	for _, tt := range tests {
		if got := IsTruthy(tt.val); got != tt.want {
			t.Errorf("IsTruthy(%#v) = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestLex(t *testing.T) {
	got, err := Lex("a.b >= 1.5 && 'x\\ty' ?? null")
	if err != nil {
		t.Fatalf("Lex() error = %v", err)
	}
	want := []Token{
		{TokenIdent, "a", 0},
		{TokenDot, ".", 1},
		{TokenIdent, "b", 2},
		{TokenGte, ">=", 4},
		{TokenNumber, "1.5", 7},
		{TokenAnd, "&&", 11},
		{TokenString, "x\ty", 14},
		{TokenNullCoal, "??", 21},
		{TokenNil, "null", 24},
		{TokenEOF, "", 28},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Lex() =\n%v\nwant\n%v", got, want)
	}

	if _, err := Lex("a # b"); err == nil || !strings.Contains(err.Error(), "unexpected character") {
		t.Fatalf("Lex(%q) error = %v", "a # b", err)
	}
}

package tool

import (
	"errors"
	"reflect"

	"github.com/petal-labs/nighthawk/contract"
	"github.com/petal-labs/nighthawk/core"
	"github.com/petal-labs/nighthawk/expr"
)

// contextScope resolves expression names against an execution context:
// locals, then globals, then memory. Builtins are consulted by expr.
type contextScope struct {
	ec *core.ExecutionContext
}

func (s contextScope) Lookup(name string) (any, bool) {
	return s.ec.Lookup(name)
}

// Eval evaluates expression against ec. Failures are *Failure values with
// kind invalid_input (syntax), resolution (unknown name, field, key or
// index) or execution (anything the evaluated code reported).
func Eval(ec *core.ExecutionContext, expression string) (any, error) {
	e, err := expr.Parse(expression)
	if err != nil {
		return nil, newFailure(KindInvalidInput, guidanceSyntax, err, "%s", err.Error())
	}
	v, err := expr.Eval(e, contextScope{ec: ec})
	if err != nil {
		return nil, classifyEvalError(err)
	}
	return v, nil
}

func classifyEvalError(err error) *Failure {
	var re *expr.ResolutionError
	if errors.As(err, &re) {
		return newFailure(KindResolution, guidanceResolution, err, "%s", re.Msg)
	}
	return newFailure(KindExecution, guidanceExecution, err, "%s", err.Error())
}

// ResolveReference resolves a dotted reference path against ec. The root
// must be a local or the memory name. Each later segment is a struct field
// (Go name or json tag), a map key or a method; zero-argument methods are
// called.
func ResolveReference(ec *core.ExecutionContext, path string) (any, error) {
	segs, err := contract.SplitPath(path)
	if err != nil {
		return nil, newFailure(KindInvalidInput, guidanceTarget, err, "invalid reference path %q: %v", path, err)
	}

	var cur any
	if v, ok := ec.Locals[segs[0]]; ok {
		cur = v
	} else if segs[0] == core.MemoryName && ec.Memory != nil {
		cur = ec.Memory
	} else {
		return nil, newFailure(KindResolution, guidanceResolution, nil, "unknown root name %q", segs[0])
	}

	for _, seg := range segs[1:] {
		next, err := expr.Member(cur, seg)
		if err != nil {
			return nil, classifyEvalError(err)
		}
		if fn := reflect.ValueOf(next); fn.Kind() == reflect.Func && fn.Type().NumIn() == 0 {
			if next, err = expr.Call(next, nil); err != nil {
				return nil, classifyEvalError(err)
			}
		}
		cur = next
	}
	return cur, nil
}

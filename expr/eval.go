package expr

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

// Eval evaluates a parsed expression against a scope. Names missing from
// the scope fall back to the builtins.
func Eval(e Expr, scope Scope) (any, error) {
	ev := &evaluator{scope: scope}
	return ev.eval(e)
}

// EvalString parses and evaluates expression in one step.
func EvalString(expression string, scope Scope) (any, error) {
	e, err := Parse(expression)
	if err != nil {
		return nil, err
	}
	return Eval(e, scope)
}

type evaluator struct {
	scope Scope
}

func (ev *evaluator) eval(e Expr) (any, error) {
	switch n := e.(type) {
	case *LiteralExpr:
		return n.Value, nil

	case *IdentExpr:
		if ev.scope != nil {
			if val, ok := ev.scope.Lookup(n.Name); ok {
				return val, nil
			}
		}
		if b, ok := LookupBuiltin(n.Name); ok {
			return b, nil
		}
		return nil, resolutionErrorf("name %q is not defined", n.Name)

	case *MemberExpr:
		obj, err := ev.eval(n.Object)
		if err != nil {
			return nil, err
		}
		return Member(obj, n.Property)

	case *IndexExpr:
		obj, err := ev.eval(n.Object)
		if err != nil {
			return nil, err
		}
		idx, err := ev.eval(n.Index)
		if err != nil {
			return nil, err
		}
		return accessIndex(obj, idx)

	case *CallExpr:
		fn, err := ev.eval(n.Func)
		if err != nil {
			return nil, err
		}
		args := make([]any, len(n.Args))
		for i, a := range n.Args {
			if args[i], err = ev.eval(a); err != nil {
				return nil, err
			}
		}
		return Call(fn, args)

	case *ArrayLiteral:
		result := make([]any, len(n.Elements))
		for i, elem := range n.Elements {
			val, err := ev.eval(elem)
			if err != nil {
				return nil, err
			}
			result[i] = val
		}
		return result, nil

	case *MapLiteral:
		result := make(map[string]any, len(n.Keys))
		for i, key := range n.Keys {
			val, err := ev.eval(n.Values[i])
			if err != nil {
				return nil, err
			}
			result[key] = val
		}
		return result, nil

	case *UnaryExpr:
		return ev.evalUnary(n)

	case *BinaryExpr:
		return ev.evalBinary(n)

	default:
		return nil, evalErrorf("unknown expression type %T", e)
	}
}

func (ev *evaluator) evalUnary(n *UnaryExpr) (any, error) {
	val, err := ev.eval(n.Operand)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case TokenNot:
		return !IsTruthy(val), nil
	case TokenMinus:
		if i, ok := toInt64(val); ok {
			return int(-i), nil
		}
		if f, ok := toFloat64(val); ok {
			return -f, nil
		}
		return nil, evalErrorf("bad operand type %T for unary -", val)
	default:
		return nil, evalErrorf("unknown unary operator %s", n.Op)
	}
}

func (ev *evaluator) evalBinary(n *BinaryExpr) (any, error) {
	// Short-circuit for logical operators
	switch n.Op {
	case TokenAnd:
		left, err := ev.eval(n.Left)
		if err != nil {
			return nil, err
		}
		if !IsTruthy(left) {
			return false, nil
		}
		right, err := ev.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return IsTruthy(right), nil

	case TokenOr:
		left, err := ev.eval(n.Left)
		if err != nil {
			return nil, err
		}
		if IsTruthy(left) {
			return true, nil
		}
		right, err := ev.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return IsTruthy(right), nil

	case TokenNullCoal:
		left, err := ev.eval(n.Left)
		if err != nil {
			return nil, err
		}
		if !isNil(left) {
			return left, nil
		}
		return ev.eval(n.Right)
	}

	// Non-short-circuit: evaluate both sides
	left, err := ev.eval(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := ev.eval(n.Right)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenPercent:
		return arithmetic(n.Op, left, right)
	case TokenEq:
		return isEqual(left, right), nil
	case TokenNeq:
		return !isEqual(left, right), nil
	case TokenGt:
		cmp, ok := compareNumeric(left, right)
		return ok && cmp > 0, nil
	case TokenGte:
		cmp, ok := compareNumeric(left, right)
		return ok && cmp >= 0, nil
	case TokenLt:
		cmp, ok := compareNumeric(left, right)
		return ok && cmp < 0, nil
	case TokenLte:
		cmp, ok := compareNumeric(left, right)
		return ok && cmp <= 0, nil
	case TokenIn:
		return checkIn(left, right), nil
	case TokenHas:
		return checkHas(left, right), nil
	case TokenContains:
		return checkContains(left, right), nil
	case TokenStartsWith:
		return checkStartsWith(left, right), nil
	case TokenEndsWith:
		return checkEndsWith(left, right), nil
	case TokenMatches:
		return checkMatches(left, right)
	default:
		return nil, evalErrorf("unknown binary operator %s", n.Op)
	}
}

func arithmetic(op TokenKind, left, right any) (any, error) {
	if op == TokenPlus {
		if ls, ok := left.(string); ok {
			if rs, ok := right.(string); ok {
				return ls + rs, nil
			}
		}
		if la, ok := left.([]any); ok {
			if ra, ok := right.([]any); ok {
				out := make([]any, 0, len(la)+len(ra))
				return append(append(out, la...), ra...), nil
			}
		}
	}

	li, lInt := toInt64(left)
	ri, rInt := toInt64(right)
	if lInt && rInt {
		switch op {
		case TokenPlus:
			return int(li + ri), nil
		case TokenMinus:
			return int(li - ri), nil
		case TokenStar:
			return int(li * ri), nil
		case TokenSlash, TokenPercent:
			if ri == 0 {
				return nil, evalErrorf("division by zero")
			}
			if op == TokenSlash {
				return int(li / ri), nil
			}
			return int(li % ri), nil
		}
	}

	lf, lNum := toFloat64(left)
	rf, rNum := toFloat64(right)
	if !lNum || !rNum {
		return nil, evalErrorf("unsupported operand types for %s: %T and %T", op, left, right)
	}
	switch op {
	case TokenPlus:
		return lf + rf, nil
	case TokenMinus:
		return lf - rf, nil
	case TokenStar:
		return lf * rf, nil
	case TokenSlash:
		if rf == 0 {
			return nil, evalErrorf("division by zero")
		}
		return lf / rf, nil
	}
	return nil, evalErrorf("unsupported operand types for %s: %T and %T", op, left, right)
}

// IsTruthy implements boolean coercion.
// Falsy: 0, "", nil, false, empty list, empty map, nil pointer.
func IsTruthy(val any) bool {
	if isNil(val) {
		return false
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		return v != ""
	}
	if f, ok := toFloat64(val); ok {
		return f != 0
	}
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len() > 0
	}
	return true
}

func isNil(val any) bool {
	if val == nil {
		return true
	}
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// isEqual follows reflect.DeepEqual semantics with numeric normalization.
func isEqual(a, b any) bool {
	af, aOK := toFloat64(a)
	bf, bOK := toFloat64(b)
	if aOK && bOK {
		return af == bf
	}
	if isNil(a) && isNil(b) {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// compareNumeric compares two values numerically.
// Returns (comparison, ok). ok is false if values aren't comparable.
func compareNumeric(a, b any) (int, bool) {
	af, aOK := toFloat64(a)
	bf, bOK := toFloat64(b)
	if !aOK || !bOK {
		as, aStr := a.(string)
		bs, bStr := b.(string)
		if aStr && bStr {
			return strings.Compare(as, bs), true
		}
		return 0, false
	}
	if af < bf {
		return -1, true
	}
	if af > bf {
		return 1, true
	}
	return 0, true
}

func toInt64(val any) (int64, bool) {
	if val == nil {
		return 0, false
	}
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int64(rv.Uint()), true // #nosec G115 -- expression arithmetic wraps like Go
	}
	return 0, false
}

func toFloat64(val any) (float64, bool) {
	if i, ok := toInt64(val); ok {
		return float64(i), true
	}
	if val == nil {
		return 0, false
	}
	rv := reflect.ValueOf(val)
	if rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64 {
		return rv.Float(), true
	}
	return 0, false
}

// accessIndex accesses an element by index or key.
func accessIndex(obj any, idx any) (any, error) {
	if isNil(obj) {
		return nil, resolutionErrorf("cannot index nil")
	}
	rv := indirect(reflect.ValueOf(obj))

	switch rv.Kind() {
	case reflect.Map:
		key, err := mapKey(rv.Type().Key(), idx)
		if err != nil {
			return nil, err
		}
		val := rv.MapIndex(key)
		if !val.IsValid() {
			return nil, resolutionErrorf("key %v not found", idx)
		}
		return val.Interface(), nil

	case reflect.Slice, reflect.Array, reflect.String:
		i, ok := toInt64(idx)
		if !ok {
			return nil, evalErrorf("invalid index type %T", idx)
		}
		n := int64(rv.Len())
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return nil, resolutionErrorf("index %v out of range [0:%d]", idx, n)
		}
		if rv.Kind() == reflect.String {
			return string(rv.String()[i]), nil
		}
		return rv.Index(int(i)).Interface(), nil

	case reflect.Struct:
		if name, ok := idx.(string); ok {
			return Member(obj, name)
		}
	}
	return nil, evalErrorf("%T is not indexable", obj)
}

func mapKey(t reflect.Type, idx any) (reflect.Value, error) {
	if idx == nil {
		return reflect.Value{}, evalErrorf("invalid map key nil")
	}
	kv := reflect.ValueOf(idx)
	if kv.Type().AssignableTo(t) {
		return kv, nil
	}
	if kv.Type().ConvertibleTo(t) && kv.Kind() == t.Kind() {
		return kv.Convert(t), nil
	}
	if i, ok := toInt64(idx); ok && t.Kind() >= reflect.Int && t.Kind() <= reflect.Uint64 {
		return reflect.ValueOf(i).Convert(t), nil
	}
	return reflect.Value{}, evalErrorf("invalid map key type %T for %s", idx, t)
}

// checkIn checks if left value exists in right list, or is a key of right map.
func checkIn(left, right any) bool {
	if isNil(right) {
		return false
	}
	rv := indirect(reflect.ValueOf(right))
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if isEqual(left, rv.Index(i).Interface()) {
				return true
			}
		}
	case reflect.Map:
		return checkHas(right, left)
	case reflect.String:
		s, ok := left.(string)
		return ok && strings.Contains(rv.String(), s)
	}
	return false
}

// checkHas checks if left map has right key.
func checkHas(left, right any) bool {
	if isNil(left) {
		return false
	}
	rv := indirect(reflect.ValueOf(left))
	if rv.Kind() != reflect.Map {
		return false
	}
	key, err := mapKey(rv.Type().Key(), right)
	if err != nil {
		return false
	}
	return rv.MapIndex(key).IsValid()
}

// checkContains checks if left string contains right string.
func checkContains(left, right any) bool {
	ls, lok := left.(string)
	rs, rok := right.(string)
	if !lok || !rok {
		return checkIn(right, left)
	}
	return strings.Contains(ls, rs)
}

// checkStartsWith checks if left string starts with right string.
func checkStartsWith(left, right any) bool {
	ls, lok := left.(string)
	rs, rok := right.(string)
	if !lok || !rok {
		return false
	}
	return strings.HasPrefix(ls, rs)
}

// checkEndsWith checks if left string ends with right string.
func checkEndsWith(left, right any) bool {
	ls, lok := left.(string)
	rs, rok := right.(string)
	if !lok || !rok {
		return false
	}
	return strings.HasSuffix(ls, rs)
}

// regexCache caches compiled regexes for matches operations.
var regexCache sync.Map

func checkMatches(left, right any) (bool, error) {
	ls, lok := left.(string)
	rs, rok := right.(string)
	if !lok || !rok {
		return false, nil
	}

	if cached, ok := regexCache.Load(rs); ok {
		re := cached.(*regexp.Regexp)
		return re.MatchString(ls), nil
	}

	re, err := regexp.Compile(rs)
	if err != nil {
		return false, &EvalError{Msg: fmt.Sprintf("invalid regex %q: %v", rs, err), Cause: err}
	}
	regexCache.Store(rs, re)
	return re.MatchString(ls), nil
}

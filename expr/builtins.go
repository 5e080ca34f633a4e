package expr

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Builtin is a function available to every expression by name.
type Builtin func(args ...any) (any, error)

var builtins = map[string]Builtin{
	"len":   builtinLen,
	"str":   builtinStr,
	"int":   builtinInt,
	"float": builtinFloat,
	"bool":  builtinBool,
	"keys":  builtinKeys,
	"type":  builtinType,
}

// LookupBuiltin returns the builtin registered under name.
func LookupBuiltin(name string) (Builtin, bool) {
	b, ok := builtins[name]
	return b, ok
}

// BuiltinNames returns the sorted builtin names.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func oneArg(name string, args []any) (any, error) {
	if len(args) != 1 {
		return nil, evalErrorf("%s() takes exactly one argument (%d given)", name, len(args))
	}
	return args[0], nil
}

func builtinLen(args ...any) (any, error) {
	v, err := oneArg("len", args)
	if err != nil {
		return nil, err
	}
	if isNil(v) {
		return 0, nil
	}
	rv := indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.String:
		return len([]rune(rv.String())), nil
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Chan:
		return rv.Len(), nil
	}
	return nil, evalErrorf("object of type %s has no len()", typeName(v))
}

func builtinStr(args ...any) (any, error) {
	v, err := oneArg("str", args)
	if err != nil {
		return nil, err
	}
	switch s := v.(type) {
	case nil:
		return "nil", nil
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	}
	return fmt.Sprint(v), nil
}

func builtinInt(args ...any) (any, error) {
	v, err := oneArg("int", args)
	if err != nil {
		return nil, err
	}
	if i, ok := toInt64(v); ok {
		return int(i), nil
	}
	if f, ok := toFloat64(v); ok {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, evalErrorf("cannot convert %v to int", f)
		}
		return int(math.Trunc(f)), nil
	}
	switch x := v.(type) {
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return nil, &EvalError{Msg: fmt.Sprintf("invalid literal for int(): %q", x), Cause: err}
		}
		return i, nil
	}
	return nil, evalErrorf("cannot convert %s to int", typeName(v))
}

func builtinFloat(args ...any) (any, error) {
	v, err := oneArg("float", args)
	if err != nil {
		return nil, err
	}
	if f, ok := toFloat64(v); ok {
		return f, nil
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, &EvalError{Msg: fmt.Sprintf("could not convert string to float: %q", s), Cause: err}
		}
		return f, nil
	}
	return nil, evalErrorf("cannot convert %s to float", typeName(v))
}

func builtinBool(args ...any) (any, error) {
	v, err := oneArg("bool", args)
	if err != nil {
		return nil, err
	}
	return IsTruthy(v), nil
}

func builtinKeys(args ...any) (any, error) {
	v, err := oneArg("keys", args)
	if err != nil {
		return nil, err
	}
	rv := indirect(reflect.ValueOf(v))
	if !rv.IsValid() || rv.Kind() != reflect.Map {
		return nil, evalErrorf("keys() expects a map, got %s", typeName(v))
	}
	keys := make([]any, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.Interface())
	}
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
	})
	return keys, nil
}

func builtinType(args ...any) (any, error) {
	v, err := oneArg("type", args)
	if err != nil {
		return nil, err
	}
	return typeName(v), nil
}

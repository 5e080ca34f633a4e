package expr

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/petal-labs/nighthawk/coerce"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Member resolves obj.name. Maps are looked up by key, structs by Go field
// name or json tag, and methods are returned bound to their receiver.
func Member(obj any, name string) (any, error) {
	if isNil(obj) {
		return nil, resolutionErrorf("cannot access %q on nil", name)
	}
	rv := reflect.ValueOf(obj)

	if m := rv.MethodByName(name); m.IsValid() {
		return m.Interface(), nil
	}

	v := indirect(rv)
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			break
		}
		val := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if !val.IsValid() {
			return nil, resolutionErrorf("key %q not found", name)
		}
		return val.Interface(), nil

	case reflect.Struct:
		if f, ok := structField(v, name); ok {
			return f.Interface(), nil
		}
		if v.CanAddr() {
			if m := v.Addr().MethodByName(name); m.IsValid() {
				return m.Interface(), nil
			}
		}
	}
	return nil, resolutionErrorf("%s has no attribute %q", typeName(obj), name)
}

func structField(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Name == name {
			return v.Field(i), true
		}
		if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" && tag != "-" && tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return v
		}
		v = v.Elem()
	}
	return v
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

// Call invokes fn with args. Builtins are called directly; any other Go
// function is called through reflection with each argument coerced to the
// parameter type. A trailing error result is returned as an EvalError.
func Call(fn any, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &EvalError{Msg: fmt.Sprintf("panic in call: %v", r)}
		}
	}()

	if b, ok := fn.(Builtin); ok {
		return b(args...)
	}
	if isNil(fn) {
		return nil, evalErrorf("nil is not callable")
	}

	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return nil, evalErrorf("%s is not callable", typeName(fn))
	}
	ft := fv.Type()

	in, err := callArgs(ft, args)
	if err != nil {
		return nil, err
	}
	out := fv.Call(in)
	return callResult(out)
}

func callArgs(ft reflect.Type, args []any) ([]reflect.Value, error) {
	n := ft.NumIn()
	if ft.IsVariadic() {
		if len(args) < n-1 {
			return nil, evalErrorf("expected at least %d arguments, got %d", n-1, len(args))
		}
	} else if len(args) != n {
		return nil, evalErrorf("expected %d arguments, got %d", n, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var pt reflect.Type
		if ft.IsVariadic() && i >= n-1 {
			pt = ft.In(n - 1).Elem()
		} else {
			pt = ft.In(i)
		}
		v, err := coerce.Value(a, pt)
		if err != nil {
			return nil, &EvalError{Msg: fmt.Sprintf("argument %d: %v", i+1, err), Cause: err}
		}
		in[i] = v
	}
	return in, nil
}

func callResult(out []reflect.Value) (any, error) {
	if len(out) > 0 && out[len(out)-1].Type() == errorType {
		last := out[len(out)-1]
		out = out[:len(out)-1]
		if !last.IsNil() {
			cause := last.Interface().(error)
			return nil, &EvalError{Msg: cause.Error(), Cause: cause}
		}
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	default:
		vals := make([]any, len(out))
		for i, v := range out {
			vals[i] = v.Interface()
		}
		return vals, nil
	}
}

// IsResolution reports whether err is a ResolutionError.
func IsResolution(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

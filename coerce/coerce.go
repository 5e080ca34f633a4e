// Package coerce converts dynamically produced values into declared Go
// types. It is used when a step writes an output binding, when a return
// outcome is reconciled with the host function's result types, and when the
// expression language calls Go functions.
//
// Conversion is lax in the usual places (integral floats become ints,
// numeric strings become numbers, map values fill structs) and strict
// elsewhere: nil only fits nillable kinds, fractional floats never truncate,
// integers convert to floats only when exact, overflow is an error, and
// unknown struct fields are rejected.
package coerce

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Error reports a failed conversion.
type Error struct {
	From   string
	To     reflect.Type
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("cannot convert %s to %s", e.From, e.To)
	}
	return fmt.Sprintf("cannot convert %s to %s: %s", e.From, e.To, e.Reason)
}

// To converts value to type t. A nil t accepts any value unchanged.
func To(value any, t reflect.Type) (any, error) {
	if t == nil {
		return value, nil
	}
	v, err := Value(value, t)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// Value converts value to type t and returns it as a reflect.Value of
// exactly type t.
func Value(value any, t reflect.Type) (reflect.Value, error) {
	if value == nil {
		if nillable(t.Kind()) {
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, &Error{From: "nil", To: t}
	}
	return convert(reflect.ValueOf(value), t)
}

func convert(rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	// Unwrap interface values so that the dynamic type drives conversion.
	for rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			if nillable(t.Kind()) {
				return reflect.Zero(t), nil
			}
			return reflect.Value{}, &Error{From: "nil", To: t}
		}
		rv = rv.Elem()
	}

	if rv.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	}

	switch {
	case isInt(t.Kind()):
		return toInt(rv, t)
	case isUint(t.Kind()):
		return toUint(rv, t)
	case isFloat(t.Kind()):
		return toFloat(rv, t)
	case t.Kind() == reflect.Bool:
		return toBool(rv, t)
	case t.Kind() == reflect.String:
		if rv.Kind() == reflect.String {
			return rv.Convert(t), nil
		}
		return reflect.Value{}, &Error{From: typeName(rv), To: t}
	case t.Kind() == reflect.Pointer:
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return reflect.Zero(t), nil
			}
			rv = rv.Elem()
		}
		elem, err := convert(rv, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil
	}

	if rv.Kind() == t.Kind() && rv.Type().ConvertibleTo(t) && t.Kind() != reflect.Struct {
		return rv.Convert(t), nil
	}

	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			return toSequence(rv, t)
		}
	case reflect.Map:
		if rv.Kind() == reflect.Map {
			return toMap(rv, t)
		}
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return reflect.Value{}, &Error{From: typeName(rv), To: t}
	}

	return viaJSON(rv, t)
}

func toInt(rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch {
	case isInt(rv.Kind()):
		n := rv.Int()
		if out.OverflowInt(n) {
			return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: "overflow"}
		}
		out.SetInt(n)
	case isUint(rv.Kind()):
		n := rv.Uint()
		if n > math.MaxInt64 || out.OverflowInt(int64(n)) {
			return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: "overflow"}
		}
		out.SetInt(int64(n))
	case isFloat(rv.Kind()):
		f := rv.Float()
		if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
			return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: "fractional value"}
		}
		if f < math.MinInt64 || f >= 1<<63 || out.OverflowInt(int64(f)) {
			return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: "overflow"}
		}
		out.SetInt(int64(f))
	case rv.Kind() == reflect.String:
		n, err := strconv.ParseInt(strings.TrimSpace(rv.String()), 10, 64)
		if err != nil || out.OverflowInt(n) {
			return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: "not an integer"}
		}
		out.SetInt(n)
	default:
		return reflect.Value{}, &Error{From: typeName(rv), To: t}
	}
	return out, nil
}

func toUint(rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch {
	case isUint(rv.Kind()):
		n := rv.Uint()
		if out.OverflowUint(n) {
			return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: "overflow"}
		}
		out.SetUint(n)
	case isInt(rv.Kind()):
		n := rv.Int()
		if n < 0 || out.OverflowUint(uint64(n)) {
			return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: "out of range"}
		}
		out.SetUint(uint64(n))
	case isFloat(rv.Kind()):
		f := rv.Float()
		if f != math.Trunc(f) || f < 0 || f >= 1<<64 || out.OverflowUint(uint64(f)) {
			return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: "out of range"}
		}
		out.SetUint(uint64(f))
	case rv.Kind() == reflect.String:
		n, err := strconv.ParseUint(strings.TrimSpace(rv.String()), 10, 64)
		if err != nil || out.OverflowUint(n) {
			return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: "not an unsigned integer"}
		}
		out.SetUint(n)
	default:
		return reflect.Value{}, &Error{From: typeName(rv), To: t}
	}
	return out, nil
}

func toFloat(rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch {
	case isFloat(rv.Kind()):
		f := rv.Float()
		if out.OverflowFloat(f) {
			return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: "overflow"}
		}
		out.SetFloat(f)
	case isInt(rv.Kind()):
		f := roundFloat(float64(rv.Int()), t)
		if f >= 1<<63 || int64(f) != rv.Int() {
			return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: "not exactly representable"}
		}
		out.SetFloat(f)
	case isUint(rv.Kind()):
		f := roundFloat(float64(rv.Uint()), t)
		if f >= 1<<64 || uint64(f) != rv.Uint() {
			return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: "not exactly representable"}
		}
		out.SetFloat(f)
	case rv.Kind() == reflect.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(rv.String()), 64)
		if err != nil || out.OverflowFloat(f) {
			return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: "not a number"}
		}
		out.SetFloat(f)
	default:
		return reflect.Value{}, &Error{From: typeName(rv), To: t}
	}
	return out, nil
}

// roundFloat rounds f to the precision of the float type t.
func roundFloat(f float64, t reflect.Type) float64 {
	if t.Kind() == reflect.Float32 {
		return float64(float32(f))
	}
	return f
}

func toBool(rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch rv.Kind() {
	case reflect.Bool:
		out.SetBool(rv.Bool())
	case reflect.String:
		b, err := strconv.ParseBool(strings.TrimSpace(rv.String()))
		if err != nil {
			return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: "not a boolean"}
		}
		out.SetBool(b)
	default:
		return reflect.Value{}, &Error{From: typeName(rv), To: t}
	}
	return out, nil
}

func toSequence(rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	n := rv.Len()
	var out reflect.Value
	if t.Kind() == reflect.Array {
		if n != t.Len() {
			return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: fmt.Sprintf("length %d, want %d", n, t.Len())}
		}
		out = reflect.New(t).Elem()
	} else {
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return reflect.Zero(t), nil
		}
		out = reflect.MakeSlice(t, n, n)
	}
	for i := 0; i < n; i++ {
		elem, err := convert(rv.Index(i), t.Elem())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("index %d: %w", i, err)
		}
		out.Index(i).Set(elem)
	}
	return out, nil
}

func toMap(rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	if rv.IsNil() {
		return reflect.Zero(t), nil
	}
	out := reflect.MakeMapWithSize(t, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, err := convert(iter.Key(), t.Key())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("key %v: %w", iter.Key(), err)
		}
		val, err := convert(iter.Value(), t.Elem())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("key %v: %w", iter.Key(), err)
		}
		out.SetMapIndex(key, val)
	}
	return out, nil
}

// viaJSON converts through a JSON round trip. Struct targets reject unknown
// fields.
func viaJSON(rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	data, err := json.Marshal(rv.Interface())
	if err != nil {
		return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: err.Error()}
	}
	ptr := reflect.New(t)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(ptr.Interface()); err != nil {
		return reflect.Value{}, &Error{From: typeName(rv), To: t, Reason: err.Error()}
	}
	return ptr.Elem(), nil
}

func nillable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func typeName(rv reflect.Value) string {
	return rv.Type().String()
}

package runtime

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/petal-labs/nighthawk/block"
)

// As asserts v to T, returning the zero value for nil.
func As[T any](v any) T {
	t, _ := v.(T)
	return t
}

// Assign stores bindings[name] into dst when the step wrote that binding.
// A binding that is absent leaves dst untouched, so "not assigned" stays
// distinct from "assigned nil".
func Assign[T any](dst *T, bindings map[string]any, name string) {
	if v, ok := bindings[name]; ok {
		*dst = As[T](v)
	}
}

// Type refers to a Go type. Generated code passes package-level types to
// steps as Type values so they can be inspected and raised by name.
type Type struct {
	reflect.Type
}

// TypeRef returns a Type for T.
func TypeRef[T any]() Type {
	return Type{Type: reflect.TypeFor[T]()}
}

func (t Type) String() string {
	if t.Type == nil {
		return "type(nil)"
	}
	return "type(" + t.Type.String() + ")"
}

// ExtractProgram returns the program of a natural block that was formatted
// at run time. Text without a sentinel is returned unchanged.
func ExtractProgram(text string) string {
	program, err := block.ExtractProgram(text)
	if err != nil {
		return text
	}
	return program
}

// ErrorClass is a named error constructor that steps may raise.
type ErrorClass struct {
	Name string
	New  func(message string) error
}

// NewErrorClass creates an error class.
func NewErrorClass(name string, ctor func(message string) error) *ErrorClass {
	return &ErrorClass{Name: name, New: ctor}
}

func (c *ErrorClass) String() string { return "error class " + c.Name }

var errorType = reflect.TypeFor[error]()

// ErrorConstructor reports whether v, bound under name, can be raised by a
// step and returns its constructor. Accepted values are an *ErrorClass
// named name, a Type whose Go name is name and that implements error
// (directly or through a pointer), and a sentinel error bound under a name
// starting with "Err".
func ErrorConstructor(name string, v any) (func(message string) error, bool) {
	switch c := v.(type) {
	case *ErrorClass:
		if c != nil && c.Name == name && c.New != nil {
			return c.New, true
		}
	case Type:
		if c.Type != nil && c.Type.Name() == name {
			return typeConstructor(c.Type)
		}
	case error:
		if strings.HasPrefix(name, "Err") {
			return func(message string) error { return &RaisedError{Sentinel: c, Message: message} }, true
		}
	}
	return nil, false
}

// RaisedError wraps a sentinel error raised by a step with the step's
// message. errors.Is matches the sentinel.
type RaisedError struct {
	Sentinel error
	Message  string
}

func (e *RaisedError) Error() string {
	if e.Message == "" {
		return e.Sentinel.Error()
	}
	return e.Sentinel.Error() + ": " + e.Message
}

func (e *RaisedError) Unwrap() error { return e.Sentinel }

// typeConstructor builds errors of type t. The message goes into a string
// kind directly, or into the first string field named Message, Msg, Reason
// or Text of a struct.
func typeConstructor(t reflect.Type) (func(string) error, bool) {
	pointer := false
	switch {
	case t.Implements(errorType):
	case reflect.PointerTo(t).Implements(errorType):
		pointer = true
	default:
		return nil, false
	}
	return func(message string) error {
		p := reflect.New(t)
		setMessage(p.Elem(), message)
		v := p
		if !pointer {
			v = p.Elem()
		}
		if err, ok := v.Interface().(error); ok {
			return err
		}
		return errors.New(message)
	}, true
}

func setMessage(v reflect.Value, message string) {
	switch v.Kind() {
	case reflect.String:
		v.SetString(message)
	case reflect.Struct:
		for _, name := range []string{"Message", "Msg", "Reason", "Text"} {
			f := v.FieldByName(name)
			if f.IsValid() && f.CanSet() && f.Kind() == reflect.String {
				f.SetString(message)
				return
			}
		}
	}
}

// ErrorCandidates returns the names among refs and locals whose values are
// raisable error classes named like their binding, sorted.
func ErrorCandidates(lookup func(string) (any, bool), names []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if _, ok := ErrorConstructor(name, v); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

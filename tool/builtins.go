package tool

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/petal-labs/nighthawk/core"
)

// Names of the provided tools.
const (
	EvalToolName   = "nh_eval"
	AssignToolName = "nh_assign"
	DirToolName    = "nh_dir"
	HelpToolName   = "nh_help"
)

// Builtins returns the provided tools in a fresh registry.
func Builtins() *Registry {
	return NewRegistry(
		MustFunc(EvalToolName,
			"Evaluate an expression against the step's locals, globals and memory and return its value.",
			ObjectSchema([]string{"expression"}, map[string]string{
				"expression": "Expression to evaluate, for example items[0].name or len(rows)",
			}),
			evalHandler),
		MustFunc(AssignToolName,
			"Evaluate an expression and assign the result to target_path (name or name.field). Assignments are atomic.",
			ObjectSchema([]string{"target_path", "expression"}, map[string]string{
				"target_path": "Where to store the value: name(.field)*",
				"expression":  "Expression producing the value to store",
			}),
			assignHandler),
		MustFunc(DirToolName,
			"List the field, method and key names available on the value of an expression.",
			ObjectSchema([]string{"expression"}, map[string]string{
				"expression": "Expression whose value to inspect",
			}),
			dirHandler),
		MustFunc(HelpToolName,
			"Describe the Go type of the value of an expression: its kind, fields and methods.",
			ObjectSchema([]string{"expression"}, map[string]string{
				"expression": "Expression whose type to describe",
			}),
			helpHandler),
	)
}

func stringArg(args map[string]any, name string) (string, error) {
	raw, ok := args[name]
	if !ok {
		return "", newFailure(KindInvalidInput, "Provide every required argument.", nil, "missing required argument %q", name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", newFailure(KindInvalidInput, "Provide every required argument.", nil, "argument %q must be a string, got %T", name, raw)
	}
	return s, nil
}

func evalHandler(_ context.Context, ec *core.ExecutionContext, args map[string]any) (any, error) {
	expression, err := stringArg(args, "expression")
	if err != nil {
		return nil, err
	}
	return Eval(ec, expression)
}

func assignHandler(_ context.Context, ec *core.ExecutionContext, args map[string]any) (any, error) {
	target, err := stringArg(args, "target_path")
	if err != nil {
		return nil, err
	}
	expression, err := stringArg(args, "expression")
	if err != nil {
		return nil, err
	}
	value, err := AssignValue(ec, target, expression)
	if err != nil {
		return nil, err
	}
	return map[string]any{"target": target, "value": value}, nil
}

func dirHandler(_ context.Context, ec *core.ExecutionContext, args map[string]any) (any, error) {
	expression, err := stringArg(args, "expression")
	if err != nil {
		return nil, err
	}
	v, err := Eval(ec, expression)
	if err != nil {
		return nil, err
	}
	return Dir(v), nil
}

func helpHandler(_ context.Context, ec *core.ExecutionContext, args map[string]any) (any, error) {
	expression, err := stringArg(args, "expression")
	if err != nil {
		return nil, err
	}
	v, err := Eval(ec, expression)
	if err != nil {
		return nil, err
	}
	return Describe(v), nil
}

// Dir returns the sorted field, method and map key names reachable on v.
func Dir(v any) []string {
	if v == nil {
		return []string{}
	}
	seen := map[string]bool{}
	rv := reflect.ValueOf(v)
	for i := 0; i < rv.Type().NumMethod(); i++ {
		seen[rv.Type().Method(i).Name] = true
	}
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			break
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).IsExported() {
				seen[t.Field(i).Name] = true
			}
		}
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			for _, k := range rv.MapKeys() {
				seen[k.String()] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe returns a human readable description of v's Go type.
func Describe(v any) string {
	if v == nil {
		return "nil"
	}
	t := reflect.TypeOf(v)
	var sb strings.Builder
	fmt.Fprintf(&sb, "type %s (%s)", t, t.Kind())

	st := t
	for st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() == reflect.Struct {
		sb.WriteString("\nfields:")
		for i := 0; i < st.NumField(); i++ {
			f := st.Field(i)
			if !f.IsExported() {
				continue
			}
			fmt.Fprintf(&sb, "\n  %s %s", f.Name, f.Type)
			if tag := f.Tag.Get("json"); tag != "" {
				fmt.Fprintf(&sb, " (json %q)", tag)
			}
		}
	}
	if t.NumMethod() > 0 {
		sb.WriteString("\nmethods:")
		for i := 0; i < t.NumMethod(); i++ {
			m := t.Method(i)
			fmt.Fprintf(&sb, "\n  %s%s", m.Name, dropReceiver(m.Type))
		}
	}
	return sb.String()
}

// dropReceiver formats a method expression signature without its receiver.
func dropReceiver(ft reflect.Type) string {
	in := make([]string, 0, ft.NumIn())
	for i := 1; i < ft.NumIn(); i++ {
		in = append(in, ft.In(i).String())
	}
	out := make([]string, 0, ft.NumOut())
	for i := 0; i < ft.NumOut(); i++ {
		out = append(out, ft.Out(i).String())
	}
	sig := "(" + strings.Join(in, ", ") + ")"
	switch len(out) {
	case 0:
	case 1:
		sig += " " + out[0]
	default:
		sig += " (" + strings.Join(out, ", ") + ")"
	}
	return sig
}

package tool

import (
	"context"
	"fmt"
	"regexp"

	"github.com/petal-labs/nighthawk/core"
)

var toolNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Handler implements a tool. Arguments are the decoded JSON object sent by
// the model.
type Handler func(ctx context.Context, ec *core.ExecutionContext, args map[string]any) (any, error)

// Tool is a named, schema-described function the model can call during a
// step.
type Tool struct {
	Name        string
	Description string
	// Schema is the JSON schema of the argument object.
	Schema  map[string]any
	Handler Handler
}

// ValidateName checks that name is an ASCII identifier.
func ValidateName(name string) error {
	if !toolNamePattern.MatchString(name) {
		return &core.ToolRegistrationError{
			Name:    name,
			Message: "tool names must be ASCII identifiers matching ^[A-Za-z_][A-Za-z0-9_]*$",
		}
	}
	return nil
}

// Func builds a validated Tool. A nil schema accepts any object.
func Func(name, description string, schema map[string]any, fn Handler) (Tool, error) {
	if err := ValidateName(name); err != nil {
		return Tool{}, err
	}
	if fn == nil {
		return Tool{}, &core.ToolRegistrationError{Name: name, Message: "handler is nil"}
	}
	if schema == nil {
		schema = ObjectSchema(nil, nil)
	}
	return Tool{Name: name, Description: description, Schema: schema, Handler: fn}, nil
}

// MustFunc is like Func but panics on an invalid definition.
func MustFunc(name, description string, schema map[string]any, fn Handler) Tool {
	t, err := Func(name, description, schema, fn)
	if err != nil {
		panic(fmt.Sprintf("tool: %v", err))
	}
	return t
}

// Spec returns the provider-facing description of the tool.
func (t Tool) Spec() core.LLMToolSpec {
	return core.LLMToolSpec{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Schema,
	}
}

// ObjectSchema builds an object schema with string-typed properties.
func ObjectSchema(required []string, descriptions map[string]string) map[string]any {
	props := make(map[string]any, len(descriptions))
	for name, desc := range descriptions {
		props[name] = map[string]any{"type": "string", "description": desc}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

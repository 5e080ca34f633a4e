package contract

import (
	"errors"

	"github.com/petal-labs/nighthawk/core"
)

// ErrNoAllowedKinds is returned when a schema or prompt is requested for an
// empty allowed set.
var ErrNoAllowedKinds = errors.New("allowed kinds must not be empty")

// BuildSchema returns the JSON schema for the step outcome.
//
// The schema is a single flat object discriminated by "kind". It carries no
// oneOf/anyOf/allOf combinators; structural rules per kind are enforced by
// DecodeOutcome after parsing.
func BuildSchema(allowed []core.Kind, errorTypes []string) (map[string]any, error) {
	if len(allowed) == 0 {
		return nil, ErrNoAllowedKinds
	}

	kinds := make([]any, len(allowed))
	for i, k := range allowed {
		kinds[i] = string(k)
	}

	properties := map[string]any{
		"kind": map[string]any{
			"type": "string",
			"enum": kinds,
		},
	}

	if core.ContainsKind(allowed, core.KindReturn) {
		properties["reference_path"] = map[string]any{
			"type":    "string",
			"pattern": ReferencePathPattern,
		}
	}

	if core.ContainsKind(allowed, core.KindRaise) {
		properties["message"] = map[string]any{
			"type": "string",
		}
	}

	if len(errorTypes) > 0 {
		names := make([]any, len(errorTypes))
		for i, n := range errorTypes {
			names[i] = n
		}
		properties["error_type"] = map[string]any{
			"type": "string",
			"enum": names,
		}
	}

	return map[string]any{
		"type":                 "object",
		"title":                "StepOutcome",
		"properties":           properties,
		"required":             []any{"kind"},
		"additionalProperties": false,
	}, nil
}

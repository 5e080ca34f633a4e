package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/petal-labs/nighthawk/core"
)

// fieldsByKind lists the keys each kind may carry besides "kind".
var fieldsByKind = map[core.Kind][]string{
	core.KindPass:     nil,
	core.KindReturn:   {"reference_path"},
	core.KindBreak:    nil,
	core.KindContinue: nil,
	core.KindRaise:    {"message", "error_type"},
}

// DecodeOutcome parses the model's final answer into an Outcome.
//
// Surrounding whitespace and a single fenced code block are tolerated.
// Unknown keys, keys irrelevant to the chosen kind, wrong field types and
// missing required fields are rejected. The kind is not checked against the
// allowed set here; the runner does that so the error names the call site.
func DecodeOutcome(text string) (core.Outcome, error) {
	raw := stripFence(strings.TrimSpace(text))

	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return core.Outcome{}, invalidOutcome("not a JSON object: %v", err)
	}
	if dec.More() {
		return core.Outcome{}, invalidOutcome("trailing data after JSON object")
	}

	kindRaw, ok := fields["kind"]
	if !ok {
		return core.Outcome{}, invalidOutcome("missing 'kind'")
	}
	var kindText string
	if err := json.Unmarshal(kindRaw, &kindText); err != nil {
		return core.Outcome{}, invalidOutcome("'kind' must be a string")
	}
	kind, ok := core.ParseKind(kindText)
	if !ok {
		return core.Outcome{}, invalidOutcome("unknown kind %q", kindText)
	}

	var extra []string
	for key := range fields {
		if key == "kind" {
			continue
		}
		if !contains(fieldsByKind[kind], key) {
			extra = append(extra, key)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return core.Outcome{}, invalidOutcome("unexpected keys for kind %q: %s", kind, strings.Join(extra, ", "))
	}

	out := core.Outcome{Kind: kind}
	switch kind {
	case core.KindReturn:
		path, err := stringField(fields, "reference_path", true)
		if err != nil {
			return core.Outcome{}, err
		}
		if err := ValidateReferencePath(path); err != nil {
			return core.Outcome{}, invalidOutcome("%v", err)
		}
		out.ReferencePath = path
	case core.KindRaise:
		msg, err := stringField(fields, "message", true)
		if err != nil {
			return core.Outcome{}, err
		}
		errType, err := stringField(fields, "error_type", false)
		if err != nil {
			return core.Outcome{}, err
		}
		out.Message = msg
		out.ErrorType = errType
	}
	return out, nil
}

// ValidateOutcome checks a structured outcome produced without JSON, such
// as one returned by a function executor.
func ValidateOutcome(o core.Outcome) error {
	if _, ok := core.ParseKind(string(o.Kind)); !ok {
		return invalidOutcome("unknown kind %q", o.Kind)
	}
	switch o.Kind {
	case core.KindReturn:
		if o.Message != "" || o.ErrorType != "" {
			return invalidOutcome("unexpected raise fields for kind %q", o.Kind)
		}
		if err := ValidateReferencePath(o.ReferencePath); err != nil {
			return invalidOutcome("%v", err)
		}
	case core.KindRaise:
		if o.ReferencePath != "" {
			return invalidOutcome("unexpected reference_path for kind %q", o.Kind)
		}
		if o.Message == "" {
			return invalidOutcome("'message' is required for kind %q", o.Kind)
		}
	default:
		if o.ReferencePath != "" || o.Message != "" || o.ErrorType != "" {
			return invalidOutcome("kind %q carries no fields", o.Kind)
		}
	}
	return nil
}

func stringField(fields map[string]json.RawMessage, name string, required bool) (string, error) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		if required {
			return "", invalidOutcome("%q is required", name)
		}
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalidOutcome("%q must be a string", name)
	}
	if required && s == "" {
		return "", invalidOutcome("%q must not be empty", name)
	}
	return s, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	body = strings.TrimSpace(body)
	return strings.TrimSpace(strings.TrimSuffix(body, "```"))
}

func invalidOutcome(format string, args ...any) *core.ExecutionError {
	return core.Executionf("Step produced invalid step outcome: %s", fmt.Sprintf(format, args...))
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

package render

import (
	"slices"
	"strings"
)

// DefaultMaskSubstrings are the name fragments masked by DefaultRedaction.
var DefaultMaskSubstrings = []string{"token", "secret", "password", "api", "auth", "bearer", "cookie"}

// DefaultMarker replaces masked values.
const DefaultMarker = "<redacted>"

// Redaction masks sensitive values before they reach a prompt.
type Redaction struct {
	// Allowlist, when non-empty, limits rendered locals to these names.
	Allowlist []string
	// MaskSubstrings are matched case-insensitively against local names
	// and nested map keys.
	MaskSubstrings []string
	// Marker replaces masked values.
	Marker string
}

// DefaultRedaction returns a Redaction with the default mask substrings.
func DefaultRedaction() *Redaction {
	return &Redaction{
		MaskSubstrings: slices.Clone(DefaultMaskSubstrings),
		Marker:         DefaultMarker,
	}
}

// Allowed reports whether the allowlist admits name.
func (r *Redaction) Allowed(name string) bool {
	if r == nil || len(r.Allowlist) == 0 {
		return true
	}
	return slices.Contains(r.Allowlist, name)
}

// Masks reports whether name contains a mask substring.
func (r *Redaction) Masks(name string) bool {
	if r == nil {
		return false
	}
	lowered := strings.ToLower(name)
	for _, s := range r.MaskSubstrings {
		if s != "" && strings.Contains(lowered, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

func (r *Redaction) marker() string {
	if r.Marker == "" {
		return DefaultMarker
	}
	return r.Marker
}

// Apply returns the JSONable form of the value bound to name with masked
// names and nested map keys replaced by the marker.
func (r *Redaction) Apply(name string, value any) any {
	if r == nil {
		return value
	}
	if r.Masks(name) {
		return r.marker()
	}
	return r.walk(ToJSONable(value))
}

func (r *Redaction) walk(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			if r.Masks(k) {
				out[k] = r.marker()
			} else {
				out[k] = r.walk(e)
			}
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = r.walk(e)
		}
		return out
	}
	return v
}

// ApplyFields masks nested map keys and struct fields of value without
// checking a binding name.
func (r *Redaction) ApplyFields(value any) any {
	if r == nil {
		return value
	}
	return r.walk(ToJSONable(value))
}

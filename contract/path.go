package contract

import (
	"fmt"
	"strings"
)

// ReferencePathPattern is the schema pattern for reference paths.
// The no-dunder rule is enforced by ValidateReferencePath.
const ReferencePathPattern = `^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`

// IsIdentifier reports whether s is an ASCII identifier.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// SplitPath splits a dotted identifier path and validates every segment.
// Segments must be ASCII identifiers and must not start with "__".
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(path, ".")
	for _, part := range parts {
		for i := 0; i < len(part); i++ {
			if part[i] >= 0x80 {
				return nil, fmt.Errorf("segment %q is not ASCII", part)
			}
		}
		if !IsIdentifier(part) {
			return nil, fmt.Errorf("segment %q is not an identifier", part)
		}
		if strings.HasPrefix(part, "__") {
			return nil, fmt.Errorf("segment %q is private", part)
		}
	}
	return parts, nil
}

// ValidateReferencePath checks a return reference path.
func ValidateReferencePath(path string) error {
	if _, err := SplitPath(path); err != nil {
		return fmt.Errorf("invalid reference_path %q: %w", path, err)
	}
	return nil
}

// Package block locates natural blocks in Go source and parses their
// binding tokens.
//
// A string is a natural block when, after dedenting and skipping leading
// blank lines, its first line is exactly the sentinel "natural". Three forms
// are recognised inside a function declaration: the doc comment of the
// function, a bare string literal statement, and a bare fmt.Sprintf call
// statement whose format literal carries the sentinel.
package block

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/petal-labs/nighthawk/core"
)

// Sentinel is the first line that marks a string as a natural block.
const Sentinel = "natural"

// Kind identifies the syntactic form of a block.
type Kind string

const (
	KindDocstring Kind = "docstring"
	KindInline    Kind = "inline"
	KindTemplated Kind = "templated"
)

// Block is an extracted natural block. It is immutable once extracted.
type Block struct {
	Kind Kind
	// Program is the block text after the sentinel line. For templated
	// blocks it is the format string with verbs left in place.
	Program string
	Inputs  []string
	Outputs []string
	// Line is the 1-based source line of the block.
	Line int
}

var bindingPattern = regexp.MustCompile(`<(:?)([^<>\s]*)>`)

// IsSentinel reports whether text is marked as a natural block.
func IsSentinel(text string) bool {
	lines := strings.Split(Dedent(text), "\n")
	i := 0
	for i < len(lines) && lines[i] == "" {
		i++
	}
	return i < len(lines) && strings.TrimRight(lines[i], "\r") == Sentinel
}

// ExtractProgram returns the text following the sentinel line.
func ExtractProgram(text string) (string, error) {
	lines := strings.Split(Dedent(text), "\n")
	i := 0
	for i < len(lines) && lines[i] == "" {
		i++
	}
	if i >= len(lines) || strings.TrimRight(lines[i], "\r") != Sentinel {
		return "", &core.ParseError{Message: "Missing natural sentinel"}
	}
	return strings.Join(lines[i+1:], "\n"), nil
}

// ParseBindings returns the input and output binding names in text, each
// deduplicated in first-seen order.
//
// A token that opens with "<" or "<:" and closes with ">" must hold a valid
// identifier. Other bracketed text, such as "<a.b>" references or "<= 3",
// is left alone unless it is written as an output token.
func ParseBindings(text string) (inputs, outputs []string, err error) {
	for _, m := range bindingPattern.FindAllStringSubmatchIndex(text, -1) {
		start := m[0]
		if start > 0 && text[start-1] == '\\' {
			continue
		}
		isOutput := m[3] > m[2]
		name := text[m[4]:m[5]]
		if !isIdentifier(name) {
			if isOutput {
				return nil, nil, &core.ParseError{Message: fmt.Sprintf("Invalid binding name: %q", name)}
			}
			continue
		}
		if isOutput {
			outputs = appendUnique(outputs, name)
		} else {
			inputs = appendUnique(inputs, name)
		}
	}
	return inputs, outputs, nil
}

// Dedent removes the common leading whitespace of every non-blank line.
// Whitespace-only lines become empty.
func Dedent(text string) string {
	lines := strings.Split(text, "\n")
	prefix := ""
	first := true
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			prefix = indent
			first = false
			continue
		}
		prefix = commonPrefix(prefix, indent)
	}
	if prefix == "" {
		return strings.Join(lines, "\n")
	}
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, prefix)
	}
	return strings.Join(lines, "\n")
}

func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[:i]
		}
	}
	return a[:n]
}

func isIdentifier(s string) bool {
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

func appendUnique(list []string, s string) []string {
	for _, item := range list {
		if item == s {
			return list
		}
	}
	return append(list, s)
}

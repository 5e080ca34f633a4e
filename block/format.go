package block

import (
	"fmt"
	"strings"

	"github.com/petal-labs/nighthawk/core"
)

// placeholder stands in for a formatting verb during sentinel detection so
// that interpolated text can neither satisfy nor break the sentinel test.
const placeholder = "\x00"

// Segment is a piece of a format string: either literal text or a verb.
type Segment struct {
	Text string
	Verb bool
}

// SplitFormat splits a fmt format string at its verbs. "%%" stays literal.
func SplitFormat(format string) []Segment {
	var segments []Segment
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			segments = append(segments, Segment{Text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			lit.WriteByte(c)
			continue
		}
		if i+1 < len(format) && format[i+1] == '%' {
			lit.WriteString("%%")
			i++
			continue
		}
		end := verbEnd(format, i+1)
		flush()
		segments = append(segments, Segment{Text: format[i:end], Verb: true})
		i = end - 1
	}
	flush()
	return segments
}

// verbEnd returns the index just past the verb starting after a '%'.
func verbEnd(format string, i int) int {
	for i < len(format) && strings.IndexByte("+-# 0", format[i]) >= 0 {
		i++
	}
	for i < len(format) && (format[i] == '*' || isDigit(format[i]) || format[i] == '.' || format[i] == '[' || format[i] == ']') {
		i++
	}
	if i < len(format) {
		i++
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// SentinelText joins segments with verbs replaced by a placeholder.
func SentinelText(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		if s.Verb {
			b.WriteString(placeholder)
			continue
		}
		b.WriteString(s.Text)
	}
	return b.String()
}

// ParseSegments parses bindings from the literal segments of a templated
// block. A binding token whose "<" and ">" fall in different literal
// segments is rejected.
func ParseSegments(segments []Segment) (inputs, outputs []string, err error) {
	open := false
	for _, s := range segments {
		if s.Verb {
			if open {
				return nil, nil, &core.ParseError{Message: fmt.Sprintf("Binding token spans an interpolation at %s", s.Text)}
			}
			continue
		}
		in, out, err := ParseBindings(s.Text)
		if err != nil {
			return nil, nil, err
		}
		for _, n := range in {
			inputs = appendUnique(inputs, n)
		}
		for _, n := range out {
			outputs = appendUnique(outputs, n)
		}
		open = danglingOpen(s.Text)
	}
	return inputs, outputs, nil
}

// danglingOpen reports whether text ends inside an unclosed binding token.
func danglingOpen(text string) bool {
	lt := strings.LastIndexByte(text, '<')
	if lt < 0 || strings.IndexByte(text[lt:], '>') >= 0 {
		return false
	}
	rest := strings.TrimPrefix(text[lt+1:], ":")
	return rest == "" || isIdentifier(rest)
}

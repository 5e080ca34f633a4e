package render

import (
	"fmt"
	"reflect"
	"unicode/utf8"
)

// MinimumOutput is returned when nothing else fits the budget.
const MinimumOutput = "{}"

// RenderJSON renders v as compact JSON within maxTokens. When the full
// rendering is too large it searches for the largest structural cut that
// fits: items per container first, then depth, then string length. The
// result may be MinimumOutput even if that exceeds the budget.
func RenderJSON(v any, maxTokens int, tok Tokenizer) (string, int, error) {
	if maxTokens < len(MinimumOutput) {
		return "", 0, fmt.Errorf("render: maxTokens must be >= %d, got %d", len(MinimumOutput), maxTokens)
	}
	if tok == nil {
		tok = Approximate
	}

	jsonable := ToJSONable(v)
	text := compactJSON(jsonable)
	if n := tok.Count(text); n <= maxTokens {
		return text, n, nil
	}

	shape := measure(jsonable)
	try := func(cut Cut) (string, int, bool) {
		text := compactJSON(ToJSONableCut(v, cut))
		n := tok.Count(text)
		return text, n, n <= maxTokens
	}

	// Most items per container at full depth.
	if shape.items > 0 {
		best, bestN, ok := search(1, shape.items, func(i int) (string, int, bool) {
			return try(Cut{MaxItems: i})
		})
		if ok {
			return best, bestN, nil
		}
	}

	// One item per container, deepest nesting that fits.
	if shape.depth > 0 {
		best, bestN, ok := search(1, shape.depth, func(d int) (string, int, bool) {
			return try(Cut{MaxItems: 1, MaxDepth: d})
		})
		if ok {
			return best, bestN, nil
		}
	}

	// Shortest structure, longest strings that fit.
	if shape.runes > 0 {
		base := Cut{MaxItems: 1, MaxDepth: 1}
		if shape.depth == 0 {
			base = Cut{}
		}
		best, bestN, ok := search(1, shape.runes, func(r int) (string, int, bool) {
			cut := base
			cut.MaxString = r
			return try(cut)
		})
		if ok {
			return best, bestN, nil
		}
	}

	return MinimumOutput, tok.Count(MinimumOutput), nil
}

// search finds the largest n in [lo, hi] for which fits succeeds, assuming
// success is monotone in n.
func search(lo, hi int, fits func(n int) (string, int, bool)) (string, int, bool) {
	var (
		best  string
		bestN int
		found bool
	)
	for lo <= hi {
		mid := lo + (hi-lo)/2
		text, n, ok := fits(mid)
		if ok {
			best, bestN, found = text, n, true
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best, bestN, found
}

type shape struct {
	items int // largest container length
	depth int // deepest container nesting
	runes int // longest string
}

func measure(v any) shape {
	var s shape
	var walk func(v any, depth int)
	walk = func(v any, depth int) {
		switch x := v.(type) {
		case string:
			if n := utf8.RuneCountInString(x); n > s.runes {
				s.runes = n
			}
		case []any:
			s.items = max(s.items, len(x))
			s.depth = max(s.depth, depth+1)
			for _, e := range x {
				walk(e, depth+1)
			}
		case map[string]any:
			s.items = max(s.items, len(x))
			s.depth = max(s.depth, depth+1)
			for k, e := range x {
				if n := utf8.RuneCountInString(k); n > s.runes {
					s.runes = n
				}
				walk(e, depth+1)
			}
		}
	}
	walk(v, 0)
	return s
}

// TypeName returns the Go type string used in rendered sections. Functions
// render as their signature.
func TypeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

package render

import (
	"sort"
	"strings"
)

// SnippedMarker is appended to a section that could not show every item.
const SnippedMarker = "<snipped>"

// Item is one named value in a rendered section.
type Item struct {
	Name  string
	Value any
}

// SectionLimits bounds a rendered section.
type SectionLimits struct {
	MaxItems         int
	SectionMaxTokens int
	ValueMaxTokens   int
}

// RenderSection renders items as "name: type = value" lines sorted by name.
// Names starting with "__" are skipped. Rendering stops at MaxItems or when
// the next line would exceed SectionMaxTokens, and a single SnippedMarker
// line records the cut.
func RenderSection(items []Item, limits SectionLimits, tok Tokenizer, redaction *Redaction) (string, error) {
	if tok == nil {
		tok = Approximate
	}
	eligible := make([]Item, 0, len(items))
	for _, it := range items {
		if strings.HasPrefix(it.Name, "__") {
			continue
		}
		eligible = append(eligible, it)
	}
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].Name < eligible[j].Name })

	var lines []string
	total := 0
	shown := 0
	for _, it := range eligible {
		if limits.MaxItems > 0 && shown >= limits.MaxItems {
			break
		}
		head := it.Name + ": " + TypeName(it.Value) + " = "
		value, valueTokens, err := RenderJSON(redaction.Apply(it.Name, it.Value), limits.ValueMaxTokens, tok)
		if err != nil {
			return "", err
		}
		lineTokens := tok.Count(head) + valueTokens
		if limits.SectionMaxTokens > 0 && total+lineTokens+1 > limits.SectionMaxTokens {
			break
		}
		lines = append(lines, head+value)
		total += lineTokens + 1
		shown++
	}
	if shown < len(eligible) {
		lines = append(lines, SnippedMarker)
	}
	return strings.Join(lines, "\n"), nil
}

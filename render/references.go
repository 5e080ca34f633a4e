package render

import (
	"regexp"
	"strings"
)

var (
	referencePattern = regexp.MustCompile(`(^|[^\\])<([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)>`)
	escapedPattern   = regexp.MustCompile(`\\<([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)>`)
)

// ExtractReferences returns the top-level names referenced by <name> or
// <name.attr> tokens in text, deduplicated in order of first appearance,
// and the text with escaped \<...> tokens unescaped.
func ExtractReferences(text string) ([]string, string) {
	var names []string
	seen := map[string]bool{}

	// Matches consume the preceding byte, so adjacent tokens need a rescan
	// from the closing '>' of the previous match.
	for pos := 0; pos < len(text); {
		loc := referencePattern.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		path := text[pos+loc[4] : pos+loc[5]]
		root, _, _ := strings.Cut(path, ".")
		if !seen[root] {
			seen[root] = true
			names = append(names, root)
		}
		pos += loc[5]
	}

	return names, escapedPattern.ReplaceAllString(text, "<$1>")
}

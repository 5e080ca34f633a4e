package contract

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/nighthawk/core"
)

// SplitFrontmatter removes an optional leading frontmatter block from a
// program and returns the remaining text and the denied kinds.
//
// Frontmatter starts at the first non-blank line when that line is exactly
// "---" and ends at the next "---" line. A block with an empty body, or one
// that is never closed, is not frontmatter and the program is returned as is.
// The only supported key is "deny", a non-empty sequence of kind names.
func SplitFrontmatter(program string) (string, []core.Kind, error) {
	lines := strings.SplitAfter(program, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	start := -1
	for i, line := range lines {
		if strings.Trim(line, " \t\r\n") == "" {
			continue
		}
		start = i
		break
	}
	if start < 0 || !isFence(lines[start]) {
		return program, nil, nil
	}

	closing := -1
	for i := start + 1; i < len(lines); i++ {
		if isFence(lines[i]) {
			closing = i
			break
		}
	}
	if closing < 0 {
		return program, nil, nil
	}

	body := strings.Join(lines[start+1:closing], "")
	if strings.TrimSpace(body) == "" {
		return program, nil, nil
	}

	denied, err := parseFrontmatter(body)
	if err != nil {
		return "", nil, err
	}
	return strings.Join(lines[closing+1:], ""), denied, nil
}

func isFence(line string) bool {
	return line == "---\n" || line == "---"
}

func parseFrontmatter(body string) ([]core.Kind, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, core.Executionf("Frontmatter YAML parsing failed: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, core.Executionf("Frontmatter YAML must be a mapping")
	}
	mapping := doc.Content[0]

	var denyNode *yaml.Node
	var unknown []string
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		if key == "deny" {
			denyNode = mapping.Content[i+1]
			continue
		}
		unknown = append(unknown, key)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, core.Executionf("Unknown frontmatter keys: %s", strings.Join(unknown, ", "))
	}
	if denyNode == nil {
		return nil, core.Executionf("Frontmatter must include 'deny'")
	}
	if denyNode.Kind != yaml.SequenceNode {
		return nil, core.Executionf("Frontmatter 'deny' must be a YAML sequence of strings")
	}
	for _, item := range denyNode.Content {
		if item.Kind != yaml.ScalarNode || item.ShortTag() != "!!str" {
			return nil, core.Executionf("Frontmatter 'deny' must be a YAML sequence of strings")
		}
	}
	if len(denyNode.Content) == 0 {
		return nil, core.Executionf("Frontmatter 'deny' must not be empty")
	}

	denied := make([]core.Kind, 0, len(denyNode.Content))
	for _, item := range denyNode.Content {
		k, ok := core.ParseKind(item.Value)
		if !ok {
			return nil, core.Executionf("Unknown denied step kind: %s", item.Value)
		}
		if !core.ContainsKind(denied, k) {
			denied = append(denied, k)
		}
	}
	return denied, nil
}

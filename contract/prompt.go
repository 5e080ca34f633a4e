package contract

import (
	"strings"

	"github.com/petal-labs/nighthawk/core"
)

// BuildPromptFragment returns the system prompt instructions describing the
// outcome contract. It lists exactly the kinds and fields BuildSchema allows.
func BuildPromptFragment(allowed []core.Kind, errorTypes []string) (string, error) {
	if len(allowed) == 0 {
		return "", ErrNoAllowedKinds
	}

	var b strings.Builder
	b.WriteString("Final output (StepOutcome):\n")
	b.WriteString("- Output exactly one JSON object and nothing else.\n")
	b.WriteString("- Purpose: tell the host Go runtime what to do AFTER this natural block.\n")
	b.WriteString("- `kind` MUST be one of: " + backtickList(kindStrings(allowed)) + ".\n")
	b.WriteString("- Output only the fields allowed for the chosen `kind`. Do not include other keys.\n")

	if core.ContainsKind(allowed, core.KindPass) {
		b.WriteString("\n- `pass`:\n")
		b.WriteString("  - Use this outcome by default for normal completion.\n")
		b.WriteString("  - Default: choose `pass`.\n")
		b.WriteString("  - Output exactly: {\"kind\": \"pass\"}.\n")
	}

	if core.ContainsKind(allowed, core.KindReturn) {
		b.WriteString("\n- `return`:\n")
		b.WriteString("  - Use this ONLY when the natural program explicitly requires an immediate `return` from the surrounding Go function.\n")
		b.WriteString("  - Do NOT use `return` to \"return the answer\". Most blocks should end with `pass`.\n")
		b.WriteString("  - `reference_path` is required and must be a dot-separated identifier path into step locals.\n")
		b.WriteString("  - If you need to return a literal, nh_assign it first, then set `reference_path` to that name.\n")
	}

	if core.ContainsKind(allowed, core.KindBreak) {
		b.WriteString("\n- `break`:\n")
		b.WriteString("  - Use this only when you must break out of the surrounding Go loop immediately.\n")
		b.WriteString("  - Output exactly: {\"kind\": \"break\"}.\n")
	}

	if core.ContainsKind(allowed, core.KindContinue) {
		b.WriteString("\n- `continue`:\n")
		b.WriteString("  - Use this only when you must continue with the next iteration of the surrounding Go loop immediately.\n")
		b.WriteString("  - Output exactly: {\"kind\": \"continue\"}.\n")
	}

	if core.ContainsKind(allowed, core.KindRaise) {
		b.WriteString("\n- `raise`:\n")
		b.WriteString("  - Use this only when the step must fail with an error.\n")
		b.WriteString("  - `message` is required.\n")
		b.WriteString("  - Output keys: `kind`, `message`.\n")
		if len(errorTypes) > 0 {
			b.WriteString("  - Optional: `error_type`. If you include `error_type`, it MUST be one of: " + backtickList(errorTypes) + ".\n")
		}
	}

	return b.String(), nil
}

func kindStrings(kinds []core.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func backtickList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "`" + s + "`"
	}
	return strings.Join(quoted, ", ")
}

package render

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/petal-labs/nighthawk/core"
	"github.com/petal-labs/nighthawk/expr"
)

// DefaultUserPromptTemplate frames the step program and the rendered
// context sections.
const DefaultUserPromptTemplate = `<<<NH:PROGRAM>>>
{{.Program}}
<<<NH:END_PROGRAM>>>

<<<NH:LOCALS>>>
{{.Locals}}
<<<NH:END_LOCALS>>>

<<<NH:GLOBALS>>>
{{.Globals}}
<<<NH:END_GLOBALS>>>
{{- if .HasMemory}}

<<<NH:MEMORY>>>
{{.Memory}}
<<<NH:END_MEMORY>>>
{{- end}}
`

// PromptOptions configures BuildUserPrompt.
type PromptOptions struct {
	Tokenizer Tokenizer
	Redaction *Redaction
	// Template overrides DefaultUserPromptTemplate.
	Template string
}

type promptData struct {
	Program   string
	Locals    string
	Globals   string
	Memory    string
	HasMemory bool
}

// BuildUserPrompt renders the user prompt for a step: the unescaped
// program, the step locals, referenced names that are not locals, and the
// memory object when one is set.
func BuildUserPrompt(program string, ec *core.ExecutionContext, opts PromptOptions) (string, error) {
	limits := ec.Limits.WithDefaults()
	tok := opts.Tokenizer
	if tok == nil {
		tok = Approximate
	}

	references, programText := ExtractReferences(program)

	localItems := make([]Item, 0, len(ec.Locals))
	for _, name := range ec.LocalNames() {
		if !opts.Redaction.Allowed(name) {
			continue
		}
		localItems = append(localItems, Item{Name: name, Value: ec.Locals[name]})
	}
	locals, err := RenderSection(localItems, SectionLimits{
		MaxItems:         limits.MaxItems,
		SectionMaxTokens: limits.LocalsMaxTokens,
		ValueMaxTokens:   limits.ValueMaxTokens,
	}, tok, opts.Redaction)
	if err != nil {
		return "", fmt.Errorf("rendering locals: %w", err)
	}

	var globalItems []Item
	for _, name := range references {
		if _, isLocal := ec.Locals[name]; isLocal {
			continue
		}
		if v, ok := ec.Lookup(name); ok {
			globalItems = append(globalItems, Item{Name: name, Value: v})
			continue
		}
		if b, ok := expr.LookupBuiltin(name); ok {
			globalItems = append(globalItems, Item{Name: name, Value: b})
		}
	}
	globals, err := RenderSection(globalItems, SectionLimits{
		MaxItems:         limits.MaxItems,
		SectionMaxTokens: limits.GlobalsMaxTokens,
		ValueMaxTokens:   limits.ValueMaxTokens,
	}, tok, opts.Redaction)
	if err != nil {
		return "", fmt.Errorf("rendering globals: %w", err)
	}

	data := promptData{Program: programText, Locals: locals, Globals: globals}
	if ec.Memory != nil {
		data.HasMemory = true
		memory := opts.Redaction.ApplyFields(ec.Memory)
		data.Memory, _, err = RenderJSON(memory, limits.MemoryMaxTokens, tok)
		if err != nil {
			return "", fmt.Errorf("rendering memory: %w", err)
		}
	}

	text := opts.Template
	if text == "" {
		text = DefaultUserPromptTemplate
	}
	tmpl, err := template.New("user_prompt").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing user prompt template: %w", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("executing user prompt template: %w", err)
	}
	return sb.String(), nil
}

package llmprovider

import (
	"encoding/json"

	iristools "github.com/petal-labs/iris/tools"

	"github.com/petal-labs/nighthawk/core"
)

// specTool presents a core.LLMToolSpec as an iris tool definition. Only the
// definition travels to the provider; nighthawk runs tool calls itself.
type specTool struct {
	spec   core.LLMToolSpec
	schema json.RawMessage
}

func newSpecTool(spec core.LLMToolSpec) specTool {
	params := spec.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	return specTool{spec: spec, schema: raw}
}

func (t specTool) Name() string { return t.spec.Name }

func (t specTool) Description() string { return t.spec.Description }

func (t specTool) Schema() iristools.ToolSchema {
	return iristools.ToolSchema{JSONSchema: t.schema}
}

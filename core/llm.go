package core

import "context"

// =============================================================================
// LLM Client Interface
// =============================================================================

// LLMClient abstracts a single provider/model backend.
// Implementations adapt various LLM providers to this common interface.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// LLMRequest is the request structure for LLM completion.
// It is transport-agnostic and works across different providers.
type LLMRequest struct {
	Model       string         // model identifier
	System      string         // system prompt
	Messages    []LLMMessage   // conversation messages
	Tools       []LLMToolSpec  // tools the model may call
	JSONSchema  map[string]any // optional: structured output constraints
	Temperature *float64       // optional: sampling temperature
	MaxTokens   *int           // optional: maximum output tokens
	Meta        map[string]any // trace/cost controls
}

// LLMToolSpec describes a callable tool to the model.
type LLMToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema of the arguments object
}

// LLMMessage is a chat message.
type LLMMessage struct {
	Role        string          // "system", "user", "assistant", "tool"
	Content     string          // message content
	ToolCalls   []LLMToolCall   // for assistant messages with pending tool calls
	ToolResults []LLMToolResult // for tool result messages (Role="tool")
}

// LLMResponse captures the output from an LLM call.
type LLMResponse struct {
	Text      string        // raw text output
	Usage     LLMTokenUsage // token consumption
	Provider  string        // provider ID that handled the request
	Model     string        // model that generated the response
	ToolCalls []LLMToolCall // tool calls requested by the model
	Status    string        // response status (optional)
	Meta      map[string]any
}

// LLMTokenUsage tracks token consumption for LLM calls.
type LLMTokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add combines two usage values.
func (u LLMTokenUsage) Add(other LLMTokenUsage) LLMTokenUsage {
	return LLMTokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// LLMToolCall represents a tool invocation requested by the model.
// Arguments holds the raw JSON arguments object.
type LLMToolCall struct {
	ID        string
	Name      string
	Arguments []byte
}

// LLMToolResult represents the result of executing a tool.
type LLMToolResult struct {
	CallID  string // Must match LLMToolCall.ID from the response
	Content string // serialized tool result
	IsError bool
}

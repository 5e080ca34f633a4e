// Package llmprovider bridges iris LLM providers to nighthawk's
// core.LLMClient interface, including the tool definitions a step exposes
// to the model.
package llmprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	iriscore "github.com/petal-labs/iris/core"

	"github.com/petal-labs/nighthawk/core"
)

var emptyArgs = json.RawMessage("{}")

// irisAdapter wraps an iris Provider to implement core.LLMClient.
type irisAdapter struct {
	provider iriscore.Provider
}

// Complete runs one chat turn. Tool calls in the reply are returned to the
// caller, never executed here.
func (a *irisAdapter) Complete(ctx context.Context, req core.LLMRequest) (core.LLMResponse, error) {
	resp, err := a.provider.Chat(ctx, chatRequest(req))
	switch {
	case err != nil:
		return core.LLMResponse{}, fmt.Errorf("%s chat: %w", a.provider.ID(), err)
	case resp == nil:
		return core.LLMResponse{}, errors.New(a.provider.ID() + " chat: empty response")
	}
	return a.response(resp), nil
}

func chatRequest(req core.LLMRequest) *iriscore.ChatRequest {
	out := &iriscore.ChatRequest{
		Model:     iriscore.ModelID(req.Model),
		Messages:  make([]iriscore.Message, 0, len(req.Messages)+1),
		MaxTokens: req.MaxTokens,
	}
	if req.System != "" {
		out.Messages = append(out.Messages, iriscore.Message{Role: iriscore.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, chatMessage(m))
	}
	for _, spec := range req.Tools {
		out.Tools = append(out.Tools, newSpecTool(spec))
	}
	if t := req.Temperature; t != nil {
		temp := float32(*t)
		out.Temperature = &temp
	}
	return out
}

func chatMessage(m core.LLMMessage) iriscore.Message {
	msg := iriscore.Message{Role: irisRole(m.Role), Content: m.Content}
	for _, call := range m.ToolCalls {
		args := call.Arguments
		if len(args) == 0 {
			args = emptyArgs
		}
		msg.ToolCalls = append(msg.ToolCalls, iriscore.ToolCall{ID: call.ID, Name: call.Name, Arguments: args})
	}
	for _, res := range m.ToolResults {
		msg.ToolResults = append(msg.ToolResults, iriscore.ToolResult{
			CallID:  res.CallID,
			Content: res.Content,
			IsError: res.IsError,
		})
	}
	return msg
}

func (a *irisAdapter) response(resp *iriscore.ChatResponse) core.LLMResponse {
	out := core.LLMResponse{
		Text:     resp.Output,
		Provider: a.provider.ID(),
		Model:    string(resp.Model),
		Status:   resp.Status,
		Usage: core.LLMTokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Meta: map[string]any{},
	}
	if resp.ID != "" {
		out.Meta["response_id"] = resp.ID
	}
	for _, call := range resp.ToolCalls {
		// Malformed arguments become an empty object; the tool reports
		// the missing fields to the model.
		args := []byte(call.Arguments)
		if !json.Valid(args) {
			args = emptyArgs
		}
		out.ToolCalls = append(out.ToolCalls, core.LLMToolCall{ID: call.ID, Name: call.Name, Arguments: args})
	}
	return out
}

// irisRole maps a role name; unknown roles are sent as user messages.
func irisRole(role string) iriscore.Role {
	switch role {
	case "system":
		return iriscore.RoleSystem
	case "assistant":
		return iriscore.RoleAssistant
	case "tool":
		return iriscore.RoleTool
	}
	return iriscore.RoleUser
}

var _ core.LLMClient = (*irisAdapter)(nil)

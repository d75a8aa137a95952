package planner

import (
	"context"
	"encoding/json"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult answers one ToolCall.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// Message is one conversation turn. Assistant turns may carry tool calls; the user turn that
// follows them carries the matching results.
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolSpec describes a tool to the model. Schema is a JSON Schema object.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ChatRequest is one model invocation.
type ChatRequest struct {
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the assistant turn produced by a ChatRequest.
type ChatResponse struct {
	Message Message
	// Truncated is set when the model stopped at the token limit.
	Truncated bool
}

// ChatModel is a tool-calling language model.
type ChatModel interface {
	Converse(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// ChatModelFunc adapts a function to ChatModel.
type ChatModelFunc func(ctx context.Context, req ChatRequest) (ChatResponse, error)

func (f ChatModelFunc) Converse(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return f(ctx, req)
}

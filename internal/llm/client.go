// Package llm defines the model client interface and the OpenAI-compatible
// HTTP provider used for turn orchestration.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is a single turn in a conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"toolCallId,omitempty"` // set on tool result messages
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`  // set on assistant messages that invoke tools
}

// ToolDefinition describes a tool the model can invoke.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"` // JSON Schema
}

// CompletionRequest is the input to a Complete or Stream call.
type CompletionRequest struct {
	Model       string           `json:"model,omitempty"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"maxTokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	Content      string        `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	ToolCalls    []ToolCall    `json:"toolCalls,omitempty"`
	Usage        Usage         `json:"usage"`
	Model        string        `json:"model,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// StreamEvent is a chunk from a streaming completion.
type StreamEvent struct {
	Type    string `json:"type"`              // "delta", "done", "error"
	Content string `json:"content,omitempty"` // text delta
	Error   string `json:"error,omitempty"`   // error message (type="error")

	// Final fields (type="done")
	Response *CompletionResponse `json:"response,omitempty"`
}

// Client is the interface all model providers must implement.
type Client interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream sends a request and returns a channel of streaming events.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	// Name returns the provider name (e.g., "openai").
	Name() string
}

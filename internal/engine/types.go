package engine

import (
	"context"
	"fmt"
)

// MessageRole represents the role of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ChatMessage is the provider-agnostic message we pass around.
type ChatMessage struct {
	Role    MessageRole // Role of the message sender
	Content string      // Message content
	Name    string      // For tool messages: the tool call ID this result answers
	// ToolCalls stores the tool calls made by this assistant message.
	// Providers require tool_calls in assistant messages when reconstructing history.
	ToolCalls []ToolCall
}

// Validate checks if the ChatMessage is valid.
func (m ChatMessage) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	if m.Role == RoleTool && m.Name == "" {
		return fmt.Errorf("tool messages must have a Name field")
	}
	return nil
}

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// Add accumulates usage from another call.
func (u *Usage) Add(other Usage) {
	u.Prompt += other.Prompt
	u.Completion += other.Completion
	u.Total += other.Total
}

// ToolCall represents a function/tool the assistant requested.
type ToolCall struct {
	ID    string // Provider-specific tool call ID (e.g., OpenAI's call_xxx)
	Name  string
	Args  map[string]any
	Error string // Set by provider if the call arrived malformed (unparsable argument JSON)
}

// Step is one completed unit of reasoning: the assistant turn plus the tool
// calls it requested. Immutable once appended to a session.
type Step struct {
	Index      int
	Assistant  ChatMessage
	ToolCalls  []ToolCall
	ParseError string // non-empty when the model emitted malformed tool syntax
	Reflection bool   // true when this step reviewed the previous one rather than advancing
	Final      bool   // true when the step carries the final answer marker
}

// LLMResponse is a normalized result of one chat call.
type LLMResponse struct {
	Assistant    ChatMessage
	ToolCalls    []ToolCall // zero or more tool calls requested by the model
	Usage        Usage
	FinishReason string // "stop" | "length" | "tool_calls" | "content_filter"
}

// LLMClient abstracts the chosen SDK (OpenAI, Anthropic, etc.)
type LLMClient interface {
	Chat(ctx context.Context, model string, messages []ChatMessage, toolSchemas []ToolSchema, opts ChatOptions) (LLMResponse, error)
}

// ChatOptions keeps knobs forwarded to the SDK.
type ChatOptions struct {
	Temperature     float32
	MaxOutputTokens int
	RetryConfig     *RetryConfig // Optional retry configuration (nil = use defaults)
}

// ToolSchema is the JSON schema the provider expects for function calling.
type ToolSchema struct {
	Name        string
	Description string
	JSONSchema  string // raw JSON string
	Retryable   bool   // Whether this tool can be retried (true for idempotent tools)
}

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/ChamsBouzaiene/ponder/internal/engine"
)

// OpenAIClient implements engine.LLMClient against any OpenAI-compatible
// chat completions endpoint.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	baseURL string
}

func NewOpenAIClient(apiKey, modelName, baseURL string) (*OpenAIClient, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(config),
		model:   modelName,
		baseURL: baseURL,
	}, nil
}

// Chat implements engine.LLMClient.
func (c *OpenAIClient) Chat(ctx context.Context, modelName string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: encodeOpenAIMessages(messages),
	}

	tools, err := encodeOpenAITools(toolSchemas)
	if err != nil {
		return engine.LLMResponse{}, err
	}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = "auto"
	}
	if opts.MaxOutputTokens > 0 {
		req.MaxTokens = opts.MaxOutputTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		status, retryAfter := httpErrorMetadata(err)
		return engine.LLMResponse{}, engine.WrapLLMError(err, status, retryAfter)
	}
	if len(resp.Choices) == 0 {
		return engine.LLMResponse{}, fmt.Errorf("empty response from provider")
	}

	out := decodeOpenAIChoice(resp.Choices[0])
	out.Usage = engine.Usage{
		Prompt:     resp.Usage.PromptTokens,
		Completion: resp.Usage.CompletionTokens,
		Total:      resp.Usage.TotalTokens,
	}
	return out, nil
}

// encodeOpenAIMessages converts the engine conversation to wire messages.
// The system turn is hoisted to the front, and tool turns are dropped unless
// the preceding assistant turn actually carried tool calls, since the API
// rejects orphaned tool results.
func encodeOpenAIMessages(messages []engine.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	var system string
	pairedToolTurn := false

	for _, msg := range messages {
		switch msg.Role {
		case engine.RoleSystem:
			system = msg.Content
			pairedToolTurn = false

		case engine.RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
			pairedToolTurn = false

		case engine.RoleAssistant:
			out = append(out, encodeAssistantTurn(msg))
			pairedToolTurn = len(msg.ToolCalls) > 0

		case engine.RoleTool:
			if !pairedToolTurn {
				continue
			}
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			// msg.Name carries the tool_call_id this result answers.
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: msg.Name,
				Content:    content,
			})
		}
	}

	if system != "" {
		out = append([]openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		}}, out...)
	}
	return out
}

func encodeAssistantTurn(msg engine.ChatMessage) openai.ChatCompletionMessage {
	// The SDK serializes an empty string as null, which some endpoints
	// reject. A single space is accepted and semantically equivalent.
	content := msg.Content
	if content == "" {
		content = " "
	}

	var calls []openai.ToolCall
	for _, tc := range msg.ToolCalls {
		argsJSON, _ := json.Marshal(tc.Args)
		calls = append(calls, openai.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: string(argsJSON),
			},
		})
	}

	return openai.ChatCompletionMessage{
		Role:      openai.ChatMessageRoleAssistant,
		Content:   content,
		ToolCalls: calls,
	}
}

func encodeOpenAITools(schemas []engine.ToolSchema) ([]openai.Tool, error) {
	var tools []openai.Tool
	for _, ts := range schemas {
		var params map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &params); err != nil {
			return nil, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

func decodeOpenAIChoice(choice openai.ChatCompletionChoice) engine.LLMResponse {
	assistant := engine.ChatMessage{
		Role:    engine.RoleAssistant,
		Content: choice.Message.Content,
	}

	var calls []engine.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		call := engine.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: make(map[string]any),
		}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &call.Args); err != nil {
				// Malformed argument JSON degrades the call, not the session.
				call.Args = make(map[string]any)
				call.Error = fmt.Sprintf("unparsable argument JSON: %v", err)
			}
		}
		calls = append(calls, call)
	}
	assistant.ToolCalls = calls

	finish := "stop"
	switch {
	case len(calls) > 0:
		finish = "tool_calls"
	case choice.FinishReason == openai.FinishReasonLength:
		finish = "length"
	case choice.FinishReason == openai.FinishReasonContentFilter:
		finish = "content_filter"
	}

	return engine.LLMResponse{
		Assistant:    assistant,
		ToolCalls:    calls,
		FinishReason: finish,
	}
}

var statusFromErrText = []struct {
	needle string
	status int
}{
	{"429", http.StatusTooManyRequests},
	{"500", http.StatusInternalServerError},
	{"502", http.StatusBadGateway},
	{"503", http.StatusServiceUnavailable},
	{"504", http.StatusGatewayTimeout},
	{"401", http.StatusUnauthorized},
	{"403", http.StatusForbidden},
	{"400", http.StatusBadRequest},
	{"402", http.StatusPaymentRequired},
}

// httpErrorMetadata recovers the HTTP status and any Retry-After value from
// an SDK error string. SDK error types vary across compatible endpoints, so
// this stays text-based.
func httpErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	text := err.Error()

	var status int
	for _, m := range statusFromErrText {
		if strings.Contains(text, m.needle) {
			status = m.status
			break
		}
	}

	var retryAfter string
	lower := strings.ToLower(text)
	for _, marker := range []string{"retry-after", "retry after"} {
		if idx := strings.Index(lower, marker); idx != -1 {
			rest := strings.TrimLeft(text[idx+len(marker):], ": ")
			if fields := strings.Fields(rest); len(fields) > 0 {
				retryAfter = fields[0]
			}
			break
		}
	}
	return status, retryAfter
}

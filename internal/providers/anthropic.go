package providers

import (
	"context"
	"encoding/json"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/ChamsBouzaiene/ponder/internal/engine"
)

// AnthropicClient implements engine.LLMClient against the Anthropic
// Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

func NewAnthropicClient(apiKey, modelName string) (*AnthropicClient, error) {
	return &AnthropicClient{
		client: anthropic.NewClient(apiKey),
		model:  modelName,
	}, nil
}

// Chat implements engine.LLMClient.
func (c *AnthropicClient) Chat(ctx context.Context, modelName string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	system, turns := encodeAnthropicMessages(messages)

	var toolDefs []anthropic.ToolDefinition
	for _, ts := range toolSchemas {
		var schema map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &schema); err != nil {
			return engine.LLMResponse{}, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		toolDefs = append(toolDefs, anthropic.ToolDefinition{
			Name:        ts.Name,
			Description: ts.Description,
			InputSchema: schema,
		})
	}

	maxTokens := 4096
	if opts.MaxOutputTokens > 0 {
		maxTokens = opts.MaxOutputTokens
	}
	temperature := float32(0.1)
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(modelName),
		Messages:    turns,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	if len(system) > 0 {
		req.MultiSystem = system
	}
	if len(toolDefs) > 0 {
		req.Tools = toolDefs
	}

	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		status, retryAfter := httpErrorMetadata(err)
		return engine.LLMResponse{}, engine.WrapLLMError(err, status, retryAfter)
	}
	return decodeAnthropicResponse(resp), nil
}

// encodeAnthropicMessages maps the engine conversation to Messages API turns.
// System turns collect into MultiSystem parts; tool results become user turns
// carrying tool_result blocks and are dropped when the preceding assistant
// turn had no tool_use, since the API rejects orphaned results.
func encodeAnthropicMessages(messages []engine.ChatMessage) ([]anthropic.MessageSystemPart, []anthropic.Message) {
	var system []anthropic.MessageSystemPart
	var turns []anthropic.Message
	pairedToolTurn := false

	for _, msg := range messages {
		switch msg.Role {
		case engine.RoleSystem:
			system = append(system, anthropic.MessageSystemPart{
				Type: "text",
				Text: msg.Content,
			})
			pairedToolTurn = false

		case engine.RoleUser:
			turns = append(turns, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
			pairedToolTurn = false

		case engine.RoleAssistant:
			var content []anthropic.MessageContent
			if msg.Content != "" && msg.Content != " " {
				content = append(content, anthropic.NewTextMessageContent(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Args)
				content = append(content, anthropic.NewToolUseMessageContent(
					tc.ID, tc.Name, json.RawMessage(argsJSON)))
			}
			turns = append(turns, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: content,
			})
			pairedToolTurn = len(msg.ToolCalls) > 0

		case engine.RoleTool:
			if !pairedToolTurn {
				continue
			}
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			// msg.Name carries the tool_use_id this result answers.
			turns = append(turns, anthropic.Message{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewToolResultMessageContent(msg.Name, content, false),
				},
			})
		}
	}
	return system, turns
}

func decodeAnthropicResponse(resp anthropic.MessagesResponse) engine.LLMResponse {
	var text string
	var calls []engine.ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				text += *block.Text
			}
		case "tool_use":
			if block.MessageContentToolUse == nil || block.ID == "" || block.Name == "" {
				continue
			}
			call := engine.ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: make(map[string]any),
			}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &call.Args); err != nil {
					call.Args = make(map[string]any)
					call.Error = fmt.Sprintf("unparsable argument JSON: %v", err)
				}
			}
			calls = append(calls, call)
		}
	}

	finish := "stop"
	switch {
	case len(calls) > 0:
		finish = "tool_calls"
	case resp.StopReason == "max_tokens":
		finish = "length"
	case resp.StopReason == "content_filtered":
		finish = "content_filter"
	}

	return engine.LLMResponse{
		Assistant: engine.ChatMessage{
			Role:      engine.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
		},
		ToolCalls: calls,
		Usage: engine.Usage{
			Prompt:     resp.Usage.InputTokens,
			Completion: resp.Usage.OutputTokens,
			Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: finish,
	}
}

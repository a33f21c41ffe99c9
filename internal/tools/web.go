package tools

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/ChamsBouzaiene/ponder/internal/engine"
)

const webSearchSchema = `{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "A specific factual question, e.g. \"population of Reykjavik 2024\""
		}
	},
	"required": ["query"]
}`

const webSearchPrompt = `You are a research assistant with web access. Answer
the question with the specific datapoint requested, concisely, and cite your
sources. If the datapoint cannot be found, say so explicitly.`

// WebSearchConfig points the web lookup tool at an OpenAI-compatible search
// endpoint (Perplexity by default).
type WebSearchConfig struct {
	APIKey  string
	BaseURL string // default https://api.perplexity.ai
	Model   string // default sonar
}

// WebSearch looks up a single datapoint through a search-grounded chat
// endpoint.
func WebSearch(cfg WebSearchConfig) engine.Tool {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.perplexity.ai"
	}
	if cfg.Model == "" {
		cfg.Model = "sonar"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	client := openai.NewClientWithConfig(clientCfg)

	return engine.Tool{
		Name:        "find_datapoint_on_web",
		Description: "Search the web for a specific factual datapoint. Returns a concise answer with source citations.",
		SchemaJSON:  webSearchSchema,
		Retryable:   true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if strings.TrimSpace(query) == "" {
				return "", fmt.Errorf("query is empty")
			}

			temperature := float32(0.1)
			resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model: cfg.Model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: webSearchPrompt},
					{Role: openai.ChatMessageRoleUser, Content: query},
				},
				Temperature: &temperature,
			})
			if err != nil {
				return "", fmt.Errorf("web search failed: %w", err)
			}
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("web search returned no answer")
			}
			return resp.Choices[0].Message.Content, nil
		},
	}
}

package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ChamsBouzaiene/ponder/internal/engine"
)

const wolframSchema = `{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "A mathematical or scientific query in natural language, e.g. \"integrate x^2 sin(x)\""
		}
	},
	"required": ["query"]
}`

const wolframEndpoint = "https://www.wolframalpha.com/api/v1/llm-api"

// Wolfram queries the Wolfram Alpha LLM API. Register it only when an app id
// is configured.
func Wolfram(appID string) engine.Tool {
	client := &http.Client{}
	return engine.Tool{
		Name:        "wolfram",
		Description: "Query Wolfram Alpha for mathematical, scientific or factual computations. Returns a plain-text result.",
		SchemaJSON:  wolframSchema,
		Retryable:   true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if strings.TrimSpace(query) == "" {
				return "", fmt.Errorf("query is empty")
			}

			params := url.Values{}
			params.Set("input", query)
			params.Set("appid", appID)

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, wolframEndpoint+"?"+params.Encode(), nil)
			if err != nil {
				return "", fmt.Errorf("failed to build request: %w", err)
			}

			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("wolfram request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			if err != nil {
				return "", fmt.Errorf("failed to read wolfram response: %w", err)
			}

			// The LLM API returns useful explanations with non-200 codes too
			// (e.g. suggestions for unparseable input).
			text := strings.TrimSpace(string(body))
			if resp.StatusCode != http.StatusOK && text == "" {
				return "", fmt.Errorf("wolfram returned status %d", resp.StatusCode)
			}
			return text, nil
		},
	}
}

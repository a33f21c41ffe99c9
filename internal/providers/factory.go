package providers

import (
	"fmt"
	"os"

	"github.com/ChamsBouzaiene/ponder/internal/engine"
)

// NewLLMClientFromEnv creates an engine.LLMClient based on environment
// variables. LLM_PROVIDER selects the backend; each provider reads its own
// key, model and base URL variables.
func NewLLMClientFromEnv() (engine.LLMClient, string, error) {
	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = "openai"
	}
	return NewLLMClient(provider, "", "", "")
}

// NewLLMClient creates a client for a named provider. Empty apiKey, model or
// baseURL fall back to the provider's environment variables and defaults.
// Everything except "anthropic" speaks the OpenAI-compatible protocol.
func NewLLMClient(provider, apiKey, model, baseURL string) (engine.LLMClient, string, error) {
	switch provider {
	case "openai":
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("OPENAI_API_KEY not set")
		}
		if model == "" {
			model = os.Getenv("OPENAI_MODEL")
		}
		if model == "" {
			model = "gpt-4o-mini"
		}
		if baseURL == "" {
			baseURL = os.Getenv("OPENAI_BASE_URL")
		}
		client, err := NewOpenAIClient(apiKey, model, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		return client, model, nil

	case "anthropic":
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		if model == "" {
			model = os.Getenv("ANTHROPIC_MODEL")
		}
		if model == "" {
			model = "claude-3-5-sonnet-20241022"
		}
		client, err := NewAnthropicClient(apiKey, model)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		return client, model, nil

	case "openrouter":
		if apiKey == "" {
			apiKey = os.Getenv("OPENROUTER_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("OPENROUTER_API_KEY not set")
		}
		if model == "" {
			model = os.Getenv("OPENROUTER_MODEL")
		}
		if model == "" {
			model = "openai/gpt-4o-mini"
		}
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		client, err := NewOpenAIClient(apiKey, model, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create OpenRouter client: %w", err)
		}
		return client, model, nil

	case "deepseek":
		if apiKey == "" {
			apiKey = os.Getenv("DEEPSEEK_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("DEEPSEEK_API_KEY not set")
		}
		if model == "" {
			model = os.Getenv("DEEPSEEK_MODEL")
		}
		if model == "" {
			model = "deepseek-chat"
		}
		if baseURL == "" {
			baseURL = "https://api.deepseek.com/v1"
		}
		client, err := NewOpenAIClient(apiKey, model, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create DeepSeek client: %w", err)
		}
		return client, model, nil

	case "groq":
		if apiKey == "" {
			apiKey = os.Getenv("GROQ_API_KEY")
		}
		if apiKey == "" {
			return nil, "", fmt.Errorf("GROQ_API_KEY not set")
		}
		if model == "" {
			model = os.Getenv("GROQ_MODEL")
		}
		if model == "" {
			model = "llama-3.1-70b-versatile"
		}
		if baseURL == "" {
			baseURL = "https://api.groq.com/openai/v1"
		}
		client, err := NewOpenAIClient(apiKey, model, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Groq client: %w", err)
		}
		return client, model, nil

	case "ollama":
		if baseURL == "" {
			baseURL = os.Getenv("OLLAMA_BASE_URL")
		}
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		if model == "" {
			model = os.Getenv("OLLAMA_MODEL")
		}
		if model == "" {
			model = "llama3.1"
		}
		if apiKey == "" {
			apiKey = "ollama"
		}
		client, err := NewOpenAIClient(apiKey, model, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return client, model, nil

	default:
		return nil, "", fmt.Errorf("unknown provider: %s (supported: openai, anthropic, openrouter, deepseek, groq, ollama)", provider)
	}
}

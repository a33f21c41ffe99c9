package main

import (
	"context"
	"log"
	"os"

	"github.com/ChamsBouzaiene/ponder/internal/chainstore"
	"github.com/ChamsBouzaiene/ponder/internal/config"
	"github.com/ChamsBouzaiene/ponder/internal/engine"
	"github.com/ChamsBouzaiene/ponder/internal/ensemble"
	"github.com/ChamsBouzaiene/ponder/internal/providers"
	"github.com/ChamsBouzaiene/ponder/internal/sandbox"
	"github.com/ChamsBouzaiene/ponder/internal/tools"
)

// runtimeEnv bundles everything a session run needs, built once per
// invocation.
type runtimeEnv struct {
	LLM      engine.LLMClient
	Model    string
	Registry engine.ToolRegistry
	Sandbox  *sandbox.Manager
	Store    *chainstore.Store
	Planner  *chainstore.Planner
}

// prepareRuntimeEnv builds the provider client, sandbox, tool registry and
// chain store from environment variables layered over the persisted config
// file. Memory is optional: a store that fails to open just logs and drops
// out.
func prepareRuntimeEnv(ctx context.Context, provider string, memory bool) (*runtimeEnv, error) {
	cfg := loadUserConfig()

	if provider == "" {
		provider = os.Getenv("LLM_PROVIDER")
	}
	if provider == "" {
		provider = cfg.LLMProvider
	}
	if provider == "" {
		provider = "openai"
	}

	llm, model, err := providers.NewLLMClient(provider, cfg.APIKey, cfg.Model, cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	env := &runtimeEnv{LLM: llm, Model: model}

	backend, err := sandbox.NewBackend(sandboxConfig(cfg))
	if err != nil {
		log.Printf("WARNING: sandbox unavailable, run_code disabled: %v", err)
	} else {
		env.Sandbox = sandbox.NewManager(backend)
	}

	if memory {
		env.Store = openChainStore(ctx, cfg)
		if env.Store != nil {
			env.Planner = &chainstore.Planner{LLM: llm, Model: model, Store: env.Store}
		}
	}

	toolOpts := tools.Options{
		Sandbox:      env.Sandbox,
		WolframAppID: firstNonEmpty(os.Getenv("WOLFRAM_APP_ID"), cfg.WolframAppID),
	}
	if key := firstNonEmpty(os.Getenv("WEB_SEARCH_API_KEY"), cfg.WebSearchKey); key != "" {
		toolOpts.Web = &tools.WebSearchConfig{
			APIKey:  key,
			BaseURL: os.Getenv("WEB_SEARCH_BASE_URL"),
			Model:   os.Getenv("WEB_SEARCH_MODEL"),
		}
	}
	env.Registry = tools.NewRegistry(toolOpts)

	return env, nil
}

func loadUserConfig() *config.Config {
	mgr, err := config.NewManager()
	if err != nil {
		return &config.Config{}
	}
	cfg, err := mgr.Load()
	if err != nil {
		log.Printf("WARNING: failed to load config file: %v", err)
		return &config.Config{}
	}
	if cfg.MemoryPath == "" {
		cfg.MemoryPath = mgr.DefaultMemoryPath()
	}
	return cfg
}

func sandboxConfig(cfg *config.Config) sandbox.Config {
	sc := sandbox.DefaultConfig()
	if os.Getenv("PONDER_SANDBOX_MODE") == "" && cfg.SandboxMode != "" {
		sc.Mode = sandbox.Mode(cfg.SandboxMode)
	}
	return sc
}

func openChainStore(ctx context.Context, cfg *config.Config) *chainstore.Store {
	path := firstNonEmpty(os.Getenv("PONDER_MEMORY_PATH"), cfg.MemoryPath)
	if path == "" {
		return nil
	}

	var embedder chainstore.Embedder
	embeddingKey := firstNonEmpty(cfg.EmbeddingKey, os.Getenv("OPENAI_API_KEY"))
	if embeddingKey != "" {
		embedder = chainstore.NewOpenAIEmbedder(embeddingKey, os.Getenv("EMBEDDING_MODEL"), "")
	}

	store, err := chainstore.Open(ctx, path, embedder)
	if err != nil {
		log.Printf("WARNING: chain memory unavailable: %v", err)
		return nil
	}
	if err := store.Watch(); err != nil {
		log.Printf("WARNING: chain store watcher failed to start: %v", err)
	}
	return store
}

// clientFactory adapts the provider factory for ensemble agents.
func clientFactory(cfg ensemble.AgentConfig) (engine.LLMClient, string, error) {
	return providers.NewLLMClient(cfg.Provider, cfg.APIKey, cfg.Model, cfg.BaseURL)
}

func (e *runtimeEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
	if e.Sandbox != nil {
		_ = e.Sandbox.Close()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

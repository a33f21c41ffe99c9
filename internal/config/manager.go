package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the user's persistent configuration preferences.
type Config struct {
	LLMProvider  string `json:"llm_provider,omitempty"`  // openai, anthropic, openrouter, etc.
	APIKey       string `json:"api_key,omitempty"`       // The API key for the selected provider
	Model        string `json:"model,omitempty"`         // Default model name
	BaseURL      string `json:"base_url,omitempty"`      // Optional override for API base URL
	EmbeddingKey string `json:"embedding_key,omitempty"` // Optional separate key for chain embeddings
	MemoryPath   string `json:"memory_path,omitempty"`   // Chain store database path
	WolframAppID string `json:"wolfram_app_id,omitempty"`
	WebSearchKey string `json:"web_search_key,omitempty"` // Key for the web lookup tool
	SandboxMode  string `json:"sandbox_mode,omitempty"`   // yaegi or docker
}

// Manager handles loading and saving the configuration.
type Manager struct {
	configDir string
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}

	return &Manager{
		configDir: filepath.Join(configDir, "ponder"),
	}, nil
}

// GetConfigPath returns the absolute path to the config.json file.
func (m *Manager) GetConfigPath() string {
	return filepath.Join(m.configDir, "config.json")
}

// DefaultMemoryPath returns where the chain store lives when the config does
// not override it.
func (m *Manager) DefaultMemoryPath() string {
	return filepath.Join(m.configDir, "chains.db")
}

// Load reads the configuration from disk.
// If the file does not exist, it returns an empty Config and no error.
func (m *Manager) Load() (*Config, error) {
	path := m.GetConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config json: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to disk with restricted permissions (0600).
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := m.GetConfigPath()
	// API keys live here; keep the file owner-only.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetConfigPath())
	return !os.IsNotExist(err)
}

// Package config loads gptsh configuration from YAML files and
// GPTSH_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/gptsh/gptsh/internal/session"
	"github.com/gptsh/gptsh/internal/tools"
)

type Config struct {
	Provider   string           `mapstructure:"provider"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	Ollama     OllamaConfig     `mapstructure:"ollama"`
	LMStudio   LMStudioConfig   `mapstructure:"lmstudio"`
	Compat     CompatConfig     `mapstructure:"openai-compat"`
	Approval   tools.Policy     `mapstructure:"approval"`
	Session    session.Config   `mapstructure:"session"`
	Turn       TurnConfig       `mapstructure:"turn"`
	Output     OutputConfig     `mapstructure:"output"`
}

type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type OpenRouterConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	AppURL   string `mapstructure:"app_url"`
	AppTitle string `mapstructure:"app_title"`
}

// OllamaConfig configures the Ollama provider (OpenAI-compatible)
type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url"` // Default: http://localhost:11434/v1
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"` // Optional, Ollama ignores it
}

// LMStudioConfig configures the LM Studio provider (OpenAI-compatible)
type LMStudioConfig struct {
	BaseURL string `mapstructure:"base_url"` // Default: http://localhost:1234/v1
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"` // Optional, LM Studio ignores it
}

// CompatConfig configures a generic OpenAI-compatible server
type CompatConfig struct {
	BaseURL string `mapstructure:"base_url"` // Required - no default
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"` // Optional
}

// TurnConfig tunes the round loop.
type TurnConfig struct {
	MaxRounds          int `mapstructure:"max_rounds"`
	MaxParallelTools   int `mapstructure:"max_parallel_tools"`
	ToolTimeoutSeconds int `mapstructure:"tool_timeout_seconds"`
}

// OutputConfig controls how assistant text is printed.
type OutputConfig struct {
	Markdown bool `mapstructure:"markdown"` // Render markdown when stdout is a TTY
}

// Load reads config.yaml from the config dir and the working
// directory, then applies GPTSH_* environment overrides.
func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}
	return load(configPath)
}

// LoadFromDir reads configuration from a specific directory.
func LoadFromDir(dir string) (*Config, error) {
	return load(dir)
}

func load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	v.SetEnvPrefix("GPTSH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("provider", "openai")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("openrouter.model", "x-ai/grok-code-fast-1")
	v.SetDefault("openrouter.app_url", "https://github.com/gptsh/gptsh")
	v.SetDefault("openrouter.app_title", "gptsh")
	v.SetDefault("ollama.base_url", "http://localhost:11434/v1")
	v.SetDefault("lmstudio.base_url", "http://localhost:1234/v1")
	// openai-compat has no base_url default - it's required
	v.SetDefault("approval.allow", []string{"time.*", "shell.get_history", "shell.search_history", "clipboard.*"})
	v.SetDefault("session.enabled", true)
	v.SetDefault("turn.max_rounds", 8)
	v.SetDefault("turn.max_parallel_tools", 4)
	v.SetDefault("turn.tool_timeout_seconds", 60)
	v.SetDefault("output.markdown", true)

	// Read config file (optional - won't error if missing)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ApplyOverrides applies provider and model overrides to the config.
// If provider is non-empty, it overrides the global provider.
// If model is non-empty, it overrides the model for the active provider.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" {
		switch c.Provider {
		case "openai":
			c.OpenAI.Model = model
		case "anthropic":
			c.Anthropic.Model = model
		case "openrouter":
			c.OpenRouter.Model = model
		case "ollama":
			c.Ollama.Model = model
		case "lmstudio":
			c.LMStudio.Model = model
		case "openai-compat":
			c.Compat.Model = model
		}
	}
}

// ModelFor returns the configured model for the given provider name.
func (c *Config) ModelFor(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAI.Model
	case "anthropic":
		return c.Anthropic.Model
	case "openrouter":
		return c.OpenRouter.Model
	case "ollama":
		return c.Ollama.Model
	case "lmstudio":
		return c.LMStudio.Model
	case "openai-compat":
		return c.Compat.Model
	}
	return ""
}

// GetConfigDir returns the XDG config directory for gptsh.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "gptsh"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "gptsh"), nil
}

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/gptsh/gptsh/internal/config"
	"github.com/gptsh/gptsh/internal/llm"
)

// parseProviderModel parses "provider:model" or just "provider" from a
// flag value. Model is empty if not specified.
func parseProviderModel(s string) (provider, model string, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return "", "", fmt.Errorf("invalid provider format: %q", s)
	}
	provider = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		model = strings.TrimSpace(parts[1])
	}
	return provider, model, nil
}

// newProvider creates an LLM provider from the config. An empty name
// selects the configured default provider.
func newProvider(cfg *config.Config, name string) (llm.Provider, error) {
	if name == "" {
		name = cfg.Provider
	}

	switch name {
	case "openai":
		apiKey := cfg.OpenAI.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai requires an api_key in config or OPENAI_API_KEY")
		}
		return llm.NewOpenAIProvider(apiKey, cfg.OpenAI.Model), nil

	case "anthropic":
		return llm.NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model)

	case "openrouter":
		apiKey := cfg.OpenRouter.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENROUTER_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openrouter requires an api_key in config or OPENROUTER_API_KEY")
		}
		headers := map[string]string{
			"HTTP-Referer": cfg.OpenRouter.AppURL,
			"X-Title":      cfg.OpenRouter.AppTitle,
		}
		return llm.NewCompatProviderWithHeaders("https://openrouter.ai/api/v1", apiKey, cfg.OpenRouter.Model, "OpenRouter", headers), nil

	case "ollama":
		return llm.NewCompatProvider(cfg.Ollama.BaseURL, cfg.Ollama.APIKey, cfg.Ollama.Model, "Ollama"), nil

	case "lmstudio":
		return llm.NewCompatProvider(cfg.LMStudio.BaseURL, cfg.LMStudio.APIKey, cfg.LMStudio.Model, "LM Studio"), nil

	case "openai-compat":
		if cfg.Compat.BaseURL == "" {
			return nil, fmt.Errorf("openai-compat requires a base_url in config")
		}
		return llm.NewCompatProvider(cfg.Compat.BaseURL, cfg.Compat.APIKey, cfg.Compat.Model, "OpenAI-compatible"), nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}

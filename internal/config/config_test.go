package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFromDir(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}

	if cfg.Provider != "openai" {
		t.Errorf("provider = %q", cfg.Provider)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("ollama base_url = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Turn.MaxRounds != 8 || cfg.Turn.MaxParallelTools != 4 || cfg.Turn.ToolTimeoutSeconds != 60 {
		t.Errorf("turn defaults = %+v", cfg.Turn)
	}
	if !cfg.Session.Enabled {
		t.Error("sessions should default to enabled")
	}
	if !cfg.Output.Markdown {
		t.Error("markdown output should default to enabled")
	}
	if len(cfg.Approval.Allow) == 0 {
		t.Error("default approval allowlist should not be empty")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	content := `
provider: anthropic
anthropic:
  api_key: sk-test
  model: claude-sonnet-4-5
approval:
  allow:
    - "time.*"
  deny:
    - "shell.execute"
turn:
  max_rounds: 3
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}
	if cfg.Provider != "anthropic" {
		t.Errorf("provider = %q", cfg.Provider)
	}
	if cfg.Anthropic.APIKey != "sk-test" {
		t.Errorf("api_key = %q", cfg.Anthropic.APIKey)
	}
	if cfg.Turn.MaxRounds != 3 {
		t.Errorf("max_rounds = %d", cfg.Turn.MaxRounds)
	}
	if len(cfg.Approval.Deny) != 1 || cfg.Approval.Deny[0] != "shell.execute" {
		t.Errorf("deny = %v", cfg.Approval.Deny)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("GPTSH_PROVIDER", "ollama")
	t.Setenv("GPTSH_OLLAMA_MODEL", "llama3.2")

	cfg, err := LoadFromDir(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}
	if cfg.Provider != "ollama" {
		t.Errorf("provider = %q, want env override", cfg.Provider)
	}
	if cfg.Ollama.Model != "llama3.2" {
		t.Errorf("ollama model = %q", cfg.Ollama.Model)
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg, err := LoadFromDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	cfg.ApplyOverrides("anthropic", "claude-opus-4-5")
	if cfg.Provider != "anthropic" {
		t.Errorf("provider = %q", cfg.Provider)
	}
	if cfg.Anthropic.Model != "claude-opus-4-5" {
		t.Errorf("model = %q", cfg.Anthropic.Model)
	}
	if got := cfg.ModelFor("anthropic"); got != "claude-opus-4-5" {
		t.Errorf("ModelFor = %q", got)
	}
}

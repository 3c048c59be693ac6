package mcp

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("GPTSH_TEST_TOKEN", "sekrit")

	cases := []struct {
		in   string
		want string
	}{
		{"${GPTSH_TEST_TOKEN}", "sekrit"},
		{"${env:GPTSH_TEST_TOKEN}", "sekrit"},
		{"Bearer ${env:GPTSH_TEST_TOKEN}", "Bearer sekrit"},
		{"${GPTSH_TEST_UNSET_VAR}", ""},
		{"no refs here", "no refs here"},
	}
	for _, c := range cases {
		if got := ExpandEnv(c.in); got != c.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTransportType(t *testing.T) {
	stdio := ServerConfig{Command: "uvx", Args: []string{"mcp-server-time"}}
	if stdio.TransportType() != "stdio" {
		t.Errorf("expected stdio, got %s", stdio.TransportType())
	}

	http := ServerConfig{URL: "https://example.com/mcp"}
	if http.TransportType() != "http" {
		t.Errorf("expected http, got %s", http.TransportType())
	}
}

func TestValidate(t *testing.T) {
	valid := ServerConfig{Command: "uvx"}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid stdio config rejected: %v", err)
	}

	both := ServerConfig{Command: "uvx", URL: "https://example.com"}
	if err := both.Validate(); err == nil {
		t.Error("config with both command and url should be rejected")
	}

	neither := ServerConfig{}
	if err := neither.Validate(); err == nil {
		t.Error("config with neither command nor url should be rejected")
	}

	httpNoURL := ServerConfig{Type: "http"}
	if err := httpNoURL.Validate(); err == nil {
		t.Error("http config without url should be rejected")
	}
}

func TestLoadConfigFromPath(t *testing.T) {
	t.Setenv("GPTSH_TEST_KEY", "abc123")

	dir := t.TempDir()
	path := filepath.Join(dir, "mcp.json")
	content := `{
  "mcpServers": {
    "github": {
      "type": "http",
      "url": "https://api.example.com/mcp",
      "headers": {"Authorization": "Bearer ${env:GPTSH_TEST_KEY}"}
    },
    "files": {
      "command": "npx",
      "args": ["-y", "some-server"],
      "env": {"TOKEN": "${GPTSH_TEST_KEY}"}
    }
  }
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromPath(path)
	if err != nil {
		t.Fatalf("LoadConfigFromPath: %v", err)
	}
	if len(cfg.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(cfg.Servers))
	}
	if got := cfg.Servers["github"].Headers["Authorization"]; got != "Bearer abc123" {
		t.Errorf("header not expanded: %q", got)
	}
	if got := cfg.Servers["files"].Env["TOKEN"]; got != "abc123" {
		t.Errorf("env not expanded: %q", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfigFromPath(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(cfg.Servers) != 0 {
		t.Errorf("expected empty config, got %d servers", len(cfg.Servers))
	}
}

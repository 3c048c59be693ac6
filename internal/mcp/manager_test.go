package mcp

import (
	"context"
	"strings"
	"testing"
)

func TestManagerToolsQualified(t *testing.T) {
	m := NewManager(&Config{Servers: map[string]ServerConfig{}})

	tools := m.Tools()
	if len(tools) == 0 {
		t.Fatal("builtin tools should be advertised")
	}

	names := make(map[string]bool)
	for _, tool := range tools {
		if !strings.Contains(tool.Name, ".") {
			t.Errorf("tool name %q is not server-qualified", tool.Name)
		}
		names[tool.Name] = true
	}

	for _, want := range []string{"time.now", "shell.execute", "shell.get_history", "shell.search_history", "clipboard.read", "clipboard.write"} {
		if !names[want] {
			t.Errorf("missing builtin tool %s", want)
		}
	}
}

func TestManagerToolsStableOrder(t *testing.T) {
	m := NewManager(&Config{})
	first := m.Tools()
	second := m.Tools()
	if len(first) != len(second) {
		t.Fatal("tool list length changed between calls")
	}
	for i := range first {
		if first[i].Name != second[i].Name {
			t.Fatalf("tool order unstable at %d: %s vs %s", i, first[i].Name, second[i].Name)
		}
	}
}

func TestManagerCallBuiltin(t *testing.T) {
	m := NewManager(&Config{})

	out, err := m.Call(context.Background(), "time", "now", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out == "" {
		t.Error("expected a timestamp")
	}
}

func TestManagerCallUnknownServer(t *testing.T) {
	m := NewManager(&Config{})

	if _, err := m.Call(context.Background(), "ghost", "anything", nil); err == nil {
		t.Error("expected error for unknown server")
	}
}

func TestManagerEnableUnknownServer(t *testing.T) {
	m := NewManager(&Config{Servers: map[string]ServerConfig{}})
	if err := m.Enable(context.Background(), "ghost"); err == nil {
		t.Error("expected error for unconfigured server")
	}
}

func TestManagerDisableSendsStatus(t *testing.T) {
	m := NewManager(&Config{Servers: map[string]ServerConfig{}})
	ch := make(chan StatusUpdate, 1)
	m.SetStatusChannel(ch)

	if err := m.Disable("backend"); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	select {
	case update := <-ch:
		if update.Name != "backend" || update.Status != StatusStopped {
			t.Errorf("update = %+v", update)
		}
	default:
		t.Fatal("no status update delivered")
	}
}

func TestManagerStatusOfBuiltin(t *testing.T) {
	m := NewManager(&Config{})
	status, err := m.ServerStatusOf("time")
	if err != nil {
		t.Fatalf("ServerStatusOf: %v", err)
	}
	if status != StatusReady {
		t.Errorf("builtin status = %s, want ready", status)
	}
}

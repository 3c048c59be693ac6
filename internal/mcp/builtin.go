package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gptsh/gptsh/internal/llm"
)

// BuiltinServer is an in-process tool server. Builtins go through the
// same approval gate as external MCP servers.
type BuiltinServer interface {
	Name() string
	Tools() []llm.ToolSpec
	Call(ctx context.Context, tool string, args json.RawMessage) (string, error)
}

// Builtins returns the in-process servers registered by default.
func Builtins() []BuiltinServer {
	return []BuiltinServer{
		&timeServer{},
		&shellServer{},
		&clipboardServer{},
	}
}

// timeServer exposes the current time. Kept tool-shaped so the model
// can answer "what time is it" without a shell round trip.
type timeServer struct{}

func (s *timeServer) Name() string { return "time" }

func (s *timeServer) Tools() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        "now",
			Description: "Return the current UTC time in ISO 8601 format (UTC).",
			Schema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
		},
	}
}

func (s *timeServer) Call(ctx context.Context, tool string, args json.RawMessage) (string, error) {
	switch tool {
	case "now":
		return time.Now().UTC().Format("2006-01-02T15:04:05.999999Z"), nil
	default:
		return "", fmt.Errorf("unknown tool: time.%s", tool)
	}
}

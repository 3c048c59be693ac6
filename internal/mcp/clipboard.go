package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"golang.org/x/term"

	"github.com/gptsh/gptsh/internal/llm"
)

// clipboardServer exposes the system clipboard as tools. Writes can go
// through an OSC52 escape sequence so the clipboard works over SSH;
// reads never use OSC52 (terminals reject clipboard reads via escape
// sequences).
type clipboardServer struct{}

func (s *clipboardServer) Name() string { return "clipboard" }

func (s *clipboardServer) Tools() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        "read",
			Description: "Read text content from the system clipboard (pbpaste on macOS, wl-paste or xclip on Linux).",
			Schema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
		},
		{
			Name:        "write",
			Description: "Write text content to the system clipboard. Falls back to the OSC52 terminal escape sequence in SSH sessions.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "Text content to write to the clipboard",
					},
				},
				"required":             []string{"text"},
				"additionalProperties": false,
			},
		},
	}
}

func (s *clipboardServer) Call(ctx context.Context, tool string, args json.RawMessage) (string, error) {
	switch tool {
	case "read":
		return s.read(ctx), nil
	case "write":
		return s.write(ctx, args), nil
	default:
		return "", fmt.Errorf("unknown tool: clipboard.%s", tool)
	}
}

func (s *clipboardServer) read(ctx context.Context) string {
	content, err := readSystemClipboard(ctx)
	if err != nil {
		return clipErr(err)
	}
	return clipJSON(map[string]any{"ok": true, "content": content})
}

func (s *clipboardServer) write(ctx context.Context, args json.RawMessage) string {
	var req struct {
		Text *string `json:"text"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &req); err != nil {
			return clipErr(fmt.Errorf("invalid arguments: %w", err))
		}
	}
	if req.Text == nil {
		return clipErr(fmt.Errorf("'text' argument must be a string"))
	}

	// In SSH sessions the native clipboard belongs to the remote host;
	// OSC52 reaches the local terminal. Try both, report what worked.
	method := ""
	if isSSHSession() {
		if writeOSC52(*req.Text) == nil {
			method = "osc52"
		}
		if writeSystemClipboard(ctx, *req.Text) == nil {
			if method == "osc52" {
				method = "both"
			} else {
				method = "native"
			}
		}
		if method == "" {
			return clipErr(fmt.Errorf("no clipboard write method available"))
		}
		return clipJSON(map[string]any{"ok": true, "method": method})
	}

	if err := writeSystemClipboard(ctx, *req.Text); err != nil {
		return clipErr(err)
	}
	return clipJSON(map[string]any{"ok": true, "method": "native"})
}

func isSSHSession() bool {
	return os.Getenv("SSH_CONNECTION") != "" ||
		os.Getenv("SSH_CLIENT") != "" ||
		os.Getenv("SSH_TTY") != ""
}

// osc52Sequence builds the escape sequence that asks the terminal to
// set its clipboard: ESC ] 52 ; c ; <base64> BEL.
func osc52Sequence(text string) string {
	return "\x1b]52;c;" + base64.StdEncoding.EncodeToString([]byte(text)) + "\a"
}

func writeOSC52(text string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("stdout is not a terminal")
	}
	_, err := os.Stdout.WriteString(osc52Sequence(text))
	return err
}

func readSystemClipboard(ctx context.Context) (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return runClipboardRead(ctx, "pbpaste")
	case "linux":
		if _, err := exec.LookPath("wl-paste"); err == nil {
			if out, err := runClipboardRead(ctx, "wl-paste", "--no-newline"); err == nil {
				return out, nil
			}
		}
		if _, err := exec.LookPath("xclip"); err == nil {
			return runClipboardRead(ctx, "xclip", "-selection", "clipboard", "-o")
		}
		return "", fmt.Errorf("no clipboard utility found (install wl-paste or xclip)")
	default:
		return "", fmt.Errorf("clipboard not supported on %s", runtime.GOOS)
	}
}

func writeSystemClipboard(ctx context.Context, text string) error {
	switch runtime.GOOS {
	case "darwin":
		return runClipboardWrite(ctx, text, "pbcopy")
	case "linux":
		if _, err := exec.LookPath("wl-copy"); err == nil {
			if err := runClipboardWrite(ctx, text, "wl-copy"); err == nil {
				return nil
			}
		}
		if _, err := exec.LookPath("xclip"); err == nil {
			return runClipboardWrite(ctx, text, "xclip", "-selection", "clipboard")
		}
		return fmt.Errorf("no clipboard utility found (install wl-copy or xclip)")
	default:
		return fmt.Errorf("clipboard not supported on %s", runtime.GOOS)
	}
}

func runClipboardRead(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return out.String(), nil
}

func runClipboardWrite(ctx context.Context, text, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader([]byte(text))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

func clipJSON(v map[string]any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"ok":false,"error":"internal encoding error"}`
	}
	return string(data)
}

func clipErr(err error) string {
	return clipJSON(map[string]any{"ok": false, "error": err.Error()})
}

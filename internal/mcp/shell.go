package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gptsh/gptsh/internal/llm"
)

// shellServer runs commands through /bin/sh and reads shell history.
// The history tools are safe to auto-approve; execute is not.
type shellServer struct{}

func (s *shellServer) Name() string { return "shell" }

func (s *shellServer) Tools() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        "execute",
			Description: "Execute a shell command and return JSON with exit code, stdout, and stderr.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "Command string to execute using /bin/sh -c",
					},
					"cwd": map[string]any{
						"type":        "string",
						"description": "Working directory for the command (optional)",
					},
					"timeout": map[string]any{
						"type":        "number",
						"description": "Timeout in seconds (optional). If exceeded, process is killed and exit_code is -1.",
					},
					"env": map[string]any{
						"type":                 "object",
						"description":          "Environment variable overrides (string-to-string map).",
						"additionalProperties": true,
					},
				},
				"required":             []string{"command"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "get_history",
			Description: "Return the last n shell commands from the history file specified by $HISTFILE. Fails with error if $HISTFILE is not set or file is unreadable.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"n": map[string]any{
						"type":        "integer",
						"description": "Number of last history entries.",
						"default":     20,
						"minimum":     1,
						"maximum":     100,
					},
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        "search_history",
			Description: "Search for commands in shell history matching a regex or substring. Reads $HISTFILE. Fails with error if $HISTFILE is not set or file is unreadable.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pattern": map[string]any{
						"type":        "string",
						"description": "Regex or substring to match against history.",
					},
					"max_results": map[string]any{
						"type":        "integer",
						"description": "Return this many last matches.",
						"default":     20,
						"minimum":     1,
						"maximum":     100,
					},
				},
				"required":             []string{"pattern"},
				"additionalProperties": false,
			},
		},
	}
}

func (s *shellServer) Call(ctx context.Context, tool string, args json.RawMessage) (string, error) {
	switch tool {
	case "execute":
		return s.execute(ctx, args)
	case "get_history":
		return s.getHistory(args)
	case "search_history":
		return s.searchHistory(args)
	default:
		return "", fmt.Errorf("unknown tool: shell.%s", tool)
	}
}

type executeArgs struct {
	Command string            `json:"command"`
	Cwd     string            `json:"cwd"`
	Timeout float64           `json:"timeout"`
	Env     map[string]string `json:"env"`
}

type executeResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

func (s *shellServer) execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in executeArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(in.Command) == "" {
		return "", errors.New("field 'command' (string) is required")
	}

	runCtx := ctx
	timedOut := false
	if in.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(in.Timeout*float64(time.Second)))
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", in.Command)
	if in.Cwd != "" {
		cmd.Dir = in.Cwd
	}
	if len(in.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range in.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		timedOut = true
	}

	result := executeResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	switch {
	case timedOut:
		result.ExitCode = -1
		if result.Stderr != "" {
			result.Stderr += "\n[Timed out]"
		} else {
			result.Stderr = "[Timed out]"
		}
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			result.Stderr = fmt.Sprintf("[Execution error] %v", err)
		}
	default:
		result.ExitCode = 0
	}

	data, merr := json.Marshal(result)
	if merr != nil {
		return "", merr
	}
	return string(data), nil
}

type historyEntry struct {
	Command   string `json:"command"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (s *shellServer) getHistory(args json.RawMessage) (string, error) {
	n := 20
	if len(args) > 0 {
		var in struct {
			N *int `json:"n"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if in.N != nil {
			n = *in.N
		}
	}
	if n < 1 || n > 100 {
		return histErr("Argument 'n' must be integer 1..100.")
	}

	history, err := readHistory()
	if err != nil {
		return histErr(err.Error())
	}
	if len(history) > n {
		history = history[:n]
	}
	return histOK(map[string]any{"history": history})
}

func (s *shellServer) searchHistory(args json.RawMessage) (string, error) {
	var in struct {
		Pattern    string `json:"pattern"`
		MaxResults *int   `json:"max_results"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Pattern == "" {
		return histErr("Argument 'pattern' must be a non-empty string.")
	}
	maxResults := 20
	if in.MaxResults != nil {
		maxResults = *in.MaxResults
	}
	if maxResults < 1 || maxResults > 100 {
		return histErr("Argument 'max_results' must be integer 1..100.")
	}

	history, err := readHistory()
	if err != nil {
		return histErr(err.Error())
	}

	var results []historyEntry
	if re, reErr := regexp.Compile(in.Pattern); reErr == nil {
		for _, entry := range history {
			if re.MatchString(entry.Command) {
				results = append(results, entry)
			}
		}
	} else {
		// Invalid regex falls back to substring search.
		for _, entry := range history {
			if strings.Contains(entry.Command, in.Pattern) {
				results = append(results, entry)
			}
		}
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	if results == nil {
		results = []historyEntry{}
	}
	return histOK(map[string]any{"results": results})
}

func histOK(fields map[string]any) (string, error) {
	payload := map[string]any{"ok": true}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	return string(data), err
}

func histErr(msg string) (string, error) {
	data, err := json.Marshal(map[string]any{"ok": false, "error": msg})
	return string(data), err
}

// findHistFile checks $HISTFILE then the common shell history paths.
func findHistFile() (string, error) {
	var candidates []string
	if hf := os.Getenv("HISTFILE"); hf != "" {
		candidates = append(candidates, hf)
	}
	candidates = append(candidates, "~/.zhistory", "~/.zsh_history", "~/.bash_history")

	for _, candidate := range candidates {
		resolved := expandHome(candidate)
		if info, err := os.Stat(resolved); err == nil && info.Mode().IsRegular() {
			return resolved, nil
		}
	}
	return "", errors.New("No shell history file found; checked $HISTFILE and common paths.")
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// readHistory parses the history file newest first. Extended zsh
// entries look like ": 1678997800:0;command".
func readHistory() ([]historyEntry, error) {
	path, err := findHistFile()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")
	entries := make([]historyEntry, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if entry, ok := parseHistoryLine(line); ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func parseHistoryLine(line string) (historyEntry, bool) {
	if strings.HasPrefix(line, ": ") && strings.Contains(line, ";") {
		meta, command, _ := strings.Cut(line, ";")
		entry := historyEntry{Command: strings.TrimSpace(command)}
		fields := strings.Split(meta, ":")
		if len(fields) > 1 {
			if ts, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64); err == nil {
				entry.Timestamp = time.Unix(ts, 0).Format(time.RFC3339)
			}
		}
		return entry, true
	}
	command := strings.TrimSpace(line)
	if command == "" {
		return historyEntry{}, false
	}
	return historyEntry{Command: command}, true
}

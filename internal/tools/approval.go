// Package tools implements the approval gate that stands between the
// model's tool call requests and their execution.
package tools

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// sessionCache remembers "always" grants for the lifetime of one
// process. Keys are qualified "server.tool" names.
type sessionCache struct {
	mu      sync.RWMutex
	granted map[string]bool
}

func newSessionCache() *sessionCache {
	return &sessionCache{granted: make(map[string]bool)}
}

func (c *sessionCache) Get(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.granted[name]
}

func (c *sessionCache) Set(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.granted[name] = true
}

// ApprovalManager decides whether tool calls may execute. Decision
// order: yolo mode, deny patterns, allow patterns, session grants,
// interactive prompt. Without a TTY the manager fails closed.
type ApprovalManager struct {
	allow   *patternSet
	deny    *patternSet
	session *sessionCache

	// promptMu serializes interactive prompts. Parallel tool calls may
	// all need approval at once; only one question is shown at a time.
	promptMu sync.Mutex

	// YoloMode auto-approves everything without prompting. Intended for
	// CI and containers where no interactive approval is possible.
	YoloMode bool

	// Prompt input and output, overridable for tests. Defaults to
	// stdin/stderr.
	in  io.Reader
	out io.Writer

	isTerminal func() bool
}

// NewApprovalManager compiles the policy patterns. Invalid globs are
// rejected up front so a typo cannot silently widen access.
func NewApprovalManager(policy Policy) (*ApprovalManager, error) {
	allow, err := compilePatterns(policy.Allow)
	if err != nil {
		return nil, err
	}
	deny, err := compilePatterns(policy.Deny)
	if err != nil {
		return nil, err
	}
	m := &ApprovalManager{
		allow:    allow,
		deny:     deny,
		session:  newSessionCache(),
		YoloMode: policy.AutoApprove,
		in:       os.Stdin,
		out:      os.Stderr,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}
	return m, nil
}

// SetYoloMode enables or disables yolo mode and prints a warning when
// enabled on a terminal.
func (m *ApprovalManager) SetYoloMode(enabled bool) {
	m.YoloMode = enabled
	if enabled && term.IsTerminal(int(os.Stderr.Fd())) {
		fmt.Fprintf(os.Stderr, "WARNING: auto-approve enabled - all tool calls will run without prompting.\n")
		fmt.Fprintf(os.Stderr, "This includes shell commands. Use only in trusted environments.\n")
	}
}

// Decide implements the engine's approval gate. A prompt cancelled by
// ctx returns the context error; any other prompt failure denies.
func (m *ApprovalManager) Decide(ctx context.Context, server, tool string, args []byte) (bool, error) {
	if m.YoloMode {
		return true, nil
	}

	full := server + "." + tool

	// Deny wins over allow so a broad allow can still carve out
	// exceptions.
	if m.deny.Matches(server, tool) {
		return false, nil
	}
	if m.allow.Matches(server, tool) {
		return true, nil
	}
	if m.session.Get(full) {
		return true, nil
	}

	return m.prompt(ctx, full, args)
}

// prompt asks the user on the terminal. One prompt at a time; the
// session cache is rechecked under the lock so parallel calls to the
// same tool ask only once.
func (m *ApprovalManager) prompt(ctx context.Context, full string, args []byte) (bool, error) {
	if !m.isTerminal() {
		return false, fmt.Errorf("tool %s not pre-approved and no TTY for approval", full)
	}

	m.promptMu.Lock()
	defer m.promptMu.Unlock()

	if m.session.Get(full) {
		return true, nil
	}

	fmt.Fprintf(m.out, "\nTool call: %s\n", full)
	if len(args) > 0 && string(args) != "{}" {
		fmt.Fprintf(m.out, "Arguments: %s\n", truncateArgs(args))
	}
	fmt.Fprintf(m.out, "Approve? [y]es / [a]lways / [n]o: ")

	answer, err := m.readLine(ctx)
	if err != nil {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	case "a", "always":
		m.session.Set(full)
		return true, nil
	default:
		return false, nil
	}
}

// readLine reads one line from the prompt input, abandoning the read
// when ctx is done. The reader goroutine may outlive a cancelled
// prompt; its late answer is discarded.
func (m *ApprovalManager) readLine(ctx context.Context) (string, error) {
	type lineResult struct {
		line string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		reader := bufio.NewReader(m.in)
		line, err := reader.ReadString('\n')
		ch <- lineResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(m.out)
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil && res.line == "" {
			return "", res.err
		}
		return res.line, nil
	}
}

func truncateArgs(args []byte) string {
	const limit = 200
	s := string(args)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

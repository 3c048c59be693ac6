package tools

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestPatternSetQualified(t *testing.T) {
	set, err := compilePatterns([]string{"time.*", "shell.get_history"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if !set.Matches("time", "now") {
		t.Error("time.* should match time.now")
	}
	if !set.Matches("shell", "get_history") {
		t.Error("exact pattern should match shell.get_history")
	}
	if set.Matches("shell", "execute") {
		t.Error("shell.execute should not match")
	}
}

func TestPatternSetBareToolName(t *testing.T) {
	set, err := compilePatterns([]string{"get_history"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	// A bare pattern matches the tool name on any server.
	if !set.Matches("shell", "get_history") {
		t.Error("bare pattern should match shell.get_history")
	}
	if !set.Matches("other", "get_history") {
		t.Error("bare pattern should match other.get_history")
	}
	if set.Matches("shell", "execute") {
		t.Error("bare pattern should not match a different tool")
	}
}

func TestPatternSetMatchAll(t *testing.T) {
	set, err := compilePatterns([]string{"*"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !set.Matches("anything", "at_all") {
		t.Error("* should match everything")
	}
}

func TestPatternSetInvalid(t *testing.T) {
	if _, err := compilePatterns([]string{"[unclosed"}); err == nil {
		t.Error("expected error for invalid glob")
	}
}

func newTestManager(t *testing.T, policy Policy) *ApprovalManager {
	t.Helper()
	m, err := NewApprovalManager(policy)
	if err != nil {
		t.Fatalf("NewApprovalManager: %v", err)
	}
	return m
}

func TestDecideAllowPattern(t *testing.T) {
	m := newTestManager(t, Policy{Allow: []string{"time.*"}})
	m.isTerminal = func() bool { return false }

	ok, err := m.Decide(context.Background(), "time", "now", nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !ok {
		t.Error("time.now should be allowed by time.*")
	}
}

func TestDecideDenyWinsOverAllow(t *testing.T) {
	m := newTestManager(t, Policy{
		Allow: []string{"shell.*"},
		Deny:  []string{"shell.execute"},
	})
	m.isTerminal = func() bool { return false }

	ok, err := m.Decide(context.Background(), "shell", "execute", nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if ok {
		t.Error("deny pattern should win over allow")
	}
}

func TestDecideFailsClosedWithoutTTY(t *testing.T) {
	m := newTestManager(t, Policy{})
	m.isTerminal = func() bool { return false }

	ok, err := m.Decide(context.Background(), "shell", "execute", nil)
	if err == nil {
		t.Fatal("expected an error when no TTY is available")
	}
	if ok {
		t.Error("unapproved call must not run without a TTY")
	}
}

func TestDecideYoloBypassesEverything(t *testing.T) {
	m := newTestManager(t, Policy{Deny: []string{"*"}})
	m.YoloMode = true
	m.isTerminal = func() bool { return false }

	ok, err := m.Decide(context.Background(), "shell", "execute", nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !ok {
		t.Error("yolo mode should approve everything")
	}
}

func TestDecidePromptYes(t *testing.T) {
	m := newTestManager(t, Policy{})
	m.isTerminal = func() bool { return true }
	m.in = strings.NewReader("y\n")
	var out bytes.Buffer
	m.out = &out

	ok, err := m.Decide(context.Background(), "time", "now", []byte(`{"tz":"UTC"}`))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !ok {
		t.Error("y should approve")
	}
	if !strings.Contains(out.String(), "time.now") {
		t.Error("prompt should name the tool")
	}
}

func TestDecidePromptNo(t *testing.T) {
	m := newTestManager(t, Policy{})
	m.isTerminal = func() bool { return true }
	m.in = strings.NewReader("n\n")
	m.out = &bytes.Buffer{}

	ok, err := m.Decide(context.Background(), "shell", "execute", nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if ok {
		t.Error("n should deny")
	}
}

func TestDecidePromptAlwaysCaches(t *testing.T) {
	m := newTestManager(t, Policy{})
	m.isTerminal = func() bool { return true }
	m.in = strings.NewReader("a\n")
	m.out = &bytes.Buffer{}

	ok, err := m.Decide(context.Background(), "time", "now", nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !ok {
		t.Error("a should approve")
	}

	// Second call must not prompt; the reader is exhausted.
	m.in = strings.NewReader("")
	ok, err = m.Decide(context.Background(), "time", "now", nil)
	if err != nil {
		t.Fatalf("cached Decide: %v", err)
	}
	if !ok {
		t.Error("always grant should be cached for the session")
	}
}

func TestDecidePromptCancelled(t *testing.T) {
	m := newTestManager(t, Policy{})
	m.isTerminal = func() bool { return true }
	// A reader that never delivers a line.
	pr, _ := newBlockedReader()
	m.in = pr
	m.out = &bytes.Buffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ok, err := m.Decide(ctx, "shell", "execute", nil)
	if err == nil {
		t.Fatal("expected context error from cancelled prompt")
	}
	if ok {
		t.Error("cancelled prompt must not approve")
	}
}

// newBlockedReader returns a reader whose Read never returns.
func newBlockedReader() (*blockedReader, func()) {
	ch := make(chan struct{})
	return &blockedReader{ch: ch}, func() { close(ch) }
}

type blockedReader struct {
	ch chan struct{}
}

func (r *blockedReader) Read(p []byte) (int, error) {
	<-r.ch
	return 0, nil
}

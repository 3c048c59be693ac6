package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// sliceStream plays back a fixed event script.
type sliceStream struct {
	events []Event
	pos    int
	err    error // returned after the script is exhausted, instead of EOF
}

func (s *sliceStream) Recv() (Event, error) {
	if s.pos >= len(s.events) {
		if s.err != nil {
			return Event{}, s.err
		}
		return Event{}, io.EOF
	}
	event := s.events[s.pos]
	s.pos++
	return event, nil
}

func (s *sliceStream) Close() error { return nil }

// mockProvider replays scripted rounds. Each Stream call consumes the
// next event script; each Complete call consumes the next completion.
type mockProvider struct {
	mu          sync.Mutex
	streams     [][]Event
	streamErr   error
	completions []Completion
	completeErr error

	streamCalls   int
	completeCalls int
	requests      []Request
}

func (p *mockProvider) Name() string { return "mock" }

func (p *mockProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, Streaming: true}
}

func (p *mockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	if p.streamCalls >= len(p.streams) {
		return nil, fmt.Errorf("unexpected Stream call %d", p.streamCalls)
	}
	events := p.streams[p.streamCalls]
	p.streamCalls++
	return &sliceStream{events: events}, nil
}

func (p *mockProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.completeErr != nil {
		return Completion{}, p.completeErr
	}
	if p.completeCalls >= len(p.completions) {
		return Completion{}, fmt.Errorf("unexpected Complete call %d", p.completeCalls)
	}
	completion := p.completions[p.completeCalls]
	p.completeCalls++
	return completion, nil
}

func textEvents(text string) []Event {
	return []Event{
		{Type: EventTextDelta, Text: text},
		{Type: EventDone},
	}
}

func toolCallEvents(id, name, args string) []Event {
	return []Event{
		{Type: EventToolCallDelta, Delta: &ToolCallDelta{Index: 0, ID: id, Name: name}},
		{Type: EventToolCallDelta, Delta: &ToolCallDelta{Index: 0, Args: args}},
		{Type: EventDone},
	}
}

// recordedCall captures one invocation seen by the mock invoker.
type recordedCall struct {
	Server string
	Tool   string
	Args   string
}

// mockInvoker executes tool calls via a configurable function.
type mockInvoker struct {
	mu    sync.Mutex
	tools []ToolSpec
	calls []recordedCall
	fn    func(ctx context.Context, server, tool string, args json.RawMessage) (string, error)
}

func (m *mockInvoker) Tools() []ToolSpec { return m.tools }

func (m *mockInvoker) Call(ctx context.Context, server, tool string, args json.RawMessage) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, recordedCall{Server: server, Tool: tool, Args: string(args)})
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn(ctx, server, tool, args)
	}
	return "ok", nil
}

func (m *mockInvoker) recorded() []recordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]recordedCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// gateFunc adapts a function to the approval gate interface.
type gateFunc func(ctx context.Context, server, tool string, args []byte) (bool, error)

func (f gateFunc) Decide(ctx context.Context, server, tool string, args []byte) (bool, error) {
	return f(ctx, server, tool, args)
}

func approveAll() ApprovalGate {
	return gateFunc(func(context.Context, string, string, []byte) (bool, error) {
		return true, nil
	})
}

func denyAll() ApprovalGate {
	return gateFunc(func(context.Context, string, string, []byte) (bool, error) {
		return false, nil
	})
}

// textSink records streamed text.
type textSink struct {
	mu    sync.Mutex
	parts []string
}

func (s *textSink) TextDelta(text string) {
	s.mu.Lock()
	s.parts = append(s.parts, text)
	s.mu.Unlock()
}

func (s *textSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out string
	for _, p := range s.parts {
		out += p
	}
	return out
}

var timeTools = []ToolSpec{{
	Name:        "time.now",
	Description: "Return the current UTC time.",
	Schema:      map[string]any{"type": "object"},
}}

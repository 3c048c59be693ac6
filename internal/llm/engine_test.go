package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestRunTurnTextOnly(t *testing.T) {
	provider := &mockProvider{streams: [][]Event{textEvents("hello there")}}
	engine := NewEngine(provider, nil, nil, Options{Model: "m"})
	conv := &Conversation{}
	sink := &textSink{}

	result, err := engine.RunTurn(context.Background(), conv, UserText("hi"), sink)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Text != "hello there" {
		t.Errorf("text = %q", result.Text)
	}
	if result.Rounds != 1 {
		t.Errorf("rounds = %d", result.Rounds)
	}
	if sink.String() != "hello there" {
		t.Errorf("sink = %q", sink.String())
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("conversation should hold user + assistant, got %d", len(conv.Messages))
	}
	if conv.Messages[1].Role != RoleAssistant {
		t.Errorf("last role = %s", conv.Messages[1].Role)
	}
}

func TestRunTurnToolRoundTrip(t *testing.T) {
	provider := &mockProvider{streams: [][]Event{
		toolCallEvents("call-1", "time.now", `{}`),
		textEvents("It is 2026-08-26T12:00:00Z."),
	}}
	invoker := &mockInvoker{
		tools: timeTools,
		fn: func(ctx context.Context, server, tool string, args json.RawMessage) (string, error) {
			return "2026-08-26T12:00:00Z", nil
		},
	}
	engine := NewEngine(provider, invoker, approveAll(), Options{Model: "m"})
	conv := &Conversation{}

	result, err := engine.RunTurn(context.Background(), conv, UserText("what time is it"), nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Rounds != 2 {
		t.Errorf("rounds = %d", result.Rounds)
	}
	if result.ToolCalls != 1 {
		t.Errorf("tool calls = %d", result.ToolCalls)
	}
	if !strings.Contains(result.Text, "2026-08-26T12:00:00Z") {
		t.Errorf("text = %q", result.Text)
	}

	calls := invoker.recorded()
	if len(calls) != 1 || calls[0].Server != "time" || calls[0].Tool != "now" {
		t.Errorf("invoker saw %+v", calls)
	}

	// user, assistant(tool call), tool result, final assistant
	if len(conv.Messages) != 4 {
		t.Fatalf("conversation has %d messages", len(conv.Messages))
	}
	toolMsg := conv.Messages[2]
	if toolMsg.Role != RoleTool {
		t.Fatalf("message 2 role = %s", toolMsg.Role)
	}
	tr := toolMsg.Parts[0].ToolResult
	if tr == nil || tr.ID != "call-1" || tr.Content != "2026-08-26T12:00:00Z" || tr.IsError {
		t.Errorf("tool result = %+v", tr)
	}
}

func TestRunTurnFallbackExactlyOnce(t *testing.T) {
	provider := &mockProvider{
		streams:     [][]Event{{{Type: EventDone}}},
		completions: []Completion{{Text: "recovered"}},
	}
	engine := NewEngine(provider, nil, nil, Options{Model: "m"})
	conv := &Conversation{}

	result, err := engine.RunTurn(context.Background(), conv, UserText("hi"), nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !result.FellBack {
		t.Error("FellBack should be set")
	}
	if result.Text != "recovered" {
		t.Errorf("text = %q", result.Text)
	}
	if provider.completeCalls != 1 {
		t.Errorf("completeCalls = %d, want exactly 1", provider.completeCalls)
	}
}

func TestRunTurnEmptyTwiceFails(t *testing.T) {
	provider := &mockProvider{
		streams:     [][]Event{{{Type: EventDone}}},
		completions: []Completion{{}},
	}
	engine := NewEngine(provider, nil, nil, Options{Model: "m"})

	_, err := engine.RunTurn(context.Background(), &Conversation{}, UserText("hi"), nil)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
	if provider.completeCalls != 1 {
		t.Errorf("completeCalls = %d", provider.completeCalls)
	}
}

func TestRunTurnNoStreamMode(t *testing.T) {
	provider := &mockProvider{completions: []Completion{{Text: "direct"}}}
	engine := NewEngine(provider, nil, nil, Options{Model: "m", NoStream: true})

	result, err := engine.RunTurn(context.Background(), &Conversation{}, UserText("hi"), nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Text != "direct" {
		t.Errorf("text = %q", result.Text)
	}
	if provider.streamCalls != 0 {
		t.Errorf("streamCalls = %d, want 0", provider.streamCalls)
	}
	if result.FellBack {
		t.Error("NoStream is not a fallback")
	}
}

func TestRunTurnNoStreamEmptyFailsImmediately(t *testing.T) {
	provider := &mockProvider{completions: []Completion{{}}}
	engine := NewEngine(provider, nil, nil, Options{Model: "m", NoStream: true})

	_, err := engine.RunTurn(context.Background(), &Conversation{}, UserText("hi"), nil)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v", err)
	}
	if provider.completeCalls != 1 {
		t.Errorf("completeCalls = %d, want no retry", provider.completeCalls)
	}
}

func TestRunTurnRoundLimit(t *testing.T) {
	// The model insists on calling a tool every round.
	var streams [][]Event
	for i := 0; i < 3; i++ {
		streams = append(streams, toolCallEvents("c", "time.now", `{}`))
	}
	provider := &mockProvider{streams: streams}
	invoker := &mockInvoker{tools: timeTools}
	engine := NewEngine(provider, invoker, approveAll(), Options{Model: "m", MaxRounds: 3})

	_, err := engine.RunTurn(context.Background(), &Conversation{}, UserText("loop"), nil)
	var limitErr *RoundLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("err = %v, want RoundLimitError", err)
	}
	if limitErr.Limit != 3 {
		t.Errorf("limit = %d", limitErr.Limit)
	}
}

func TestRunTurnDeniedToolContinues(t *testing.T) {
	provider := &mockProvider{streams: [][]Event{
		toolCallEvents("c1", "shell.execute", `{"command":"rm -rf /"}`),
		textEvents("I was not allowed to run that."),
	}}
	invoker := &mockInvoker{tools: []ToolSpec{{Name: "shell.execute"}}}
	engine := NewEngine(provider, invoker, denyAll(), Options{Model: "m"})
	conv := &Conversation{}

	result, err := engine.RunTurn(context.Background(), conv, UserText("wipe it"), nil)
	if err != nil {
		t.Fatalf("denial must not fail the turn: %v", err)
	}
	if len(invoker.recorded()) != 0 {
		t.Error("denied tool must never execute")
	}

	toolMsg := conv.Messages[2]
	tr := toolMsg.Parts[0].ToolResult
	if tr == nil || !tr.IsError {
		t.Fatalf("expected error result, got %+v", tr)
	}
	if tr.Content != "Denied by user: shell.execute" {
		t.Errorf("content = %q", tr.Content)
	}
	if result.Rounds != 2 {
		t.Errorf("rounds = %d", result.Rounds)
	}
}

func TestRunTurnRequiredDenialShortCircuits(t *testing.T) {
	provider := &mockProvider{streams: [][]Event{
		{
			{Type: EventToolCallDelta, Delta: &ToolCallDelta{Index: 0, ID: "c1", Name: "shell.execute", Args: `{}`}},
			{Type: EventToolCallDelta, Delta: &ToolCallDelta{Index: 1, ID: "c2", Name: "time.now", Args: `{}`}},
			{Type: EventDone},
		},
	}}
	invoker := &mockInvoker{tools: timeTools}
	engine := NewEngine(provider, invoker, denyAll(), Options{
		Model:      "m",
		ToolChoice: ToolChoice{Mode: ToolChoiceRequired},
	})

	_, err := engine.RunTurn(context.Background(), &Conversation{}, UserText("go"), nil)
	var reqErr *RequiredToolDeniedError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %v, want RequiredToolDeniedError", err)
	}
	if reqErr.Tool != "shell.execute" {
		t.Errorf("tool = %q", reqErr.Tool)
	}
	// The sibling call after the denied one must not run.
	if len(invoker.recorded()) != 0 {
		t.Error("no sibling may execute after a required denial")
	}
}

func TestRunTurnGateErrorFailsClosed(t *testing.T) {
	provider := &mockProvider{streams: [][]Event{
		toolCallEvents("c1", "shell.execute", `{}`),
		textEvents("done"),
	}}
	invoker := &mockInvoker{}
	gate := gateFunc(func(context.Context, string, string, []byte) (bool, error) {
		return false, errors.New("prompt unavailable")
	})
	engine := NewEngine(provider, invoker, gate, Options{Model: "m"})
	conv := &Conversation{}

	_, err := engine.RunTurn(context.Background(), conv, UserText("go"), nil)
	if err != nil {
		t.Fatalf("gate failure should deny, not abort: %v", err)
	}
	if len(invoker.recorded()) != 0 {
		t.Error("tool must not run when the gate errors")
	}
	tr := conv.Messages[2].Parts[0].ToolResult
	if tr == nil || !tr.IsError {
		t.Errorf("expected denial result, got %+v", tr)
	}
}

func TestRunTurnInvalidToolName(t *testing.T) {
	provider := &mockProvider{streams: [][]Event{
		toolCallEvents("c1", "unqualified", `{}`),
		textEvents("sorry"),
	}}
	invoker := &mockInvoker{}
	engine := NewEngine(provider, invoker, approveAll(), Options{Model: "m"})
	conv := &Conversation{}

	_, err := engine.RunTurn(context.Background(), conv, UserText("go"), nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if len(invoker.recorded()) != 0 {
		t.Error("invalid name must not reach the invoker")
	}
	tr := conv.Messages[2].Parts[0].ToolResult
	if tr == nil || tr.Content != "Invalid tool name: unqualified" {
		t.Errorf("result = %+v", tr)
	}
}

func TestRunTurnPartialFailureIsolation(t *testing.T) {
	provider := &mockProvider{streams: [][]Event{
		{
			{Type: EventToolCallDelta, Delta: &ToolCallDelta{Index: 0, ID: "c1", Name: "srv.bad", Args: `{}`}},
			{Type: EventToolCallDelta, Delta: &ToolCallDelta{Index: 1, ID: "c2", Name: "srv.good", Args: `{}`}},
			{Type: EventDone},
		},
		textEvents("partial results noted"),
	}}
	invoker := &mockInvoker{
		fn: func(ctx context.Context, server, tool string, args json.RawMessage) (string, error) {
			if tool == "bad" {
				return "", errors.New("boom")
			}
			return "fine", nil
		},
	}
	engine := NewEngine(provider, invoker, approveAll(), Options{Model: "m"})
	conv := &Conversation{}

	_, err := engine.RunTurn(context.Background(), conv, UserText("go"), nil)
	if err != nil {
		t.Fatalf("one bad tool must not fail the turn: %v", err)
	}

	// Results are two separate tool messages in request order.
	first := conv.Messages[2].Parts[0].ToolResult
	second := conv.Messages[3].Parts[0].ToolResult
	if first == nil || !first.IsError || !strings.Contains(first.Content, "boom") {
		t.Errorf("first result = %+v", first)
	}
	if second == nil || second.IsError || second.Content != "fine" {
		t.Errorf("second result = %+v", second)
	}
}

func TestRunTurnMalformedArgsBecomeErrorResult(t *testing.T) {
	provider := &mockProvider{streams: [][]Event{
		toolCallEvents("c1", "time.now", `{"cut`),
		textEvents("noted"),
	}}
	invoker := &mockInvoker{}
	engine := NewEngine(provider, invoker, approveAll(), Options{Model: "m"})
	conv := &Conversation{}

	_, err := engine.RunTurn(context.Background(), conv, UserText("go"), nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if len(invoker.recorded()) != 0 {
		t.Error("malformed args must not reach the invoker")
	}
	tr := conv.Messages[2].Parts[0].ToolResult
	if tr == nil || !tr.IsError || !strings.Contains(tr.Content, "malformed arguments") {
		t.Errorf("result = %+v", tr)
	}
}

func TestRunTurnUsageAccumulates(t *testing.T) {
	provider := &mockProvider{streams: [][]Event{
		{
			{Type: EventTextDelta, Text: "hi"},
			{Type: EventUsage, Use: &Usage{InputTokens: 10, OutputTokens: 5, CachedInputTokens: 2}},
			{Type: EventDone},
		},
	}}
	engine := NewEngine(provider, nil, nil, Options{Model: "m"})
	conv := &Conversation{}

	result, err := engine.RunTurn(context.Background(), conv, UserText("hi"), nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Usage.InputTokens != 10 || result.Usage.OutputTokens != 5 || result.Usage.CachedInputTokens != 2 {
		t.Errorf("usage = %+v", result.Usage)
	}
	if conv.Totals.InputTokens != 10 {
		t.Errorf("conversation totals = %+v", conv.Totals)
	}
	if result.Usage.Requests == 0 {
		t.Error("requests should be counted")
	}
}

func TestRunTurnCancelledBeforeRound(t *testing.T) {
	provider := &mockProvider{streams: [][]Event{textEvents("never")}}
	engine := NewEngine(provider, nil, nil, Options{Model: "m"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.RunTurn(ctx, &Conversation{}, UserText("hi"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if provider.streamCalls != 0 {
		t.Errorf("no request should be made after cancellation")
	}
}

func TestRunTurnToolChoiceFirstRoundOnly(t *testing.T) {
	provider := &mockProvider{streams: [][]Event{
		toolCallEvents("c1", "time.now", `{}`),
		textEvents("done"),
	}}
	invoker := &mockInvoker{tools: timeTools}
	engine := NewEngine(provider, invoker, approveAll(), Options{
		Model:      "m",
		ToolChoice: ToolChoice{Mode: ToolChoiceRequired},
	})

	_, err := engine.RunTurn(context.Background(), &Conversation{}, UserText("go"), nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if len(provider.requests) != 2 {
		t.Fatalf("requests = %d", len(provider.requests))
	}
	if provider.requests[0].ToolChoice.Mode != ToolChoiceRequired {
		t.Errorf("round 0 choice = %+v", provider.requests[0].ToolChoice)
	}
	if provider.requests[1].ToolChoice.Mode != ToolChoiceAuto {
		t.Errorf("round 1 choice = %+v, want auto", provider.requests[1].ToolChoice)
	}
}

func TestRunTurnCancelledDuringToolStillRecordsResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := &mockProvider{streams: [][]Event{
		toolCallEvents("c1", "time.now", `{}`),
	}}
	invoker := &mockInvoker{
		fn: func(ctx context.Context, server, tool string, args json.RawMessage) (string, error) {
			// The tool's side effect completes, then the turn is
			// cancelled before the next round.
			cancel()
			return "2026-08-26T12:00:00Z", nil
		},
	}
	engine := NewEngine(provider, invoker, approveAll(), Options{Model: "m"})
	conv := &Conversation{}

	_, err := engine.RunTurn(ctx, conv, UserText("go"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}

	// The completed call must leave a recorded result so the
	// conversation never ends on unresolved tool calls.
	if len(conv.Messages) != 3 {
		t.Fatalf("conversation has %d messages, want user + assistant + tool result", len(conv.Messages))
	}
	tr := conv.Messages[2].Parts[0].ToolResult
	if tr == nil || tr.ID != "c1" {
		t.Fatalf("tool result = %+v", tr)
	}
	if tr.Content != "2026-08-26T12:00:00Z" {
		t.Errorf("result content = %q", tr.Content)
	}
}

func TestRunTurnResultsKeepRequestOrder(t *testing.T) {
	provider := &mockProvider{streams: [][]Event{
		{
			{Type: EventToolCallDelta, Delta: &ToolCallDelta{Index: 0, ID: "c1", Name: "srv.slow", Args: `{}`}},
			{Type: EventToolCallDelta, Delta: &ToolCallDelta{Index: 1, ID: "c2", Name: "srv.fast", Args: `{}`}},
			{Type: EventDone},
		},
		textEvents("done"),
	}}

	// The first call blocks until the second has finished, so
	// completion order is the reverse of request order.
	fastDone := make(chan struct{})
	invoker := &mockInvoker{
		fn: func(ctx context.Context, server, tool string, args json.RawMessage) (string, error) {
			switch tool {
			case "fast":
				close(fastDone)
				return "fast result", nil
			default:
				select {
				case <-fastDone:
				case <-ctx.Done():
					return "", ctx.Err()
				}
				return "slow result", nil
			}
		},
	}
	engine := NewEngine(provider, invoker, approveAll(), Options{Model: "m"})
	conv := &Conversation{}

	_, err := engine.RunTurn(context.Background(), conv, UserText("go"), nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	first := conv.Messages[2].Parts[0].ToolResult
	second := conv.Messages[3].Parts[0].ToolResult
	if first == nil || first.ID != "c1" || first.Content != "slow result" {
		t.Errorf("first slot = %+v, want the slow call's result", first)
	}
	if second == nil || second.ID != "c2" || second.Content != "fast result" {
		t.Errorf("second slot = %+v, want the fast call's result", second)
	}
}

func TestRunTurnStreamErrorWrapped(t *testing.T) {
	provider := &mockProvider{streamErr: errors.New("connection refused")}
	engine := NewEngine(provider, nil, nil, Options{Model: "m"})

	_, err := engine.RunTurn(context.Background(), &Conversation{}, UserText("hi"), nil)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if te.Provider != "mock" {
		t.Errorf("provider = %q", te.Provider)
	}
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gptsh/gptsh/internal/usage"
)

const defaultMaxRounds = 8

// Sink receives assistant text as it streams.
type Sink interface {
	TextDelta(text string)
}

// Reporter receives turn progress notifications. Implementations must
// not block; the engine calls these inline.
type Reporter interface {
	RoundStarted(round int)
	ToolStarted(callID, name string)
	ToolFinished(callID, name string, ok bool, elapsed time.Duration)
}

// ApprovalGate decides whether a tool call may execute. A prompt
// bounded by ctx counts as part of the decision; an error from a
// cancelled prompt propagates so the turn can stop.
type ApprovalGate interface {
	Decide(ctx context.Context, server, tool string, args []byte) (bool, error)
}

// Conversation is the append-only message list for a session plus its
// running usage totals. The engine owns mutation during a turn.
type Conversation struct {
	Messages []Message
	Totals   usage.Totals
}

// Append adds messages to the conversation.
func (c *Conversation) Append(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
}

// Options configure an Engine.
type Options struct {
	Model        string
	ToolChoice   ToolChoice    // applied on the first round; later rounds use auto
	MaxRounds    int           // 0 = default 8
	MaxParallel  int           // concurrent tool executions, 0 = default 4
	ToolTimeout  time.Duration // per tool call, 0 = default 60s
	NoStream     bool          // skip streaming, use Complete directly
	NoTools      bool          // never advertise tools to the model
	Reporter     Reporter
	MaxOutTokens int
}

// TurnResult summarizes one completed user turn.
type TurnResult struct {
	Text      string       // final assistant text
	Rounds    int          // model rounds consumed
	ToolCalls int          // tool invocations requested by the model
	Usage     usage.Totals // this turn's usage delta
	FellBack  bool         // non-streaming fallback was used
	Messages  []Message    // messages appended to the conversation this turn
}

// Engine drives the round loop for one conversation: stream the model,
// reassemble tool calls, gate and execute them, feed results back, and
// stop on a text-only response or a terminal error.
type Engine struct {
	provider    Provider
	invoker     ToolInvoker
	gate        ApprovalGate
	reporter    Reporter
	model       string
	toolChoice  ToolChoice
	maxRounds   int
	maxParallel int
	toolTimeout time.Duration
	noStream    bool
	noTools     bool
	maxTokens   int
}

func NewEngine(provider Provider, invoker ToolInvoker, gate ApprovalGate, opts Options) *Engine {
	reporter := opts.Reporter
	if reporter == nil {
		reporter = noopReporter{}
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	return &Engine{
		provider:    provider,
		invoker:     invoker,
		gate:        gate,
		reporter:    reporter,
		model:       opts.Model,
		toolChoice:  opts.ToolChoice,
		maxRounds:   maxRounds,
		maxParallel: opts.MaxParallel,
		toolTimeout: opts.ToolTimeout,
		noStream:    opts.NoStream,
		noTools:     opts.NoTools,
		maxTokens:   opts.MaxOutTokens,
	}
}

// RunTurn appends the user message and drives rounds until the model
// answers with text only, a limit is hit, or ctx is done. Text streams
// to sink as it arrives. On error the conversation keeps everything
// appended so far; the caller decides whether to persist it.
func (e *Engine) RunTurn(ctx context.Context, conv *Conversation, user Message, sink Sink) (*TurnResult, error) {
	if conv == nil {
		return nil, fmt.Errorf("nil conversation")
	}
	conv.Append(user)
	result := &TurnResult{Messages: []Message{user}}
	defer func() {
		conv.Totals.Merge(result.Usage)
	}()
	defer func() {
		if result.Usage.Requests > 0 {
			_ = usage.DefaultLogger().Log(usage.LogEntry{
				Provider:        e.provider.Name(),
				Model:           e.model,
				InputTokens:     result.Usage.InputTokens,
				OutputTokens:    result.Usage.OutputTokens,
				CacheReadTokens: result.Usage.CachedInputTokens,
				Rounds:          result.Rounds,
				ToolCalls:       result.ToolCalls,
			})
		}
	}()

	var tools []ToolSpec
	if e.invoker != nil && !e.noTools {
		tools = e.invoker.Tools()
	}

	for round := 0; round < e.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Rounds = round + 1
		e.reporter.RoundStarted(round + 1)

		req := Request{
			Model:           e.model,
			Messages:        conv.Messages,
			Tools:           tools,
			MaxOutputTokens: e.maxTokens,
		}
		if round == 0 {
			req.ToolChoice = e.toolChoice
		} else if len(tools) > 0 {
			req.ToolChoice = ToolChoice{Mode: ToolChoiceAuto}
		}

		outcome, err := e.runRound(ctx, req, sink, result)
		if err != nil {
			return result, err
		}

		if outcome.hasUsage {
			result.Usage.Add(outcome.usage.InputTokens, outcome.usage.OutputTokens, outcome.usage.CachedInputTokens)
		}

		if len(outcome.calls) == 0 {
			final := AssistantText(outcome.text)
			conv.Append(final)
			result.Messages = append(result.Messages, final)
			result.Text = outcome.text
			return result, nil
		}

		calls := ensureToolCallIDs(round, outcome.calls)
		assistant := buildAssistantMessage(outcome.text, calls)
		conv.Append(assistant)
		result.Messages = append(result.Messages, assistant)
		result.ToolCalls += len(calls)

		// Results collected before a cancellation are still appended:
		// every dispatched call leaves a recorded result even when the
		// turn ends with an error.
		toolResults, err := e.gateAndExecute(ctx, req.ToolChoice, calls)
		conv.Append(toolResults...)
		result.Messages = append(result.Messages, toolResults...)
		if err != nil {
			return result, err
		}
	}

	return result, &RoundLimitError{Limit: e.maxRounds}
}

// runRound performs one model request, using the stream when enabled
// and falling back to a single non-streaming completion if the stream
// produced neither text nor tool calls.
func (e *Engine) runRound(ctx context.Context, req Request, sink Sink, result *TurnResult) (*roundOutcome, error) {
	if e.noStream {
		outcome, err := completeOnce(ctx, e.provider, req, sink)
		if err != nil {
			return nil, passthroughOrTransport(ctx, e.provider.Name(), err)
		}
		if outcome.empty() {
			return nil, ErrEmptyResponse
		}
		return outcome, nil
	}

	stream, err := e.provider.Stream(ctx, req)
	if err != nil {
		return nil, passthroughOrTransport(ctx, e.provider.Name(), err)
	}
	outcome, err := drainStream(stream, sink)
	if err != nil {
		return nil, passthroughOrTransport(ctx, e.provider.Name(), err)
	}
	if !outcome.empty() {
		return outcome, nil
	}

	// Some gateways close the stream without emitting anything. Retry
	// exactly once over the non-streaming path with the same request.
	slog.Debug("empty stream, retrying via non-streaming completion", "provider", e.provider.Name())
	result.FellBack = true
	retried, err := completeOnce(ctx, e.provider, req, sink)
	if err != nil {
		return nil, passthroughOrTransport(ctx, e.provider.Name(), err)
	}
	if retried.usage.InputTokens > 0 || retried.usage.OutputTokens > 0 {
		// Keep stream usage too; both requests were billed.
		retried.usage.Add(outcome.usage)
		retried.hasUsage = true
	} else if outcome.hasUsage {
		retried.usage = outcome.usage
		retried.hasUsage = true
	}
	if retried.empty() {
		return nil, ErrEmptyResponse
	}
	return retried, nil
}

// gateAndExecute sweeps approvals in request order, then executes the
// approved calls concurrently. Every call yields exactly one result
// message in request order. A denial under required tool choice aborts
// before any sibling runs.
func (e *Engine) gateAndExecute(ctx context.Context, choice ToolChoice, calls []ToolCall) ([]Message, error) {
	results := make([]Message, len(calls))
	var pending []indexedCall

	for i, call := range calls {
		server, tool, ok := SplitToolName(call.Name)
		if !ok {
			results[i] = ToolErrorMessage(call.ID, call.Name, fmt.Sprintf("Invalid tool name: %s", call.Name))
			continue
		}

		approved := true
		if e.gate != nil {
			var err error
			approved, err = e.gate.Decide(ctx, server, tool, call.Arguments)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				slog.Warn("approval prompt failed, denying", "tool", call.Name, "error", err)
				approved = false
			}
		}

		if !approved {
			slog.Info("denied execution of tool", "tool", call.Name)
			if requiresTool(choice, call.Name) {
				return nil, &RequiredToolDeniedError{Tool: call.Name}
			}
			results[i] = ToolErrorMessage(call.ID, call.Name, fmt.Sprintf("Denied by user: %s", call.Name))
			continue
		}

		pending = append(pending, indexedCall{index: i, call: call})
	}

	e.executeToolCalls(ctx, pending, results)

	// Cancellation mid-execution still returns the populated results;
	// each dispatched call wrote its slot before we got here.
	return results, ctx.Err()
}

// requiresTool reports whether the round's tool choice makes this call
// mandatory for progress.
func requiresTool(choice ToolChoice, name string) bool {
	switch choice.Mode {
	case ToolChoiceRequired:
		return true
	case ToolChoiceName:
		return choice.Name == name
	}
	return false
}

// buildAssistantMessage creates an assistant message with text and the
// round's tool calls, mirroring what the model produced.
func buildAssistantMessage(text string, calls []ToolCall) Message {
	var parts []Part
	if text != "" {
		parts = append(parts, Part{Type: PartText, Text: text})
	}
	for i := range calls {
		call := calls[i]
		parts = append(parts, Part{Type: PartToolCall, ToolCall: &call})
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

// passthroughOrTransport keeps cancellation errors as-is and wraps
// everything else as a transport failure.
func passthroughOrTransport(ctx context.Context, provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, ErrEmptyResponse) {
		return err
	}
	return &TransportError{Provider: provider, Err: err}
}

type noopReporter struct{}

func (noopReporter) RoundStarted(int)           {}
func (noopReporter) ToolStarted(string, string) {}
func (noopReporter) ToolFinished(string, string, bool, time.Duration) {
}

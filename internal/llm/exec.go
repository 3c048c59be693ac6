package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxParallelTools = 4
	defaultToolTimeout      = 60 * time.Second
)

// ToolInvoker executes a named tool. Implemented by the MCP manager.
type ToolInvoker interface {
	Tools() []ToolSpec
	Call(ctx context.Context, server, tool string, args json.RawMessage) (string, error)
}

// SplitToolName splits a qualified "server.tool" name at the first dot.
// Server-side tool names may themselves contain dots.
func SplitToolName(name string) (server, tool string, ok bool) {
	idx := strings.Index(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return "", name, false
	}
	return name[:idx], name[idx+1:], true
}

// indexedCall pairs a tool call with its position in the request so
// results land in request order no matter when they finish.
type indexedCall struct {
	index int
	call  ToolCall
}

// executeToolCalls runs the pending calls with bounded fan-out and
// writes each result message into its request-order slot. Every
// dispatched call is waited for: cancellation still yields a recorded
// error result for each call rather than an abandoned goroutine.
func (e *Engine) executeToolCalls(ctx context.Context, pending []indexedCall, results []Message) {
	if len(pending) == 0 {
		return
	}

	// Fast path: single call, no concurrency overhead.
	if len(pending) == 1 {
		ic := pending[0]
		results[ic.index] = e.executeSingleCall(ctx, ic.call)
		return
	}

	type toolResult struct {
		index   int
		message Message
	}

	maxParallel := e.maxParallel
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallelTools
	}
	sem := make(chan struct{}, maxParallel)

	var wg sync.WaitGroup
	resultChan := make(chan toolResult, len(pending))

	for _, ic := range pending {
		wg.Add(1)
		go func(ic indexedCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			resultChan <- toolResult{index: ic.index, message: e.executeSingleCall(ctx, ic.call)}
		}(ic)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for r := range resultChan {
		results[r.index] = r.message
	}
}

// executeSingleCall runs one tool call to completion. Failures never
// escape as errors; they become IsError result messages so one bad
// call cannot abort its siblings or the turn.
func (e *Engine) executeSingleCall(ctx context.Context, call ToolCall) Message {
	e.reporter.ToolStarted(call.ID, call.Name)
	started := time.Now()

	fail := func(msg string) Message {
		e.reporter.ToolFinished(call.ID, call.Name, false, time.Since(started))
		return ToolErrorMessage(call.ID, call.Name, msg)
	}

	server, tool, ok := SplitToolName(call.Name)
	if !ok {
		return fail(fmt.Sprintf("Error: invalid tool name %q (expected server.tool)", call.Name))
	}

	// Argument fragments are concatenated during streaming; a stream
	// that ended mid-arguments leaves truncated JSON behind.
	if len(call.Arguments) > 0 && !json.Valid(call.Arguments) {
		return fail(fmt.Sprintf("Error: tool %s received malformed arguments", call.Name))
	}

	timeout := e.toolTimeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := e.invoker.Call(callCtx, server, tool, call.Arguments)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fail(fmt.Sprintf("Error: tool %s timed out after %s", call.Name, timeout))
		}
		return fail(fmt.Sprintf("Error: %v", err))
	}

	e.reporter.ToolFinished(call.ID, call.Name, true, time.Since(started))
	return ToolResultMessage(call.ID, call.Name, output)
}

// ensureToolCallIDs fills in IDs for providers that stream calls
// without them. Result messages must echo an ID the provider accepts,
// and IDs must stay unique across the rounds of one turn.
func ensureToolCallIDs(round int, calls []ToolCall) []ToolCall {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = fmt.Sprintf("toolcall-%d-%d", round, i)
		}
	}
	return calls
}

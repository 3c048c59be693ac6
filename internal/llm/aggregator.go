package llm

import (
	"encoding/json"
	"sort"
	"strings"
)

// ToolCallAccumulator reassembles streamed tool-call fragments into
// complete calls. Providers interleave text deltas with tool-call
// deltas; each delta carries a call index plus optional id, name and
// argument fragments. Fragments with no index belong to index 0.
//
// Argument JSON is only meaningful once the stream completes, so the
// accumulator never parses it; callers validate at execution time.
type ToolCallAccumulator struct {
	byIndex map[int]*pendingCall
	order   []int
}

type pendingCall struct {
	id   string
	name strings.Builder
	args strings.Builder
}

func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{byIndex: make(map[int]*pendingCall)}
}

// Add records one streamed fragment. The first fragment for an index
// creates the call; later fragments append to it. An id is set once
// and never overwritten by empty follow-ups.
func (a *ToolCallAccumulator) Add(delta ToolCallDelta) {
	state, ok := a.byIndex[delta.Index]
	if !ok {
		state = &pendingCall{}
		a.byIndex[delta.Index] = state
		a.order = append(a.order, delta.Index)
	}
	if delta.ID != "" {
		state.id = delta.ID
	}
	if delta.Name != "" {
		state.name.WriteString(delta.Name)
	}
	if delta.Args != "" {
		state.args.WriteString(delta.Args)
	}
}

// Len returns the number of calls seen so far.
func (a *ToolCallAccumulator) Len() int {
	return len(a.order)
}

// Calls finalizes the accumulated fragments, ordered by stream index.
func (a *ToolCallAccumulator) Calls() []ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	sort.Ints(a.order)
	calls := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		state := a.byIndex[idx]
		if state == nil {
			continue
		}
		calls = append(calls, ToolCall{
			ID:        state.id,
			Name:      state.name.String(),
			Arguments: json.RawMessage(state.args.String()),
		})
	}
	return calls
}

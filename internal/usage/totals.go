// Package usage tracks token consumption across model requests.
package usage

import "fmt"

// Totals accumulates token usage. Values only ever grow; per-turn
// deltas are separate Totals values rather than resets.
type Totals struct {
	InputTokens       int `json:"input_tokens"`
	OutputTokens      int `json:"output_tokens"`
	CachedInputTokens int `json:"cached_input_tokens,omitempty"`
	Requests          int `json:"requests"`
}

// Add merges one request's usage into the totals.
func (t *Totals) Add(input, output, cached int) {
	t.InputTokens += input
	t.OutputTokens += output
	t.CachedInputTokens += cached
	t.Requests++
}

// Merge folds another Totals into this one.
func (t *Totals) Merge(other Totals) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CachedInputTokens += other.CachedInputTokens
	t.Requests += other.Requests
}

// TotalTokens returns input plus output tokens.
func (t Totals) TotalTokens() int {
	return t.InputTokens + t.OutputTokens
}

// String renders a compact one-line summary for status output.
func (t Totals) String() string {
	if t.CachedInputTokens > 0 {
		return fmt.Sprintf("%d in (%d cached) / %d out", t.InputTokens, t.CachedInputTokens, t.OutputTokens)
	}
	return fmt.Sprintf("%d in / %d out", t.InputTokens, t.OutputTokens)
}

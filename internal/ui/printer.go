package ui

import (
	"fmt"
	"io"
)

// StreamPrinter writes streamed assistant text to the terminal. In
// markdown mode blocks are buffered and rendered as they complete; in
// plain mode text passes straight through. Implements the engine's
// sink.
type StreamPrinter struct {
	w     io.Writer
	plain bool
	width int
	buf   *MarkdownBuffer
}

// NewStreamPrinter creates a printer. Plain mode disables markdown
// rendering entirely.
func NewStreamPrinter(w io.Writer, plain bool) *StreamPrinter {
	return &StreamPrinter{
		w:     w,
		plain: plain,
		width: TerminalWidth(),
		buf:   NewMarkdownBuffer(),
	}
}

// TextDelta receives one streamed text fragment.
func (p *StreamPrinter) TextDelta(text string) {
	if p.plain {
		fmt.Fprint(p.w, text)
		return
	}
	for _, block := range p.buf.Push(text) {
		fmt.Fprint(p.w, RenderMarkdown(block, p.width))
	}
}

// Done renders whatever remains buffered. Call once when the turn
// completes.
func (p *StreamPrinter) Done() {
	if p.plain {
		return
	}
	if rest := p.buf.Flush(); rest != "" {
		fmt.Fprint(p.w, RenderMarkdown(rest, p.width))
	}
}

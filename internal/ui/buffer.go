package ui

import "strings"

const defaultLatencyChars = 1200

// MarkdownBuffer is an incremental markdown block detector for
// streaming output. Text flushes at blank-line paragraph boundaries,
// fenced code blocks are held whole until the closing fence arrives,
// and a latency guard flushes oversized buffers at the last newline.
type MarkdownBuffer struct {
	buf          string
	inFence      bool
	fenceMarker  string
	latencyChars int
}

// NewMarkdownBuffer creates a buffer with the default latency guard.
func NewMarkdownBuffer() *MarkdownBuffer {
	return &MarkdownBuffer{latencyChars: defaultLatencyChars}
}

// NewMarkdownBufferWithLatency creates a buffer with a custom latency
// guard threshold.
func NewMarkdownBufferWithLatency(latencyChars int) *MarkdownBuffer {
	return &MarkdownBuffer{latencyChars: latencyChars}
}

// Push appends streamed text and returns the complete markdown blocks
// now ready to render.
func (b *MarkdownBuffer) Push(chunk string) []string {
	b.buf += chunk
	var out []string

	for {
		if b.inFence {
			block, rest, closed := b.takeFencedBlock()
			if !closed {
				break
			}
			out = append(out, block)
			b.buf = rest
			b.inFence = false
			b.fenceMarker = ""
			continue
		}

		parIdx := strings.Index(b.buf, "\n\n")
		fenceStart, marker := findFenceLine(b.buf)

		if parIdx != -1 && (fenceStart == -1 || parIdx < fenceStart) {
			out = append(out, b.buf[:parIdx+2])
			b.buf = b.buf[parIdx+2:]
			continue
		}

		if fenceStart != -1 {
			before := b.buf[:fenceStart]
			if strings.TrimSpace(before) != "" {
				out = append(out, before)
			}
			b.buf = b.buf[fenceStart:]
			b.inFence = true
			b.fenceMarker = marker
			continue
		}

		break
	}

	// Latency guard: a long buffer ending in a newline flushes up to
	// its last paragraph boundary, or entirely when there is none.
	if !b.inFence && len(b.buf) >= b.latencyChars && strings.HasSuffix(b.buf, "\n") {
		if last := strings.LastIndex(b.buf, "\n\n"); last != -1 {
			out = append(out, b.buf[:last+2])
			b.buf = b.buf[last+2:]
		} else {
			out = append(out, b.buf)
			b.buf = ""
		}
	}

	return out
}

// Flush returns whatever remains buffered and resets the buffer. An
// unterminated fence is auto-closed so the renderer never sees a
// dangling code block.
func (b *MarkdownBuffer) Flush() string {
	rest := b.buf
	if b.inFence && rest != "" {
		if !strings.HasSuffix(rest, "\n") {
			rest += "\n"
		}
		rest += b.fenceMarker + "\n"
	}
	b.buf = ""
	b.inFence = false
	b.fenceMarker = ""
	return rest
}

// takeFencedBlock scans for a closing fence line past the opening one.
// Only complete lines count; a partial trailing line waits for more
// input.
func (b *MarkdownBuffer) takeFencedBlock() (block, rest string, closed bool) {
	offset := 0
	lineNo := 0
	for {
		nl := strings.Index(b.buf[offset:], "\n")
		if nl == -1 {
			return "", "", false
		}
		lineEnd := offset + nl + 1
		line := b.buf[offset:lineEnd]
		if lineNo != 0 && strings.HasPrefix(strings.TrimLeft(line, " \t"), b.fenceMarker) {
			return b.buf[:lineEnd], b.buf[lineEnd:], true
		}
		offset = lineEnd
		lineNo++
	}
}

// findFenceLine returns the byte offset of the first complete line
// that opens a fence, with its marker, or -1.
func findFenceLine(s string) (int, string) {
	offset := 0
	for {
		nl := strings.Index(s[offset:], "\n")
		if nl == -1 {
			return -1, ""
		}
		line := s[offset : offset+nl+1]
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "```") {
			return offset, "```"
		}
		if strings.HasPrefix(trimmed, "~~~") {
			return offset, "~~~"
		}
		offset += nl + 1
	}
}

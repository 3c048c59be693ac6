package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"
)

// ProgressReporter prints tool activity to stderr so it never mixes
// with the assistant's stdout text. Implements the engine's reporter.
type ProgressReporter struct {
	w       io.Writer
	enabled bool
}

// NewProgressReporter reports to stderr when it is a terminal, and
// stays silent otherwise so piped output remains clean.
func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{
		w:       os.Stderr,
		enabled: term.IsTerminal(int(os.Stderr.Fd())),
	}
}

func (r *ProgressReporter) RoundStarted(round int) {}

func (r *ProgressReporter) ToolStarted(callID, name string) {
	if !r.enabled {
		return
	}
	fmt.Fprintf(r.w, "* running %s\n", name)
}

func (r *ProgressReporter) ToolFinished(callID, name string, ok bool, elapsed time.Duration) {
	if !r.enabled {
		return
	}
	status := "done"
	if !ok {
		status = "failed"
	}
	fmt.Fprintf(r.w, "* %s %s (%s)\n", name, status, elapsed.Round(time.Millisecond))
}

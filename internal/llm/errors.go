package llm

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when both the stream and the
// non-streaming fallback produced no text and no tool calls.
var ErrEmptyResponse = errors.New("model returned an empty response")

// TransportError wraps a provider failure (connection, HTTP status,
// malformed stream). The engine never retries these itself.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RoundLimitError is returned when the model keeps requesting tools
// past the configured round limit.
type RoundLimitError struct {
	Limit int
}

func (e *RoundLimitError) Error() string {
	return fmt.Sprintf("tool loop exceeded %d rounds", e.Limit)
}

// RequiredToolDeniedError is returned when tool choice is required and
// the user denies the call; the turn cannot make progress.
type RequiredToolDeniedError struct {
	Tool string
}

func (e *RequiredToolDeniedError) Error() string {
	return fmt.Sprintf("required tool %s denied by user", e.Tool)
}

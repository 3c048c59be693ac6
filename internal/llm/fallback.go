package llm

import (
	"context"
	"io"
)

// roundOutcome is what one model round produced, whether it came from
// the stream or from the non-streaming fallback.
type roundOutcome struct {
	text     string
	calls    []ToolCall
	usage    Usage
	hasUsage bool
}

func (o *roundOutcome) empty() bool {
	return o.text == "" && len(o.calls) == 0
}

// drainStream consumes a provider stream to completion, forwarding text
// deltas to sink and collecting tool-call fragments. Transport failures
// mid-stream surface as the returned error.
func drainStream(stream Stream, sink Sink) (*roundOutcome, error) {
	defer stream.Close()

	acc := NewToolCallAccumulator()
	outcome := &roundOutcome{}
	var text []byte

	for {
		event, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch event.Type {
		case EventTextDelta:
			if event.Text != "" {
				text = append(text, event.Text...)
				if sink != nil {
					sink.TextDelta(event.Text)
				}
			}
		case EventToolCallDelta:
			if event.Delta != nil {
				acc.Add(*event.Delta)
			}
		case EventUsage:
			if event.Use != nil {
				outcome.usage.Add(*event.Use)
				outcome.hasUsage = true
			}
		case EventDone:
			// Providers emit this before closing; nothing to do.
		}
	}

	outcome.text = string(text)
	outcome.calls = acc.Calls()
	return outcome, nil
}

// completeOnce runs the non-streaming fallback for a round whose stream
// came back empty. Called at most once per round; a second empty result
// is the caller's signal to fail with ErrEmptyResponse.
func completeOnce(ctx context.Context, provider Provider, req Request, sink Sink) (*roundOutcome, error) {
	completion, err := provider.Complete(ctx, req)
	if err != nil {
		return nil, &TransportError{Provider: provider.Name(), Err: err}
	}
	outcome := &roundOutcome{
		text:  completion.Text,
		calls: completion.ToolCalls,
	}
	if completion.Usage != nil {
		outcome.usage.Add(*completion.Usage)
		outcome.hasUsage = true
	}
	if outcome.text != "" && sink != nil {
		sink.TextDelta(outcome.text)
	}
	return outcome, nil
}

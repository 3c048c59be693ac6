package llm

import (
	"context"
	"io"
	"sync"
)

// eventStream is a channel-backed Stream fed by a producer goroutine.
// The producer's error (if any) is surfaced from Recv after the channel
// drains; context cancellation tears the producer down.
type eventStream struct {
	events chan Event
	cancel context.CancelFunc

	mu   sync.Mutex
	err  error
	done bool
}

// newEventStream starts produce in a goroutine and returns a Stream over
// the events it emits. The producer must return once its context is
// cancelled; the events channel is closed when it returns.
func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, 16),
		cancel: cancel,
	}
	go func() {
		defer close(s.events)
		err := produce(ctx, s.events)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	if s.done {
		return Event{}, io.EOF
	}
	event, ok := <-s.events
	if !ok {
		s.done = true
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return Event{}, err
		}
		return Event{}, io.EOF
	}
	if event.Type == EventError && event.Err != nil {
		return event, event.Err
	}
	return event, nil
}

func (s *eventStream) Close() error {
	s.cancel()
	// Drain so the producer is never stuck on a send.
	for range s.events {
	}
	return nil
}

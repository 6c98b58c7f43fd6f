// Package events implements the Event Emitter: a typed, ordered,
// backpressure-aware stream of session events. Grounded on the teacher's SSE
// write closure (internal/agents/stream.go's RunReActAgentStreamHandler,
// "data: " framing split on newlines, flusher.Flush() per frame), widened
// from a single untyped thought string to the orchestrator's full
// sessiontypes.Event vocabulary and reworked around a Sink interface so the
// same emitter drives both a live SSE response and an in-memory test
// recorder.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"agenticrag/internal/sessiontypes"
)

// Sink receives one framed event at a time. Implementations must not block
// indefinitely; a slow sink degrades the whole stream.
type Sink interface {
	Send(ev sessiontypes.Event) error
}

// SSESink writes events as Server-Sent-Events frames: an "event: <name>"
// line, one or more "data: " lines (JSON payload, split on newlines exactly
// like the teacher's write helper), then a blank line, flushing after each.
type SSESink struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSESink wraps an http.ResponseWriter. ok is false if the writer does
// not support flushing (streaming unsupported), mirroring the teacher's
// `flusher, ok := c.Response().Writer.(http.Flusher)` guard.
func NewSSESink(w http.ResponseWriter) (*SSESink, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &SSESink{w: w, flusher: flusher}, true
}

func (s *SSESink) Send(ev sessiontypes.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\n", ev.Name); err != nil {
		return err
	}
	for _, ln := range strings.Split(string(payload), "\n") {
		if _, err := fmt.Fprintf(s.w, "data: %s\n", ln); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(s.w, "\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// RecordingSink accumulates events in order, for orchestrator tests that
// assert on emission order without standing up an HTTP response.
type RecordingSink struct {
	Events []sessiontypes.Event
}

func (s *RecordingSink) Send(ev sessiontypes.Event) error {
	s.Events = append(s.Events, ev)
	return nil
}

// Emitter buffers events to a Sink on a dedicated goroutine. Per spec.md:
// the emitter must not buffer unboundedly, and when the sink can't keep up
// it drops `status` events before any other kind.
type Emitter struct {
	sink    Sink
	buf     chan sessiontypes.Event
	done    chan struct{}
	sendErr error
}

// NewEmitter starts the draining goroutine immediately. bufSize bounds how
// many non-status events may queue before Emit blocks (applying flow
// control back to the caller, per spec.md's backpressure contract).
func NewEmitter(sink Sink, bufSize int) *Emitter {
	if bufSize <= 0 {
		bufSize = 32
	}
	e := &Emitter{
		sink: sink,
		buf:  make(chan sessiontypes.Event, bufSize),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Emitter) run() {
	defer close(e.done)
	for ev := range e.buf {
		if err := e.sink.Send(ev); err != nil && e.sendErr == nil {
			e.sendErr = err
		}
	}
}

// Emit publishes one event. status events are dropped (never block) if the
// buffer is full; every other event kind blocks until there is room or ctx
// is cancelled, since losing a plan/tool/tokens/critique/complete/trace/done
// event would violate the stream's ordering/completeness guarantees.
func (e *Emitter) Emit(ctx context.Context, ev sessiontypes.Event) {
	if ev.Name == sessiontypes.EventStatus {
		select {
		case e.buf <- ev:
		default:
		}
		return
	}
	select {
	case e.buf <- ev:
	case <-ctx.Done():
	}
}

// Close stops accepting new events and waits for the buffered ones to
// drain to the sink, returning the first send error encountered if any.
func (e *Emitter) Close() error {
	close(e.buf)
	<-e.done
	return e.sendErr
}

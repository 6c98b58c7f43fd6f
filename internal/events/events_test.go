package events

import (
	"context"
	"testing"
	"time"

	"agenticrag/internal/sessiontypes"
)

func TestEmitter_PreservesOrderThroughRecordingSink(t *testing.T) {
	sink := &RecordingSink{}
	e := NewEmitter(sink, 8)

	ctx := context.Background()
	e.Emit(ctx, sessiontypes.Event{Name: sessiontypes.EventPlan})
	e.Emit(ctx, sessiontypes.Event{Name: sessiontypes.EventTool})
	e.Emit(ctx, sessiontypes.Event{Name: sessiontypes.EventCitations})
	e.Emit(ctx, sessiontypes.Event{Name: sessiontypes.EventTokens})
	e.Emit(ctx, sessiontypes.Event{Name: sessiontypes.EventCritique})
	e.Emit(ctx, sessiontypes.Event{Name: sessiontypes.EventComplete})
	e.Emit(ctx, sessiontypes.Event{Name: sessiontypes.EventTrace})
	e.Emit(ctx, sessiontypes.Event{Name: sessiontypes.EventDone})

	if err := e.Close(); err != nil {
		t.Fatalf("unexpected sink error: %v", err)
	}

	want := []sessiontypes.EventName{
		sessiontypes.EventPlan, sessiontypes.EventTool, sessiontypes.EventCitations,
		sessiontypes.EventTokens, sessiontypes.EventCritique, sessiontypes.EventComplete,
		sessiontypes.EventTrace, sessiontypes.EventDone,
	}
	if len(sink.Events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(sink.Events))
	}
	for i, name := range want {
		if sink.Events[i].Name != name {
			t.Errorf("event %d: expected %s, got %s", i, name, sink.Events[i].Name)
		}
	}
}

// blockingSink never drains, so the buffer fills and stays full.
type blockingSink struct {
	block chan struct{}
}

func (s *blockingSink) Send(ev sessiontypes.Event) error {
	<-s.block
	return nil
}

func TestEmitter_DropsStatusEventsUnderBackpressure(t *testing.T) {
	sink := &blockingSink{block: make(chan struct{})}
	e := NewEmitter(sink, 1)

	ctx := context.Background()
	// Keep the drain goroutine stuck sending this first event.
	e.Emit(ctx, sessiontypes.Event{Name: sessiontypes.EventStatus})

	// The next status event takes the single buffer slot (capacity 1); the
	// rest find it full. None of these status sends may block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			e.Emit(ctx, sessiontypes.Event{Name: sessiontypes.EventStatus})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("status emits blocked under backpressure, expected them to be dropped")
	}

	close(sink.block)
	if err := e.Close(); err != nil {
		t.Fatalf("unexpected sink error: %v", err)
	}
}

func TestEmitter_NonStatusEventsBlockUntilContextCancelled(t *testing.T) {
	sink := &blockingSink{block: make(chan struct{})}
	defer close(sink.block)
	e := NewEmitter(sink, 1)

	ctx := context.Background()
	e.Emit(ctx, sessiontypes.Event{Name: sessiontypes.EventPlan}) // taken by the drain goroutine, sink stuck on it
	e.Emit(ctx, sessiontypes.Event{Name: sessiontypes.EventPlan}) // fills the single buffer slot

	cctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	e.Emit(cctx, sessiontypes.Event{Name: sessiontypes.EventTool})
	if time.Since(start) < 40*time.Millisecond {
		t.Error("expected non-status emit to block until context cancellation")
	}
}

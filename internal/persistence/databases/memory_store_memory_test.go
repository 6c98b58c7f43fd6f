package databases

import (
	"context"
	"testing"

	"agenticrag/internal/persistence"
)

func TestMemMemoryStore_RecallOrdersBySimilarityAndFiltersThreshold(t *testing.T) {
	store := NewMemoryMemoryStore()
	ctx := context.Background()

	if err := store.AddSuccessfulPattern(ctx, "sess-1", nil, "how do I reset my password", "use the forgot-password link", []float32{1, 0}); err != nil {
		t.Fatalf("AddSuccessfulPattern close: %v", err)
	}
	if err := store.AddSuccessfulPattern(ctx, "sess-1", nil, "what's the weather", "I don't have that information", []float32{0, 1}); err != nil {
		t.Fatalf("AddSuccessfulPattern far: %v", err)
	}

	got, err := store.Recall(ctx, []float32{0.9, 0.1}, "sess-1", 5, 0.5)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 result above threshold, got %d: %#v", len(got), got)
	}
	if got[0].Kind != persistence.MemoryProcedural {
		t.Errorf("expected procedural kind, got %q", got[0].Kind)
	}
}

func TestMemMemoryStore_RecallScopesBySession(t *testing.T) {
	store := NewMemoryMemoryStore()
	ctx := context.Background()

	if err := store.AddSuccessfulPattern(ctx, "sess-a", nil, "q", "a", []float32{1, 0}); err != nil {
		t.Fatalf("AddSuccessfulPattern: %v", err)
	}

	got, err := store.Recall(ctx, []float32{1, 0}, "sess-b", 5, 0)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no results for a different session, got %d", len(got))
	}
}

func TestMemMemoryStore_Touch(t *testing.T) {
	store := NewMemoryMemoryStore()
	ctx := context.Background()

	if err := store.AddSuccessfulPattern(ctx, "sess-1", nil, "q", "a", []float32{1, 0}); err != nil {
		t.Fatalf("AddSuccessfulPattern: %v", err)
	}
	items, err := store.Recall(ctx, []float32{1, 0}, "sess-1", 5, 0)
	if err != nil || len(items) != 1 {
		t.Fatalf("Recall setup: items=%d err=%v", len(items), err)
	}
	if err := store.Touch(ctx, items[0].ID); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := store.Touch(ctx, "missing-id"); err == nil {
		t.Fatalf("expected error touching unknown id")
	}
}

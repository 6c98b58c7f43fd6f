package databases

import (
	"context"
	"testing"

	"agenticrag/internal/sessiontypes"
)

func TestMemSessionStore_SaveAndLoadTrace(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	if _, ok, err := store.LoadTrace(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected no trace for unknown session, got ok=%v err=%v", ok, err)
	}

	trace := sessiontypes.SessionTrace{SessionID: "s1", Mode: sessiontypes.ModeSync}
	if err := store.SaveTrace(ctx, trace); err != nil {
		t.Fatalf("SaveTrace: %v", err)
	}
	got, ok, err := store.LoadTrace(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("LoadTrace: ok=%v err=%v", ok, err)
	}
	if got.SessionID != "s1" || got.Mode != sessiontypes.ModeSync {
		t.Fatalf("unexpected trace: %#v", got)
	}
}

func TestMemSessionStore_SaveAndLoadFeatureOverrides(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	if _, ok, err := store.LoadFeatureOverrides(ctx, "s1"); err != nil || ok {
		t.Fatalf("expected no overrides before save, got ok=%v err=%v", ok, err)
	}

	threshold := 0.8
	overrides := sessiontypes.FeatureOverrides{CriticThreshold: &threshold}
	if err := store.SaveFeatureOverrides(ctx, "s1", overrides); err != nil {
		t.Fatalf("SaveFeatureOverrides: %v", err)
	}
	got, ok, err := store.LoadFeatureOverrides(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("LoadFeatureOverrides: ok=%v err=%v", ok, err)
	}
	if got.CriticThreshold == nil || *got.CriticThreshold != threshold {
		t.Fatalf("unexpected overrides: %#v", got)
	}
}

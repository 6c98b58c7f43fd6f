package retrieval

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"agenticrag/internal/objectstore"
	"agenticrag/internal/sessiontypes"
)

type fakeKB struct {
	hybridScores []float64
	vectorScores []float64
	hybridCalls  int
}

func (f *fakeKB) HybridSearch(_ context.Context, query string, k int) ([]sessiontypes.Reference, error) {
	f.hybridCalls++
	return scoredRefs("kb", f.hybridScores), nil
}

func (f *fakeKB) VectorSearch(_ context.Context, query string, k int) ([]sessiontypes.Reference, error) {
	return scoredRefs("vec", f.vectorScores), nil
}

func scoredRefs(prefix string, scores []float64) []sessiontypes.Reference {
	var out []sessiontypes.Reference
	for i, s := range scores {
		out = append(out, sessiontypes.Reference{
			ID:    fmt.Sprintf("%s-%d", prefix, i),
			Title: fmt.Sprintf("doc %d", i),
			Body:  fmt.Sprintf("body %d", i),
			Score: s,
		})
	}
	return out
}

func baseOpts() Options {
	return Options{TopK: 10, RerankerThreshold: 0.7, FallbackRerankerThreshold: 0.4, MinDocs: 1, WebResultsMax: 5}
}

func TestRun_PrimaryTierSucceedsAboveThreshold(t *testing.T) {
	kb := &fakeKB{hybridScores: []float64{0.9, 0.8, 0.3}}
	d := &Dispatcher{KB: kb}
	plan := sessiontypes.Plan{Steps: []sessiontypes.PlanStep{{Action: sessiontypes.ActionVectorSearch, Query: "q", K: 5}}}

	res := d.Run(context.Background(), plan, baseOpts(), false)

	if !res.Diagnostics.Succeeded {
		t.Fatal("expected success on primary tier")
	}
	if len(res.References) != 2 {
		t.Fatalf("expected 2 references above threshold, got %d", len(res.References))
	}
	if kb.hybridCalls != 1 {
		t.Errorf("expected hybrid search called once (relaxed tier reuses results), got %d", kb.hybridCalls)
	}
}

func TestRun_FallsBackToVectorWhenHybridBelowBothThresholds(t *testing.T) {
	kb := &fakeKB{hybridScores: []float64{0.2}, vectorScores: []float64{0.1, 0.05}}
	d := &Dispatcher{KB: kb}
	plan := sessiontypes.Plan{Steps: []sessiontypes.PlanStep{{Action: sessiontypes.ActionVectorSearch, Query: "q", K: 5}}}

	res := d.Run(context.Background(), plan, baseOpts(), false)

	if !res.Diagnostics.Succeeded {
		t.Fatal("expected success via pure vector tier")
	}
	if res.Diagnostics.FallbackReason != "pure vector, reranker bypassed" {
		t.Errorf("unexpected fallback reason: %s", res.Diagnostics.FallbackReason)
	}
	if len(res.References) != 2 {
		t.Fatalf("expected 2 references, got %d", len(res.References))
	}
}

func TestRun_EmptyWhenAllTiersExhausted(t *testing.T) {
	kb := &fakeKB{}
	d := &Dispatcher{KB: kb}
	plan := sessiontypes.Plan{Steps: []sessiontypes.PlanStep{{Action: sessiontypes.ActionVectorSearch, Query: "q", K: 5}}}

	res := d.Run(context.Background(), plan, baseOpts(), false)

	if res.Diagnostics.Succeeded {
		t.Fatal("expected failure when all tiers return nothing")
	}
	if len(res.References) != 0 {
		t.Fatalf("expected no references, got %d", len(res.References))
	}
}

func TestRun_OrdersByScoreDescThenIndexAsc(t *testing.T) {
	kb := &fakeKB{hybridScores: []float64{0.8, 0.95, 0.8}}
	d := &Dispatcher{KB: kb}
	plan := sessiontypes.Plan{Steps: []sessiontypes.PlanStep{{Action: sessiontypes.ActionVectorSearch, Query: "q", K: 5}}}

	res := d.Run(context.Background(), plan, baseOpts(), false)

	if len(res.References) != 3 {
		t.Fatalf("expected 3 refs, got %d", len(res.References))
	}
	if res.References[0].ID != "kb-1" {
		t.Errorf("expected highest score first, got %s", res.References[0].ID)
	}
	if res.References[1].ID != "kb-0" || res.References[2].ID != "kb-2" {
		t.Errorf("expected tie-break by original index ascending, got %v", []string{res.References[1].ID, res.References[2].ID})
	}
}

func TestRun_WebUnavailableRecordsActivityAndDiagnostics(t *testing.T) {
	kb := &fakeKB{hybridScores: []float64{0.9}}
	d := &Dispatcher{KB: kb}
	plan := sessiontypes.Plan{Steps: []sessiontypes.PlanStep{{Action: sessiontypes.ActionBoth, Query: "q", K: 5}}}

	res := d.Run(context.Background(), plan, baseOpts(), false)

	if !res.Diagnostics.WebUnavailable {
		t.Fatal("expected WebUnavailable true")
	}
	found := false
	for _, a := range res.Activity {
		if a.Type == "web_unavailable" {
			found = true
		}
	}
	if !found {
		t.Error("expected web_unavailable activity entry")
	}
}

func TestRun_LazyModeReturnsSummaryOnlyBodies(t *testing.T) {
	kb := &fakeKB{hybridScores: []float64{0.9, 0.8}}
	d := &Dispatcher{KB: kb}
	plan := sessiontypes.Plan{Steps: []sessiontypes.PlanStep{{Action: sessiontypes.ActionVectorSearch, Query: "q", K: 5}}}
	opt := baseOpts()
	opt.LazyRetrieval = true

	res := d.Run(context.Background(), plan, opt, false)

	if res.RetrievalMode != sessiontypes.ModeLazy {
		t.Fatalf("expected lazy mode, got %s", res.RetrievalMode)
	}
	for _, r := range res.References {
		if r.Body != "" {
			t.Errorf("expected empty body in lazy mode, got %q", r.Body)
		}
		if r.Summary == "" {
			t.Error("expected non-empty summary in lazy mode")
		}
	}
}

func TestHydrate_IsIdempotentPerReference(t *testing.T) {
	store := objectstore.NewMemoryStore()
	_, err := store.Put(context.Background(), "ref-1", strings.NewReader("full body text"), objectstore.PutOptions{})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	d := &Dispatcher{Store: store}

	refs := []sessiontypes.Reference{
		{ID: "r1", Summary: "short", Hydrate: &sessiontypes.HydrateHandle{Store: "memory", Key: "ref-1"}},
	}

	out1, err := d.Hydrate(context.Background(), refs, func(r sessiontypes.Reference) bool { return true })
	if err != nil {
		t.Fatalf("first hydrate: %v", err)
	}
	if out1[0].Body != "full body text" {
		t.Fatalf("expected hydrated body, got %q", out1[0].Body)
	}

	// Mutate the store to verify a second hydrate doesn't re-fetch.
	_, _ = store.Put(context.Background(), "ref-1", strings.NewReader("CHANGED"), objectstore.PutOptions{})
	out2, err := d.Hydrate(context.Background(), out1, func(r sessiontypes.Reference) bool { return true })
	if err != nil {
		t.Fatalf("second hydrate: %v", err)
	}
	if out2[0].Body != "full body text" {
		t.Errorf("expected idempotent hydration to keep original body, got %q", out2[0].Body)
	}
}

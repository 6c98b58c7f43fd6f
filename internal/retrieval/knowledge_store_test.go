package retrieval

import (
	"context"
	"testing"

	"agenticrag/internal/persistence/databases"
)

type fakeText struct {
	results []databases.SearchResult
}

func (f fakeText) Search(_ context.Context, query string, limit int) ([]databases.SearchResult, error) {
	return f.results, nil
}

type fakeVector struct {
	results []databases.VectorResult
}

func (f fakeVector) SimilaritySearch(_ context.Context, vector []float32, k int, filter map[string]string) ([]databases.VectorResult, error) {
	return f.results, nil
}

type fakeStoreEmbedder struct{}

func (fakeStoreEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (fakeStoreEmbedder) Name() string               { return "fake" }
func (fakeStoreEmbedder) Dimension() int             { return 2 }
func (fakeStoreEmbedder) Ping(context.Context) error { return nil }

func TestStore_VectorSearchMapsMetadataToReferences(t *testing.T) {
	s := Store{
		Vector: fakeVector{results: []databases.VectorResult{
			{ID: "a", Score: 0.9, Metadata: map[string]string{"title": "Doc A", "body": "content a"}},
		}},
		Embedder: fakeStoreEmbedder{},
	}

	refs, err := s.VectorSearch(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(refs) != 1 || refs[0].Title != "Doc A" || refs[0].Body != "content a" {
		t.Fatalf("unexpected refs: %#v", refs)
	}
}

func TestStore_HybridSearchMergesAndDedupsByID(t *testing.T) {
	s := Store{
		Text: fakeText{results: []databases.SearchResult{
			{ID: "a", Score: 0.95, Snippet: "keyword snippet"},
			{ID: "b", Score: 0.5, Snippet: "only in text"},
		}},
		Vector: fakeVector{results: []databases.VectorResult{
			{ID: "a", Score: 0.6, Metadata: map[string]string{"title": "Doc A", "body": "vector body"}},
		}},
		Embedder: fakeStoreEmbedder{},
	}

	refs, err := s.HybridSearch(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 merged references, got %d: %#v", len(refs), refs)
	}
	var found bool
	for _, r := range refs {
		if r.ID != "a" {
			continue
		}
		found = true
		if r.Score != 0.95 {
			t.Errorf("expected the higher of the two scores for \"a\" (keyword hit), got %v", r.Score)
		}
		if r.Body != "vector body" {
			t.Errorf("expected vector metadata body to win since it populated Body first, got %q", r.Body)
		}
	}
	if !found {
		t.Fatal("expected reference \"a\" to survive the merge")
	}
}

func TestStore_HybridSearchBreaksScoreTiesByIngestOrder(t *testing.T) {
	s := Store{
		Text: fakeText{results: []databases.SearchResult{
			{ID: "c", Score: 0.5, Snippet: "third"},
		}},
		Vector: fakeVector{results: []databases.VectorResult{
			{ID: "a", Score: 0.5, Metadata: map[string]string{"title": "Doc A"}},
			{ID: "b", Score: 0.5, Metadata: map[string]string{"title": "Doc B"}},
		}},
		Embedder: fakeStoreEmbedder{},
	}

	for i := 0; i < 20; i++ {
		refs, err := s.HybridSearch(context.Background(), "q", 5)
		if err != nil {
			t.Fatalf("HybridSearch: %v", err)
		}
		if len(refs) != 3 {
			t.Fatalf("expected 3 merged references, got %d: %#v", len(refs), refs)
		}
		got := []string{refs[0].ID, refs[1].ID, refs[2].ID}
		want := []string{"a", "b", "c"}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("run %d: expected ingest order %v for equal scores, got %v", i, want, got)
			}
		}
	}
}

package retrieval

import (
	"context"
	"sort"

	"agenticrag/internal/persistence/databases"
	"agenticrag/internal/rag/embedder"
	"agenticrag/internal/sessiontypes"
)

// Store implements KnowledgeSearcher against databases.Manager's full-text
// and vector backends: HybridSearch runs both and merges by score,
// VectorSearch runs the vector store alone. Grounded on the teacher's
// internal/sefii retrieval pipeline (embed query, similarity search, merge
// with keyword hits), wired to this spec's plain KnowledgeSearcher contract
// instead of sefii's chunk-graph model.
type Store struct {
	Text     databases.FullTextSearch
	Vector   databases.VectorStore
	Embedder embedder.Embedder
}

func (s Store) VectorSearch(ctx context.Context, query string, k int) ([]sessiontypes.Reference, error) {
	vecs, err := s.Embedder.EmbedBatch(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		return nil, err
	}
	hits, err := s.Vector.SimilaritySearch(ctx, vecs[0], k, nil)
	if err != nil {
		return nil, err
	}
	refs := make([]sessiontypes.Reference, 0, len(hits))
	for _, h := range hits {
		refs = append(refs, referenceFromMetadata(h.ID, h.Score, h.Metadata))
	}
	return refs, nil
}

func (s Store) HybridSearch(ctx context.Context, query string, k int) ([]sessiontypes.Reference, error) {
	vecRefs, vecErr := s.VectorSearch(ctx, query, k)
	textHits, textErr := s.Text.Search(ctx, query, k)
	if vecErr != nil && textErr != nil {
		return nil, vecErr
	}

	// byID holds the merged reference per id; order records the ingest
	// sequence (vecRefs first, then new ids from textHits) so the final
	// sort's tie-break is deterministic instead of relying on map
	// iteration order.
	byID := make(map[string]sessiontypes.Reference, len(vecRefs)+len(textHits))
	order := make([]string, 0, len(vecRefs)+len(textHits))
	for _, r := range vecRefs {
		if _, ok := byID[r.ID]; !ok {
			order = append(order, r.ID)
		}
		byID[r.ID] = r
	}
	for _, h := range textHits {
		ref, ok := byID[h.ID]
		if !ok {
			ref = referenceFromMetadata(h.ID, h.Score, h.Metadata)
			if ref.Body == "" {
				ref.Body = h.Snippet
			}
			order = append(order, h.ID)
		} else if h.Score > ref.Score {
			ref.Score = h.Score
		}
		byID[h.ID] = ref
	}

	merged := make([]sessiontypes.Reference, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if k > 0 && len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

func referenceFromMetadata(id string, score float64, metadata map[string]string) sessiontypes.Reference {
	return sessiontypes.Reference{
		ID:     id,
		Title:  metadata["title"],
		Body:   metadata["body"],
		URL:    metadata["url"],
		Score:  score,
		Source: sessiontypes.SourceKB,
	}
}

var _ KnowledgeSearcher = Store{}

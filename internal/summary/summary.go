// Package summary implements the Summary Selector: rank candidate
// SummaryItems by semantic similarity to the current question, falling back
// to recency when embeddings are unavailable. Grounded on the teacher's
// internal/rag/embedder/embedder.go (Embedder interface, cosine scoring) and
// internal/rag/retrieve/fusion.go's top-k/tie-break conventions.
package summary

import (
	"context"
	"sort"

	"agenticrag/internal/rag/embedder"
	"agenticrag/internal/sessiontypes"
)

// Mode records which selection strategy produced a Result.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeRecency  Mode = "recency"
)

// Stats reports selection telemetry per spec.md §4.3.
type Stats struct {
	Mode            Mode
	TotalCandidates int
	SelectedCount   int
	DiscardedCount  int
	UsedFallback    bool
	MaxScore        float64
	MinScore        float64
	MeanScore       float64
}

// Result is the Summary Selector's output: the chosen items plus stats.
type Result struct {
	Items []sessiontypes.SummaryItem
	Stats Stats
}

// Options configures Select.
type Options struct {
	K    int
	SMin float64 // similarity floor for Mode A
}

// Select ranks candidates by cosine similarity to the question (Mode A,
// semantic). If emb is nil or embedding the question/candidates fails,
// falls back to Mode B: the k most recent items by TurnEnd. Deterministic
// for fixed inputs and fixed embeddings.
func Select(ctx context.Context, question string, candidates []sessiontypes.SummaryItem, emb embedder.Embedder, opt Options) Result {
	if opt.K <= 0 {
		opt.K = len(candidates)
	}
	if emb == nil {
		return recencyFallback(candidates, opt.K, len(candidates))
	}

	qVecs, err := emb.EmbedBatch(ctx, []string{question})
	if err != nil || len(qVecs) == 0 {
		return recencyFallback(candidates, opt.K, len(candidates))
	}
	qVec := qVecs[0]

	// Reuse pre-computed embeddings where present; embed the rest in one call.
	missing := make([]int, 0, len(candidates))
	var missingTexts []string
	for i, c := range candidates {
		if len(c.Embedding) == 0 {
			missing = append(missing, i)
			missingTexts = append(missingTexts, c.Text)
		}
	}
	if len(missingTexts) > 0 {
		vecs, err := emb.EmbedBatch(ctx, missingTexts)
		if err != nil || len(vecs) != len(missingTexts) {
			return recencyFallback(candidates, opt.K, len(candidates))
		}
		for j, idx := range missing {
			candidates[idx].Embedding = vecs[j]
		}
	}

	type scored struct {
		item  sessiontypes.SummaryItem
		score float64
	}
	scoredItems := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		s := embedder.Cosine(qVec, c.Embedding)
		if s >= opt.SMin {
			scoredItems = append(scoredItems, scored{item: c, score: s})
		}
	}

	sort.SliceStable(scoredItems, func(i, j int) bool {
		if scoredItems[i].score != scoredItems[j].score {
			return scoredItems[i].score > scoredItems[j].score
		}
		return scoredItems[i].item.TurnEnd > scoredItems[j].item.TurnEnd
	})

	k := opt.K
	if k > len(scoredItems) {
		k = len(scoredItems)
	}
	selected := scoredItems[:k]

	items := make([]sessiontypes.SummaryItem, len(selected))
	var sum, max, min float64
	for i, s := range selected {
		items[i] = s.item
		sum += s.score
		if i == 0 || s.score > max {
			max = s.score
		}
		if i == 0 || s.score < min {
			min = s.score
		}
	}
	mean := 0.0
	if len(selected) > 0 {
		mean = sum / float64(len(selected))
	}

	return Result{
		Items: items,
		Stats: Stats{
			Mode:            ModeSemantic,
			TotalCandidates: len(candidates),
			SelectedCount:   len(items),
			DiscardedCount:  len(candidates) - len(items),
			UsedFallback:    false,
			MaxScore:        max,
			MinScore:        min,
			MeanScore:       mean,
		},
	}
}

func recencyFallback(candidates []sessiontypes.SummaryItem, k, total int) Result {
	ordered := append([]sessiontypes.SummaryItem(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].TurnEnd > ordered[j].TurnEnd })
	if k > len(ordered) {
		k = len(ordered)
	}
	items := ordered[:k]
	return Result{
		Items: items,
		Stats: Stats{
			Mode:            ModeRecency,
			TotalCandidates: total,
			SelectedCount:   len(items),
			DiscardedCount:  total - len(items),
			UsedFallback:    true,
		},
	}
}

// Package retrieval implements the Retrieval Dispatcher: tiered
// fail-isolated hybrid retrieval with reranker thresholds, web augmentation,
// and idempotent lazy hydration. Grounded on the teacher's
// internal/rag/retrieve/fusion.go (RRF fusion, diversify-by-doc tie-break),
// internal/rag/retrieve/rerank.go (Reranker interface), internal/rag/service
// (fail-isolated tiered search staging), and internal/web/web.go (the web
// search collaborator shape).
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"agenticrag/internal/llm"
	"agenticrag/internal/objectstore"
	"agenticrag/internal/sessiontypes"
)

// KnowledgeSearcher performs vector and hybrid (vector+keyword) search over
// the knowledge base. Score is the reranker-comparable relevance score; for
// VectorSearch (no reranker involved) it is the raw similarity.
type KnowledgeSearcher interface {
	HybridSearch(ctx context.Context, query string, k int) ([]sessiontypes.Reference, error)
	VectorSearch(ctx context.Context, query string, k int) ([]sessiontypes.Reference, error)
}

// WebMode selects how much content the web collaborator returns per result.
type WebMode string

const (
	WebModeSummary WebMode = "summary"
	WebModeFull    WebMode = "full"
)

// WebSearcher performs a web search, returning ranked results (provider
// rank order preserved).
type WebSearcher interface {
	Search(ctx context.Context, query string, mode WebMode, max int) ([]sessiontypes.Reference, error)
}

// Options configures one Dispatcher.Run call.
type Options struct {
	TopK                      int
	RerankerThreshold         float64
	FallbackRerankerThreshold float64
	MinDocs                   int
	LazyRetrieval             bool
	WebContextMaxTokens       int
	WebResultsMax             int
	WebMode                   WebMode
}

// Result is the Dispatcher's output per spec.md §4.6.
type Result struct {
	References     []sessiontypes.Reference
	ContextText    string
	WebContextText string
	WebResults     []sessiontypes.Reference
	Activity       []sessiontypes.ActivityStep
	Diagnostics    sessiontypes.RetrievalDiagnostics
	SummaryTokens  int
	RetrievalMode  sessiontypes.RetrievalMode
}

// Dispatcher wires a KnowledgeSearcher, an optional WebSearcher, and an
// optional ObjectStore for lazy-hydration bodies.
type Dispatcher struct {
	KB    KnowledgeSearcher
	Web   WebSearcher // nil if unconfigured
	Store objectstore.ObjectStore

	// hydrateMu serializes hydration per reference key so a second
	// revision on the same reference never re-hydrates concurrently.
	hydrateMu sync.Map // map[string]*sync.Mutex
	hydrated  sync.Map // map[string]bool — idempotency guard
}

// Run executes the plan's retrieval actions with tiered fallback and
// optional web augmentation, per spec.md §4.6.
func (d *Dispatcher) Run(ctx context.Context, p sessiontypes.Plan, opt Options, wantWeb bool) Result {
	var activity []sessiontypes.ActivityStep
	step := firstRetrievalStep(p)

	var refs []sessiontypes.Reference
	diag := sessiontypes.RetrievalDiagnostics{TierTimingsMs: map[string]int64{}}

	wantsKB := step.Action == sessiontypes.ActionVectorSearch || step.Action == sessiontypes.ActionBoth
	wantsWebFromPlan := step.Action == sessiontypes.ActionWebSearch || step.Action == sessiontypes.ActionBoth

	query := step.Query
	k := step.K
	if k <= 0 {
		k = opt.TopK
	}

	var kbActivity []sessiontypes.ActivityStep
	var webRefs []sessiontypes.Reference
	var webErr error

	if wantsKB && d.KB != nil {
		if wantsWebFromPlan || wantWeb {
			// Concurrent hybrid+web for a "both" step, per spec §5.
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				refs, kbActivity, diag = d.runTiers(gctx, query, k, opt)
				return nil
			})
			g.Go(func() error {
				if d.Web != nil {
					webRefs, webErr = d.Web.Search(gctx, query, opt.WebMode, opt.WebResultsMax)
				}
				return nil
			})
			_ = g.Wait()
		} else {
			refs, kbActivity, diag = d.runTiers(ctx, query, k, opt)
		}
	} else if wantsWebFromPlan && d.Web != nil {
		webRefs, webErr = d.Web.Search(ctx, query, opt.WebMode, opt.WebResultsMax)
	}
	activity = append(activity, kbActivity...)

	if (wantsWebFromPlan || wantWeb) && d.Web == nil {
		activity = append(activity, sessiontypes.ActivityStep{Type: "web_unavailable", Description: "web collaborator not configured"})
		diag.WebUnavailable = true
	} else if (wantsWebFromPlan || wantWeb) && d.Web != nil && webErr != nil {
		activity = append(activity, sessiontypes.ActivityStep{Type: "web_error", Description: webErr.Error()})
	}

	// Assign stable 1-based Index as ingest order across KB then web refs.
	for i := range refs {
		refs[i].Index = i + 1
	}
	for i := range webRefs {
		webRefs[i].Index = len(refs) + i + 1
	}

	webContext, trimmed := buildWebContext(webRefs, opt.WebContextMaxTokens)
	if trimmed {
		activity = append(activity, sessiontypes.ActivityStep{Type: "web_context_trimmed", Description: "web context truncated to token cap"})
	}

	mode := sessiontypes.ModeDirect
	summaryTokens := 0
	if opt.LazyRetrieval && len(refs) > 0 {
		mode = sessiontypes.ModeLazy
		for i := range refs {
			refs[i].Hydrated = false
			if refs[i].Summary == "" {
				refs[i].Summary = summarize(refs[i].Body)
			}
			summaryTokens += llm.EstimateTokens(refs[i].Summary)
			refs[i].Body = ""
		}
	}
	if len(refs) == 0 && len(webRefs) > 0 {
		mode = sessiontypes.ModeWebOnly
	}

	contextText := renderRefs(refs)
	if !diag.Succeeded && len(webRefs) == 0 {
		diag.Succeeded = false
		if diag.FallbackReason == "" {
			diag.FallbackReason = "no references and no web results"
		}
	} else {
		diag.Succeeded = diag.Succeeded || len(webRefs) > 0
	}

	return Result{
		References:     refs,
		ContextText:    contextText,
		WebContextText: webContext,
		WebResults:     webRefs,
		Activity:       activity,
		Diagnostics:    diag,
		SummaryTokens:  summaryTokens,
		RetrievalMode:  mode,
	}
}

// runTiers implements the 4-tier fail-isolated fallback chain.
func (d *Dispatcher) runTiers(ctx context.Context, query string, k int, opt Options) ([]sessiontypes.Reference, []sessiontypes.ActivityStep, sessiontypes.RetrievalDiagnostics) {
	var activity []sessiontypes.ActivityStep
	diag := sessiontypes.RetrievalDiagnostics{TierTimingsMs: map[string]int64{}}

	refs, err := d.KB.HybridSearch(ctx, query, k)
	if err != nil {
		activity = append(activity, sessiontypes.ActivityStep{Type: "retrieval_tier_error", Description: "primary hybrid: " + err.Error()})
	} else if ok, kept := aboveThreshold(refs, opt.RerankerThreshold, opt.MinDocs); ok {
		diag.Succeeded = true
		return orderByScore(kept), activity, diag
	} else {
		activity = append(activity, sessiontypes.ActivityStep{Type: "retrieval_tier_fallback", Description: "primary hybrid below threshold or min docs"})
	}

	// Relaxed hybrid reuses the same candidate set at a lower bar rather
	// than re-querying — the tiers differ by threshold, not by search.
	if err == nil {
		if ok, kept := aboveThreshold(refs, opt.FallbackRerankerThreshold, opt.MinDocs); ok {
			diag.Succeeded = true
			diag.FallbackReason = "relaxed reranker threshold"
			return orderByScore(kept), activity, diag
		}
		activity = append(activity, sessiontypes.ActivityStep{Type: "retrieval_tier_fallback", Description: "relaxed hybrid below threshold or min docs"})
	}

	refs, err = d.KB.VectorSearch(ctx, query, k)
	if err != nil {
		activity = append(activity, sessiontypes.ActivityStep{Type: "retrieval_tier_error", Description: "pure vector: " + err.Error()})
	} else if len(refs) > 0 {
		diag.Succeeded = true
		diag.FallbackReason = "pure vector, reranker bypassed"
		return orderByScore(refs), activity, diag
	}

	diag.Succeeded = false
	diag.FallbackReason = "all tiers exhausted"
	activity = append(activity, sessiontypes.ActivityStep{Type: "retrieval_empty", Description: "no references survived any tier"})
	return nil, activity, diag
}

func aboveThreshold(refs []sessiontypes.Reference, threshold float64, minDocs int) (bool, []sessiontypes.Reference) {
	var kept []sessiontypes.Reference
	for _, r := range refs {
		if r.Score >= threshold {
			kept = append(kept, r)
		}
	}
	if minDocs <= 0 {
		minDocs = 1
	}
	return len(kept) >= minDocs, kept
}

// orderByScore sorts by reranker score descending, ties by original index
// ascending, per spec.md §4.6.
func orderByScore(refs []sessiontypes.Reference) []sessiontypes.Reference {
	out := append([]sessiontypes.Reference(nil), refs...)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && less(out[j], out[j-1]) {
			out[j], out[j-1] = out[j-1], out[j]
			j--
		}
	}
	return out
}

func less(a, b sessiontypes.Reference) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Index < b.Index
}

func firstRetrievalStep(p sessiontypes.Plan) sessiontypes.PlanStep {
	for _, s := range p.Steps {
		if s.Action != sessiontypes.ActionAnswer {
			return s
		}
	}
	if len(p.Steps) > 0 {
		return p.Steps[0]
	}
	return sessiontypes.PlanStep{Action: sessiontypes.ActionVectorSearch}
}

func renderRefs(refs []sessiontypes.Reference) string {
	var b strings.Builder
	for i, r := range refs {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, r.Title, r.EffectiveBody())
	}
	return strings.TrimRight(b.String(), "\n")
}

func buildWebContext(refs []sessiontypes.Reference, maxTokens int) (string, bool) {
	if len(refs) == 0 {
		return "", false
	}
	var b strings.Builder
	for _, r := range refs {
		fmt.Fprintf(&b, "%s\n%s\n\n", r.Title, r.EffectiveBody())
	}
	text := strings.TrimRight(b.String(), "\n")
	if maxTokens <= 0 {
		return text, false
	}
	if llm.EstimateTokens(text) <= maxTokens {
		return text, false
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if llm.EstimateTokens(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo]), true
}

func summarize(body string) string {
	const cap = 400
	r := []rune(body)
	if len(r) <= cap {
		return body
	}
	return string(r[:cap]) + "…"
}

// Hydrate replaces summary-only bodies with full bodies for the selected
// reference IDs, fetching from the object store. Hydration is idempotent
// per reference and serialized: concurrent calls for the same reference ID
// block rather than double-fetching.
func (d *Dispatcher) Hydrate(ctx context.Context, refs []sessiontypes.Reference, selector func(sessiontypes.Reference) bool) ([]sessiontypes.Reference, error) {
	out := append([]sessiontypes.Reference(nil), refs...)
	for i := range out {
		if !selector(out[i]) || out[i].Hydrate == nil {
			continue
		}
		if done, _ := d.hydrated.Load(out[i].ID); done == true {
			continue
		}
		muAny, _ := d.hydrateMu.LoadOrStore(out[i].ID, &sync.Mutex{})
		mu := muAny.(*sync.Mutex)
		mu.Lock()
		if done, _ := d.hydrated.Load(out[i].ID); done != true {
			body, err := d.fetchBody(ctx, *out[i].Hydrate)
			if err != nil {
				mu.Unlock()
				return out, fmt.Errorf("hydrate %s: %w", out[i].ID, err)
			}
			out[i].Body = body
			out[i].Hydrated = true
			d.hydrated.Store(out[i].ID, true)
		}
		mu.Unlock()
	}
	return out, nil
}

func (d *Dispatcher) fetchBody(ctx context.Context, h sessiontypes.HydrateHandle) (string, error) {
	if d.Store == nil {
		return "", fmt.Errorf("no object store configured for handle store %q", h.Store)
	}
	rc, _, err := d.Store.Get(ctx, h.Key)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			b.Write(buf[:n])
		}
		if rerr != nil {
			break
		}
	}
	return b.String(), nil
}

// Package budget implements the Token Budgeter: given named text sections
// and per-section caps, truncate each to fit while preserving ordering
// priority. Grounded on the teacher's internal/llm/tokenizer.go
// (EstimateTokens heuristic, Tokenizer interface for provider-accurate
// counts) and internal/llm/context.go (model-specific context windows).
package budget

import (
	"context"
	"sort"

	"agenticrag/internal/llm"
)

// Estimator counts tokens for a model. ProviderEstimator uses a
// llm.TokenizableProvider's Tokenizer when one is registered; otherwise
// HeuristicEstimator (the default chosen by New(nil)) falls back to
// llm.EstimateTokens, a deterministic character heuristic.
type Estimator interface {
	EstimateTokens(ctx context.Context, text, modelID string) int
}

// HeuristicEstimator is the deterministic character→token fallback, used
// whenever no model-specific tokenizer is wired in.
type HeuristicEstimator struct{}

func (HeuristicEstimator) EstimateTokens(_ context.Context, text, _ string) int {
	return llm.EstimateTokens(text)
}

// ProviderEstimator delegates to a TokenizableProvider's Tokenizer when one
// is registered for modelID, falling back to the heuristic otherwise.
type ProviderEstimator struct {
	Providers map[string]llm.TokenizableProvider // keyed by model id
}

func (p ProviderEstimator) EstimateTokens(ctx context.Context, text, modelID string) int {
	if p.Providers != nil {
		if prov, ok := p.Providers[modelID]; ok && prov != nil {
			if n, err := prov.Tokenizer().CountTokens(ctx, text); err == nil {
				return n
			}
		}
	}
	return llm.EstimateTokens(text)
}

// Budgeter applies per-section token caps. Pure and idempotent: calling
// Apply twice on already-budgeted output returns the same output, since
// truncation never increases token count and an input already under cap is
// returned unchanged.
type Budgeter struct {
	Estimator Estimator
}

// New constructs a Budgeter. A nil estimator defaults to HeuristicEstimator{}.
func New(est Estimator) *Budgeter {
	if est == nil {
		est = HeuristicEstimator{}
	}
	return &Budgeter{Estimator: est}
}

// Apply truncates each named section to fit caps[name], suffix-dropping at a
// token (here, rune) boundary so the earliest content is preserved. Sections
// that are empty, or whose cap is <= 0, are dropped from the output
// entirely. Section order is not meaningful to this function — callers that
// need ordering priority pass an already-ordered caps map key set and read
// results back by name.
func (b *Budgeter) Apply(ctx context.Context, sections map[string]string, caps map[string]int, modelID string) map[string]string {
	out := make(map[string]string, len(sections))
	// Deterministic iteration for any side effects (e.g. future logging).
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		text := sections[name]
		cap := caps[name]
		if text == "" || cap <= 0 {
			continue
		}
		out[name] = b.truncateToTokenCap(ctx, text, cap, modelID)
	}
	return out
}

// truncateToTokenCap performs suffix-drop truncation: it binary-searches the
// longest rune prefix whose estimated token count fits the cap. Trimming
// operates on whole runes, and EstimateTokens is its own source of truth, so
// a single bisection converges quickly for the heuristic's linear behavior.
func (b *Budgeter) truncateToTokenCap(ctx context.Context, text string, cap int, modelID string) string {
	if b.Estimator.EstimateTokens(ctx, text, modelID) <= cap {
		return text
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	// Binary search the largest prefix length whose estimated tokens <= cap.
	for lo < hi {
		mid := (lo + hi + 1) / 2
		candidate := string(runes[:mid])
		if b.Estimator.EstimateTokens(ctx, candidate, modelID) <= cap {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}

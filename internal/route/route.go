// Package route implements the Intent Router: classify the latest user turn
// into one of a fixed intent set and select a routing profile from a static
// table. Grounded on the teacher's internal/agents/engine.go graceful-
// fallback idiom (parse the model's reply; on failure, fall back to a safe
// default rather than erroring the whole pipeline).
package route

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agenticrag/internal/config"
	"agenticrag/internal/llm"
	"agenticrag/internal/sessiontypes"
)

// Table maps an Intent to its RoutingProfile, built once from config.
type Table map[sessiontypes.Intent]sessiontypes.RoutingProfile

// NewTable builds a Table from the configured routing rows.
func NewTable(cfg config.RoutingTableConfig) Table {
	return Table{
		sessiontypes.IntentFAQ:           profileFrom(cfg.FAQ),
		sessiontypes.IntentFactual:       profileFrom(cfg.Factual),
		sessiontypes.IntentResearch:      profileFrom(cfg.Research),
		sessiontypes.IntentConversational: profileFrom(cfg.Conversational),
	}
}

func profileFrom(r config.RouteConfig) sessiontypes.RoutingProfile {
	return sessiontypes.RoutingProfile{
		ModelID:           r.Model,
		MaxOutputTokens:   r.MaxTokens,
		RetrieverStrategy: sessiontypes.RetrieverStrategy(r.RetrieverStrategy),
	}
}

// DefaultProfile is returned whenever classification fails, is disabled, or
// times out: a research-like profile with the broadest retrieval strategy
// and the largest token cap, since under-routing is safer than
// under-retrieving.
func DefaultProfile(tbl Table) sessiontypes.RoutingProfile {
	if p, ok := tbl[sessiontypes.IntentResearch]; ok {
		return p
	}
	return sessiontypes.RoutingProfile{
		ModelID:           "default",
		MaxOutputTokens:   2048,
		RetrieverStrategy: sessiontypes.StrategyHybridWeb,
	}
}

// Router classifies intent via an llm.Provider chat call.
type Router struct {
	Provider llm.Provider
	Table    Table
	Model    string // model used for classification itself
	Enabled  bool
}

type classification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

var validIntents = map[string]sessiontypes.Intent{
	"faq":            sessiontypes.IntentFAQ,
	"factual":        sessiontypes.IntentFactual,
	"research":       sessiontypes.IntentResearch,
	"conversational": sessiontypes.IntentConversational,
}

// Classify returns a RouteDecision for the last maxRecent messages of
// history (all of it when maxRecent <= 0). On any failure (disabled,
// provider error, unparseable/invalid output) it returns the default
// profile with Confidence 0 and a Reasoning string explaining why.
func (r Router) Classify(ctx context.Context, history []sessiontypes.Message, maxRecent int) sessiontypes.RouteDecision {
	if !r.Enabled {
		return sessiontypes.RouteDecision{
			Intent:     sessiontypes.IntentResearch,
			Confidence: 0,
			Reasoning:  "intent routing disabled",
			Profile:    DefaultProfile(r.Table),
		}
	}

	window := history
	if maxRecent > 0 && len(window) > maxRecent {
		window = window[len(window)-maxRecent:]
	}

	msgs := []llm.Message{{Role: "system", Content: classifyPrompt}}
	for _, m := range window {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}

	resp, err := r.Provider.Chat(ctx, msgs, nil, r.Model)
	if err != nil {
		return r.fallback(fmt.Sprintf("classification call failed: %v", err))
	}

	cls, ok := parseClassification(resp.Content)
	if !ok {
		return r.fallback("classification reply was not parseable")
	}

	intent, ok := validIntents[strings.ToLower(strings.TrimSpace(cls.Intent))]
	if !ok {
		return r.fallback(fmt.Sprintf("classification returned unknown intent %q", cls.Intent))
	}

	profile, ok := r.Table[intent]
	if !ok {
		profile = DefaultProfile(r.Table)
	}

	return sessiontypes.RouteDecision{
		Intent:     intent,
		Confidence: clamp01(cls.Confidence),
		Reasoning:  cls.Reasoning,
		Profile:    profile,
	}
}

func (r Router) fallback(reason string) sessiontypes.RouteDecision {
	return sessiontypes.RouteDecision{
		Intent:     sessiontypes.IntentResearch,
		Confidence: 0,
		Reasoning:  reason,
		Profile:    DefaultProfile(r.Table),
	}
}

// parseClassification extracts a JSON object from the model's reply,
// tolerating surrounding prose or a fenced code block.
func parseClassification(raw string) (classification, bool) {
	raw = strings.TrimSpace(raw)
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return classification{}, false
	}
	var c classification
	if err := json.Unmarshal([]byte(raw[start:end+1]), &c); err != nil {
		return classification{}, false
	}
	return c, true
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

const classifyPrompt = `Classify the latest user message into exactly one of: faq, factual, research, conversational.
Respond with a single JSON object: {"intent": "...", "confidence": 0.0-1.0, "reasoning": "..."}. No other text.`

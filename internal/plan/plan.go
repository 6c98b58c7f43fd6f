// Package plan implements the Planner: produce a structured, ordered Plan
// of retrieval/answer steps from the question, compacted context, and
// routing profile. Grounded on the teacher's internal/rag/retrieve/query.go
// (QueryPlan shape) and the same parse-with-fallback idiom used by
// internal/route.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agenticrag/internal/llm"
	"agenticrag/internal/sessiontypes"
)

// Planner produces Plans via an llm.Provider chat call.
type Planner struct {
	Provider llm.Provider
}

type rawStep struct {
	Action string `json:"action"`
	Query  string `json:"query"`
	K      int    `json:"k"`
}

type rawPlan struct {
	Confidence float64   `json:"confidence"`
	Steps      []rawStep `json:"steps"`
}

// Plan produces a validated Plan for the given question, compacted context,
// and routing profile. On any malformed-output condition (provider error,
// unparseable JSON, or a structurally invalid plan) it returns the
// single-step heuristic fallback required by spec.md §4.5: one step whose
// action mirrors the profile's retriever strategy, confidence 0.4.
func (p Planner) Plan(ctx context.Context, question string, compacted sessiontypes.CompactedContext, profile sessiontypes.RoutingProfile) sessiontypes.Plan {
	msgs := []llm.Message{
		{Role: "system", Content: planPrompt},
		{Role: "user", Content: renderPlanningInput(question, compacted)},
	}

	resp, err := p.Provider.Chat(ctx, msgs, nil, profile.ModelID)
	if err != nil {
		return fallbackPlan(question, profile)
	}

	rp, ok := parsePlan(resp.Content)
	if !ok {
		return fallbackPlan(question, profile)
	}

	steps := make([]sessiontypes.PlanStep, 0, len(rp.Steps))
	for _, s := range rp.Steps {
		steps = append(steps, sessiontypes.PlanStep{
			Action: sessiontypes.PlanStepAction(s.Action),
			Query:  s.Query,
			K:      s.K,
		})
	}

	out := sessiontypes.Plan{Confidence: clamp01(rp.Confidence), Steps: steps}
	if !valid(out) {
		return fallbackPlan(question, profile)
	}
	return out
}

// valid checks the invariants from spec.md §4.5: steps non-empty, only the
// last step may be "answer", every non-answer step has a non-empty query.
func valid(p sessiontypes.Plan) bool {
	if len(p.Steps) == 0 {
		return false
	}
	for i, s := range p.Steps {
		isAnswer := s.Action == sessiontypes.ActionAnswer
		if isAnswer && i != len(p.Steps)-1 {
			return false
		}
		if !isAnswer && strings.TrimSpace(s.Query) == "" {
			return false
		}
		switch s.Action {
		case sessiontypes.ActionVectorSearch, sessiontypes.ActionWebSearch, sessiontypes.ActionBoth, sessiontypes.ActionAnswer:
		default:
			return false
		}
	}
	return true
}

func fallbackPlan(question string, profile sessiontypes.RoutingProfile) sessiontypes.Plan {
	action := sessiontypes.ActionVectorSearch
	switch profile.RetrieverStrategy {
	case sessiontypes.StrategyHybridWeb:
		action = sessiontypes.ActionBoth
	case sessiontypes.StrategyHybrid, sessiontypes.StrategyVector:
		action = sessiontypes.ActionVectorSearch
	}
	return sessiontypes.Plan{
		Confidence: 0.4,
		Steps: []sessiontypes.PlanStep{
			{Action: action, Query: question, K: 8},
		},
	}
}

func renderPlanningInput(question string, compacted sessiontypes.CompactedContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	if compacted.SummaryText != "" {
		fmt.Fprintf(&b, "Conversation summary:\n%s\n\n", compacted.SummaryText)
	}
	if compacted.SalienceText != "" {
		fmt.Fprintf(&b, "Known facts:\n%s\n\n", compacted.SalienceText)
	}
	if compacted.HistoryText != "" {
		fmt.Fprintf(&b, "Recent turns:\n%s\n", compacted.HistoryText)
	}
	return b.String()
}

func parsePlan(raw string) (rawPlan, bool) {
	raw = strings.TrimSpace(raw)
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return rawPlan{}, false
	}
	var rp rawPlan
	if err := json.Unmarshal([]byte(raw[start:end+1]), &rp); err != nil {
		return rawPlan{}, false
	}
	return rp, true
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

const planPrompt = `Produce a JSON plan to answer the question using retrieval steps followed by an optional final answer step.
Respond with a single JSON object: {"confidence": 0.0-1.0, "steps": [{"action": "vector_search"|"web_search"|"both"|"answer", "query": "...", "k": 8}]}.
Only the last step may use action "answer". Every other step must have a non-empty query. No other text.`

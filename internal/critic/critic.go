// Package critic implements the Critic: evaluate a draft answer for
// grounding and coverage against the cited evidence, deciding accept or
// revise. Grounded on the same parse-with-fallback idiom as internal/route
// and internal/plan, specialized per spec.md §4.8's force-accept-on-ceiling
// rule to prevent infinite critique loops.
package critic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agenticrag/internal/llm"
	"agenticrag/internal/sessiontypes"
)

// Critic evaluates drafts via an llm.Provider chat call.
type Critic struct {
	Provider  llm.Provider
	Model     string
	Threshold float64
}

type rawReport struct {
	Grounded bool     `json:"grounded"`
	Coverage float64  `json:"coverage"`
	Issues   []string `json:"issues"`
}

// Evaluate returns a CriticReport for the given draft, evidence, and
// question. isFinalAttempt must be true exactly when attempt ==
// CRITIC_MAX_RETRIES, so a parse failure on the last allowed attempt
// force-accepts instead of looping forever.
func (c Critic) Evaluate(ctx context.Context, draft, evidence, question string, isFinalAttempt bool) sessiontypes.CriticReport {
	msgs := []llm.Message{
		{Role: "system", Content: criticPrompt},
		{Role: "user", Content: renderCriticInput(draft, evidence, question)},
	}

	resp, err := c.Provider.Chat(ctx, msgs, nil, c.Model)
	if err != nil {
		return c.parseFailureReport(isFinalAttempt)
	}

	rr, ok := parseReport(resp.Content)
	if !ok {
		return c.parseFailureReport(isFinalAttempt)
	}

	report := sessiontypes.CriticReport{
		Grounded: rr.Grounded,
		Coverage: clamp01(rr.Coverage),
		Issues:   rr.Issues,
	}
	if report.Grounded && report.Coverage >= c.Threshold {
		report.Action = sessiontypes.CriticAccept
	} else {
		report.Action = sessiontypes.CriticRevise
	}
	return report
}

// parseFailureReport implements spec.md §4.8's parse-failure semantics:
// force-accept on the final attempt, revise-with-zero-coverage otherwise.
func (c Critic) parseFailureReport(isFinalAttempt bool) sessiontypes.CriticReport {
	if isFinalAttempt {
		return sessiontypes.CriticReport{
			Grounded: true,
			Coverage: 1.0,
			Action:   sessiontypes.CriticAccept,
			Forced:   true,
		}
	}
	return sessiontypes.CriticReport{
		Grounded: false,
		Coverage: 0,
		Action:   sessiontypes.CriticRevise,
		Issues:   []string{"critic output was not parseable"},
	}
}

func renderCriticInput(draft, evidence, question string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	fmt.Fprintf(&b, "Draft answer:\n%s\n\n", draft)
	fmt.Fprintf(&b, "Evidence (cited bodies):\n%s\n", evidence)
	return b.String()
}

func parseReport(raw string) (rawReport, bool) {
	raw = strings.TrimSpace(raw)
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return rawReport{}, false
	}
	var rr rawReport
	if err := json.Unmarshal([]byte(raw[start:end+1]), &rr); err != nil {
		return rawReport{}, false
	}
	return rr, true
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

const criticPrompt = `Evaluate whether the draft answer is grounded in the evidence and how much of the question it covers.
"grounded" means every factual sentence is supported by at least one citation whose body contains the claim.
"coverage" is the fraction (0.0-1.0) of the question's sub-claims the draft addresses.
Respond with a single JSON object: {"grounded": true|false, "coverage": 0.0-1.0, "issues": ["..."]}. No other text.`

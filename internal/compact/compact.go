// Package compact implements the Context Compactor: it partitions message
// history into recent verbatim turns plus summarized/salience-extracted
// older turns, then applies the Token Budgeter. Grounded on the teacher's
// internal/llm/compaction.go (the summarization-provider shape, generalized
// from the Responses-API-specific CompactionItem to a plain llm.Provider
// chat call) and on the threshold/keep-recent split found in the pack's
// internal/engine/compactor.go (other_examples).
package compact

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"agenticrag/internal/budget"
	"agenticrag/internal/llm"
	"agenticrag/internal/sessiontypes"
)

// Summarizer produces a summary for a window of messages and extracts
// durable facts ("salience") from them. Backed by an llm.Provider chat call
// in production; trivially fakeable in tests.
type Summarizer interface {
	Summarize(ctx context.Context, window []sessiontypes.Message, model string) (string, error)
	ExtractSalience(ctx context.Context, window []sessiontypes.Message, model string) ([]string, error)
}

// ProviderSummarizer implements Summarizer against an llm.Provider.
type ProviderSummarizer struct {
	Provider llm.Provider
}

func (s ProviderSummarizer) Summarize(ctx context.Context, window []sessiontypes.Message, model string) (string, error) {
	prompt := renderWindow(window)
	msgs := []llm.Message{
		{Role: "system", Content: "Summarize the following conversation turns concisely, preserving key facts, decisions, and open tasks. Output only the summary text."},
		{Role: "user", Content: prompt},
	}
	resp, err := s.Provider.Chat(ctx, msgs, nil, model)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

func (s ProviderSummarizer) ExtractSalience(ctx context.Context, window []sessiontypes.Message, model string) ([]string, error) {
	prompt := renderWindow(window)
	msgs := []llm.Message{
		{Role: "system", Content: "List durable facts worth remembering from this conversation (named entities, stable preferences, commitments). One fact per line, no numbering, no commentary."},
		{Role: "user", Content: prompt},
	}
	resp, err := s.Provider.Chat(ctx, msgs, nil, model)
	if err != nil {
		return nil, fmt.Errorf("extract salience: %w", err)
	}
	var facts []string
	for _, line := range strings.Split(resp.Content, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			facts = append(facts, line)
		}
	}
	return facts, nil
}

func renderWindow(window []sessiontypes.Message) string {
	var b strings.Builder
	for _, m := range window {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// SelectorFunc narrows the full set of candidate summaries down to the ones
// worth rendering this turn, e.g. internal/summary's semantic ranking
// against the current question. A nil return defers to Compact's own
// recency-based cap (MaxSummaryItems).
type SelectorFunc func(ctx context.Context, question string, candidates []sessiontypes.SummaryItem) []sessiontypes.SummaryItem

// Options configures Compact.
type Options struct {
	MaxRecentTurns   int
	MaxSummaryItems  int
	MaxSalienceItems int
	WindowSize       int // messages per summarization window
	Caps             map[string]int // caps["history"|"summary"|"salience"]
	Model            string
	Question         string       // only needed when Selector is set
	Selector         SelectorFunc // optional: internal/summary.Select, wired when semantic summary selection is enabled
}

// Compact implements spec.md §4.2's algorithm.
func Compact(ctx context.Context, history []sessiontypes.Message, opt Options, summarizer Summarizer, bdg *budget.Budgeter, priorSummaries []sessiontypes.SummaryItem, priorSalience []sessiontypes.SalienceNote) (sessiontypes.CompactedContext, error) {
	if opt.WindowSize <= 0 {
		opt.WindowSize = 6
	}
	maxRecent := opt.MaxRecentTurns
	if maxRecent <= 0 || maxRecent > len(history) {
		maxRecent = len(history)
	}

	splitIdx := len(history) - maxRecent
	if splitIdx < 0 {
		splitIdx = 0
	}
	recent := append([]sessiontypes.Message(nil), history[splitIdx:]...)
	candidates := history[:splitIdx]

	var summaries []sessiontypes.SummaryItem
	var salience []sessiontypes.SalienceNote

	for start := 0; start < len(candidates); start += opt.WindowSize {
		end := start + opt.WindowSize
		if end > len(candidates) {
			end = len(candidates)
		}
		window := candidates[start:end]
		if len(window) == 0 {
			continue
		}
		text, err := summarizer.Summarize(ctx, window, opt.Model)
		if err != nil {
			// Non-fatal: heuristic fallback per spec §7 (planner/critic/router
			// parse failure is non-fatal; summarization failure is analogous).
			text = fallbackSummary(window)
		}
		summaries = append(summaries, sessiontypes.SummaryItem{
			Text:      text,
			TurnStart: start,
			TurnEnd:   end - 1,
		})

		facts, err := summarizer.ExtractSalience(ctx, window, opt.Model)
		if err == nil {
			for _, f := range facts {
				salience = append(salience, sessiontypes.SalienceNote{Fact: f, LastSeenTurn: end - 1})
			}
		}
	}

	summaries = append(priorSummaries, summaries...)
	salience = dedupeSalience(append(priorSalience, salience...))

	if opt.Selector != nil {
		if sel := opt.Selector(ctx, opt.Question, summaries); sel != nil {
			summaries = sel
		} else {
			summaries = capSummariesByRecency(summaries, opt.MaxSummaryItems)
		}
	} else {
		summaries = capSummariesByRecency(summaries, opt.MaxSummaryItems)
	}

	sort.SliceStable(salience, func(i, j int) bool {
		if salience[i].LastSeenTurn != salience[j].LastSeenTurn {
			return salience[i].LastSeenTurn > salience[j].LastSeenTurn
		}
		return i < j
	})

	if opt.MaxSalienceItems > 0 && len(salience) > opt.MaxSalienceItems {
		salience = salience[:opt.MaxSalienceItems]
	}

	historyText := renderWindow(recent)
	summaryText := renderSummaries(summaries)
	salienceText := renderSalience(salience)

	budgeted := bdg.Apply(ctx, map[string]string{
		"history":  historyText,
		"summary":  summaryText,
		"salience": salienceText,
	}, opt.Caps, opt.Model)

	return sessiontypes.CompactedContext{
		HistoryText:    budgeted["history"],
		SummaryText:    budgeted["summary"],
		SalienceText:   budgeted["salience"],
		RecentMessages: recent,
		Budget: sessiontypes.ContextBudget{
			HistoryTokens:  llm.EstimateTokens(budgeted["history"]),
			SummaryTokens:  llm.EstimateTokens(budgeted["summary"]),
			SalienceTokens: llm.EstimateTokens(budgeted["salience"]),
		},
	}, nil
}

// capSummariesByRecency orders by TurnStart and keeps the most recent
// MaxSummaryItems (0 means unbounded).
func capSummariesByRecency(summaries []sessiontypes.SummaryItem, max int) []sessiontypes.SummaryItem {
	sort.SliceStable(summaries, func(i, j int) bool { return summaries[i].TurnStart < summaries[j].TurnStart })
	if max > 0 && len(summaries) > max {
		summaries = summaries[len(summaries)-max:]
	}
	return summaries
}

// dedupeSalience keeps the newest lastSeenTurn per distinct fact.
func dedupeSalience(notes []sessiontypes.SalienceNote) []sessiontypes.SalienceNote {
	best := make(map[string]sessiontypes.SalienceNote, len(notes))
	order := make([]string, 0, len(notes))
	for _, n := range notes {
		if existing, ok := best[n.Fact]; !ok || n.LastSeenTurn > existing.LastSeenTurn {
			if !ok {
				order = append(order, n.Fact)
			}
			best[n.Fact] = n
		}
	}
	out := make([]sessiontypes.SalienceNote, 0, len(order))
	for _, fact := range order {
		out = append(out, best[fact])
	}
	return out
}

func fallbackSummary(window []sessiontypes.Message) string {
	return "[unsummarized turns] " + renderWindow(window)
}

func renderSummaries(items []sessiontypes.SummaryItem) string {
	var b strings.Builder
	for _, s := range items {
		fmt.Fprintf(&b, "- %s\n", s.Text)
	}
	return b.String()
}

func renderSalience(notes []sessiontypes.SalienceNote) string {
	var b strings.Builder
	for _, n := range notes {
		fmt.Fprintf(&b, "- %s\n", n.Fact)
	}
	return b.String()
}

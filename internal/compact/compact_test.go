package compact

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenticrag/internal/budget"
	"agenticrag/internal/sessiontypes"
)

// fakeSummarizer is deterministic: it never calls out to a model, so tests
// stay fast and reproducible.
type fakeSummarizer struct {
	failSummarize bool
}

func (f fakeSummarizer) Summarize(_ context.Context, window []sessiontypes.Message, _ string) (string, error) {
	if f.failSummarize {
		return "", fmt.Errorf("boom")
	}
	return fmt.Sprintf("summary of %d turns", len(window)), nil
}

func (f fakeSummarizer) ExtractSalience(_ context.Context, window []sessiontypes.Message, _ string) ([]string, error) {
	var facts []string
	for _, m := range window {
		if m.Role == sessiontypes.RoleUser {
			facts = append(facts, "user said: "+m.Content)
		}
	}
	return facts, nil
}

func makeHistory(n int) []sessiontypes.Message {
	var msgs []sessiontypes.Message
	for i := 0; i < n; i++ {
		role := sessiontypes.RoleUser
		if i%2 == 1 {
			role = sessiontypes.RoleAssistant
		}
		msgs = append(msgs, sessiontypes.Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}
	return msgs
}

func TestCompact_PartitionsRecentVerbatim(t *testing.T) {
	history := makeHistory(20)
	opt := Options{MaxRecentTurns: 4, WindowSize: 4, Model: "gpt-4", Caps: map[string]int{"history": 1000, "summary": 1000, "salience": 1000}}
	bdg := budget.New(nil)

	out, err := Compact(context.Background(), history, opt, fakeSummarizer{}, bdg, nil, nil)
	require.NoError(t, err)

	require.Len(t, out.RecentMessages, 4)
	assert.Equal(t, "turn 16", out.RecentMessages[0].Content)
	assert.Equal(t, "turn 19", out.RecentMessages[3].Content)
}

func TestCompact_SummaryWindowsAreDisjointAndOrdered(t *testing.T) {
	history := makeHistory(13)
	opt := Options{MaxRecentTurns: 1, WindowSize: 5, Model: "gpt-4", Caps: map[string]int{"history": 1000, "summary": 1000, "salience": 1000}}
	bdg := budget.New(nil)

	out, err := Compact(context.Background(), history, opt, fakeSummarizer{}, bdg, nil, nil)
	require.NoError(t, err)

	assert.Contains(t, out.SummaryText, "summary of 5 turns")
	assert.Contains(t, out.SummaryText, "summary of 2 turns")
}

func TestCompact_SalienceDedupedKeepsNewestLastSeenTurn(t *testing.T) {
	prior := []sessiontypes.SalienceNote{
		{Fact: "likes dark mode", LastSeenTurn: 2},
	}
	history := makeHistory(6)
	opt := Options{MaxRecentTurns: 0, WindowSize: 6, Model: "gpt-4", Caps: map[string]int{"history": 1000, "summary": 1000, "salience": 1000}}
	bdg := budget.New(nil)

	fresh := []sessiontypes.SalienceNote{
		{Fact: "likes dark mode", LastSeenTurn: 5},
	}
	out, err := Compact(context.Background(), history, opt, fakeSummarizer{}, bdg, nil, append(prior, fresh...))
	require.NoError(t, err)

	count := 0
	for _, c := range []rune(out.SalienceText) {
		if c == '\n' {
			count++
		}
	}
	assert.Equal(t, 1, count, "deduped salience should collapse to a single line")
}

func TestCompact_SummarizeFailureFallsBackInsteadOfErroring(t *testing.T) {
	history := makeHistory(8)
	opt := Options{MaxRecentTurns: 2, WindowSize: 4, Model: "gpt-4", Caps: map[string]int{"history": 1000, "summary": 1000, "salience": 1000}}
	bdg := budget.New(nil)

	out, err := Compact(context.Background(), history, opt, fakeSummarizer{failSummarize: true}, bdg, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, out.SummaryText, "[unsummarized turns]")
}

func TestCompact_AppliesTokenBudgetCaps(t *testing.T) {
	history := makeHistory(40)
	opt := Options{MaxRecentTurns: 40, WindowSize: 4, Model: "gpt-4", Caps: map[string]int{"history": 5, "summary": 1000, "salience": 1000}}
	bdg := budget.New(nil)

	out, err := Compact(context.Background(), history, opt, fakeSummarizer{}, bdg, nil, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, out.Budget.HistoryTokens, 5)
}

package critic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"agenticrag/internal/llm"
	"agenticrag/internal/sessiontypes"
)

type fakeProvider struct {
	reply string
	err   error
}

func (f fakeProvider) Chat(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string) (llm.Message, error) {
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return llm.Message{Role: "assistant", Content: f.reply}, nil
}

func (f fakeProvider) ChatStream(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, _ llm.StreamHandler) error {
	return nil
}

func TestEvaluate_AcceptsWhenGroundedAndCoverageMeetsThreshold(t *testing.T) {
	c := Critic{Provider: fakeProvider{reply: `{"grounded": true, "coverage": 0.9, "issues": []}`}, Threshold: 0.7}
	r := c.Evaluate(context.Background(), "draft", "evidence", "question", false)

	assert.Equal(t, sessiontypes.CriticAccept, r.Action)
	assert.False(t, r.Forced)
}

func TestEvaluate_RevisesWhenCoverageBelowThreshold(t *testing.T) {
	c := Critic{Provider: fakeProvider{reply: `{"grounded": true, "coverage": 0.3, "issues": ["missing refund timeline"]}`}, Threshold: 0.7}
	r := c.Evaluate(context.Background(), "draft", "evidence", "question", false)

	assert.Equal(t, sessiontypes.CriticRevise, r.Action)
	assert.Len(t, r.Issues, 1)
}

func TestEvaluate_ForceAcceptsOnFinalAttemptParseFailure(t *testing.T) {
	c := Critic{Provider: fakeProvider{reply: "not json at all"}, Threshold: 0.7}
	r := c.Evaluate(context.Background(), "draft", "evidence", "question", true)

	assert.Equal(t, sessiontypes.CriticAccept, r.Action)
	assert.True(t, r.Forced)
	assert.Equal(t, 1.0, r.Coverage)
}

func TestEvaluate_RevisesWithZeroCoverageOnEarlierAttemptParseFailure(t *testing.T) {
	c := Critic{Provider: fakeProvider{err: assert.AnError}, Threshold: 0.7}
	r := c.Evaluate(context.Background(), "draft", "evidence", "question", false)

	assert.Equal(t, sessiontypes.CriticRevise, r.Action)
	assert.False(t, r.Forced)
	assert.Equal(t, 0.0, r.Coverage)
}

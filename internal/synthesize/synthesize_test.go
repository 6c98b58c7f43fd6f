package synthesize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"agenticrag/internal/llm"
	"agenticrag/internal/sessiontypes"
)

type fakeProvider struct {
	reply     string
	err       error
	chunks    []string
	streamErr error
	gotMsgs   []llm.Message
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	f.gotMsgs = msgs
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return llm.Message{Role: "assistant", Content: f.reply}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	f.gotMsgs = msgs
	if f.streamErr != nil {
		return f.streamErr
	}
	for _, c := range f.chunks {
		h.OnDelta(c)
	}
	return nil
}

func citations() []sessiontypes.Reference {
	return []sessiontypes.Reference{
		{ID: "a", Title: "Refund policy", Index: 1},
		{ID: "b", Title: "Shipping times", Index: 2},
	}
}

func TestGenerate_ReturnsAnswerAndEchoesCitations(t *testing.T) {
	p := &fakeProvider{reply: "Refunds take 5 days [1]."}
	s := Synthesizer{Provider: p}

	res, err := s.Generate(context.Background(), Input{
		Question:  "How long do refunds take?",
		Context:   "refund policy text",
		Citations: citations(),
		Model:     "m",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Answer != "Refunds take 5 days [1]." {
		t.Errorf("unexpected answer: %q", res.Answer)
	}
	if len(res.Citations) != 2 {
		t.Errorf("expected citations echoed back unchanged, got %d", len(res.Citations))
	}
}

func TestGenerate_UsesDefaultSystemPromptWhenNoneProvided(t *testing.T) {
	p := &fakeProvider{reply: "ok"}
	s := Synthesizer{Provider: p}

	_, err := s.Generate(context.Background(), Input{Question: "q", Citations: citations(), Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.gotMsgs) == 0 || p.gotMsgs[0].Role != "system" {
		t.Fatal("expected a system message to be sent first")
	}
	if !strings.Contains(p.gotMsgs[0].Content, "I don't have enough information") {
		t.Error("expected default system prompt to mention the insufficient-context fallback")
	}
}

func TestGenerate_ErrorPropagates(t *testing.T) {
	p := &fakeProvider{err: errors.New("boom")}
	s := Synthesizer{Provider: p}

	_, err := s.Generate(context.Background(), Input{Question: "q", Model: "m"})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestGenerateStream_ConcatenatesChunksIntoFinalAnswer(t *testing.T) {
	p := &fakeProvider{chunks: []string{"Ref", "unds take ", "5 days [1]."}}
	s := Synthesizer{Provider: p}

	var streamed strings.Builder
	res, err := s.GenerateStream(context.Background(), Input{
		Question:  "How long do refunds take?",
		Citations: citations(),
		Model:     "m",
	}, func(delta string) { streamed.WriteString(delta) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Answer != "Refunds take 5 days [1]." {
		t.Errorf("unexpected concatenated answer: %q", res.Answer)
	}
	if streamed.String() != res.Answer {
		t.Errorf("sink should have received the same text as the final answer, got %q", streamed.String())
	}
}

func TestGenerateStream_ErrorPropagates(t *testing.T) {
	p := &fakeProvider{streamErr: errors.New("stream boom")}
	s := Synthesizer{Provider: p}

	_, err := s.GenerateStream(context.Background(), Input{Question: "q", Model: "m"}, func(string) {})
	if err == nil {
		t.Fatal("expected stream error to propagate")
	}
}

func TestRenderSynthesisInput_IncludesRevisionNotesWithoutRenumbering(t *testing.T) {
	in := Input{
		Question:      "q",
		Context:       "ctx",
		Citations:     citations(),
		RevisionNotes: []string{"address the shipping sub-claim"},
	}
	rendered := renderSynthesisInput(in)
	if !strings.Contains(rendered, "[1] Refund policy") || !strings.Contains(rendered, "[2] Shipping times") {
		t.Error("expected citation numbers to match input order")
	}
	if !strings.Contains(rendered, "address the shipping sub-claim") {
		t.Error("expected revision note to be rendered")
	}
}

// Package synthesize implements the Synthesizer: turn a question, compacted
// context, and ordered citations into a grounded answer with inline [k]
// markers, in both single-shot and streaming modes. Grounded on
// internal/critic and internal/plan's llm.Provider-call shape, with
// streaming wired through llm.StreamHandler the way the teacher's provider
// clients (internal/llm/anthropic, internal/llm/openai) implement
// ChatStream.
package synthesize

import (
	"context"
	"fmt"
	"strings"

	"agenticrag/internal/llm"
	"agenticrag/internal/sessiontypes"
)

// Synthesizer generates answers via an llm.Provider chat/stream call.
type Synthesizer struct {
	Provider llm.Provider
}

// Input carries everything a synthesis call needs. SystemPrompt, when
// empty, defaults to defaultSystemPrompt.
type Input struct {
	Question      string
	Context       string
	Citations     []sessiontypes.Reference
	RevisionNotes []string
	Model         string
	MaxTokens     int
	SystemPrompt  string
}

// Result is the Synthesizer's output: the answer text plus the citations it
// was given (echoed back unchanged — the Synthesizer never adds, removes,
// or reorders references).
type Result struct {
	Answer    string
	Citations []sessiontypes.Reference
}

// TokenSink receives streamed answer chunks, mirroring llm.StreamHandler's
// OnDelta but scoped to the one callback synthesis needs.
type TokenSink func(delta string)

// Generate produces a complete answer in one call.
func (s Synthesizer) Generate(ctx context.Context, in Input) (Result, error) {
	msgs := s.buildMessages(in)
	resp, err := s.Provider.Chat(ctx, msgs, nil, in.Model)
	if err != nil {
		return Result{}, fmt.Errorf("synthesize: %w", err)
	}
	return Result{Answer: resp.Content, Citations: in.Citations}, nil
}

// GenerateStream produces an answer while invoking sink for every partial
// chunk. The returned Result.Answer is the concatenation of every chunk
// sink also received, per spec.md §4.7.
func (s Synthesizer) GenerateStream(ctx context.Context, in Input, sink TokenSink) (Result, error) {
	msgs := s.buildMessages(in)
	h := &collectingHandler{sink: sink}
	if err := s.Provider.ChatStream(ctx, msgs, nil, in.Model, h); err != nil {
		return Result{}, fmt.Errorf("synthesize stream: %w", err)
	}
	return Result{Answer: h.text.String(), Citations: in.Citations}, nil
}

// collectingHandler implements llm.StreamHandler, forwarding text deltas to
// a TokenSink while accumulating the full answer. Tool calls, images, and
// thought summaries are not expected from the Synthesizer and are ignored.
type collectingHandler struct {
	sink TokenSink
	text strings.Builder
}

func (h *collectingHandler) OnDelta(content string) {
	h.text.WriteString(content)
	if h.sink != nil {
		h.sink(content)
	}
}

func (h *collectingHandler) OnToolCall(tc llm.ToolCall)      {}
func (h *collectingHandler) OnImage(img llm.GeneratedImage)  {}
func (h *collectingHandler) OnThoughtSummary(summary string) {}

func (s Synthesizer) buildMessages(in Input) []llm.Message {
	system := in.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = defaultSystemPrompt
	}
	msgs := []llm.Message{{Role: "system", Content: system}}
	msgs = append(msgs, llm.Message{Role: "user", Content: renderSynthesisInput(in)})
	return msgs
}

func renderSynthesisInput(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", in.Question)
	fmt.Fprintf(&b, "Context:\n%s\n\n", in.Context)
	b.WriteString("Citations (cite as [k] using the number below):\n")
	for i, c := range in.Citations {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, c.Title)
	}
	if len(in.RevisionNotes) > 0 {
		b.WriteString("\nRevision directives from the prior critique (address these, keep citation numbers unchanged):\n")
		for _, note := range in.RevisionNotes {
			fmt.Fprintf(&b, "- %s\n", note)
		}
	}
	return b.String()
}

const defaultSystemPrompt = `Answer the question using only the provided context. Cite every factual claim inline as [k], where k is the citation number given in the prompt. Never invent a citation number that was not provided. If the context is insufficient to answer, say "I don't have enough information."`

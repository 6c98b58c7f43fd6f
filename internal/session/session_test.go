package session

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenticrag/internal/budget"
	"agenticrag/internal/compact"
	"agenticrag/internal/config"
	"agenticrag/internal/critic"
	"agenticrag/internal/events"
	"agenticrag/internal/llm"
	"agenticrag/internal/objectstore"
	"agenticrag/internal/persistence/databases"
	"agenticrag/internal/plan"
	"agenticrag/internal/retrieval"
	"agenticrag/internal/route"
	"agenticrag/internal/sessiontypes"
	"agenticrag/internal/synthesize"
)

// scriptedProvider returns its replies in order, repeating the last one
// once exhausted. Each Chat call increments callCount so tests can assert
// how many round trips a stage made.
type scriptedProvider struct {
	replies   []string
	callCount int
}

func (p *scriptedProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	idx := p.callCount
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	p.callCount++
	return llm.Message{Content: p.replies[idx]}, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	idx := p.callCount
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	p.callCount++
	reply := p.replies[idx]
	half := len(reply) / 2
	if half > 0 {
		h.OnDelta(reply[:half])
		h.OnDelta(reply[half:])
	} else {
		h.OnDelta(reply)
	}
	return nil
}

func single(reply string) *scriptedProvider { return &scriptedProvider{replies: []string{reply}} }

// fakeKnowledge implements retrieval.KnowledgeSearcher with canned results
// per method, independent of query/k.
type fakeKnowledge struct {
	hybridRefs []sessiontypes.Reference
	vectorRefs []sessiontypes.Reference
}

func (f fakeKnowledge) HybridSearch(ctx context.Context, query string, k int) ([]sessiontypes.Reference, error) {
	return f.hybridRefs, nil
}

func (f fakeKnowledge) VectorSearch(ctx context.Context, query string, k int) ([]sessiontypes.Reference, error) {
	return f.vectorRefs, nil
}

type fakeWeb struct {
	refs []sessiontypes.Reference
}

func (f fakeWeb) Search(ctx context.Context, query string, mode retrieval.WebMode, max int) ([]sessiontypes.Reference, error) {
	return f.refs, nil
}

type fakeEmbedder struct {
	vec []float32
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}
func (f fakeEmbedder) Name() string               { return "fake-embedder" }
func (f fakeEmbedder) Dimension() int             { return len(f.vec) }
func (f fakeEmbedder) Ping(context.Context) error { return nil }

// baseConfig returns a minimal but complete Config, with a routing table
// whose "faq" row is vector-only and whose "research" row is hybrid+web —
// enough for every escalation-rule scenario below to pick the profile it
// needs by choosing which intent the router fake classifies into.
func baseConfig() *config.Config {
	return &config.Config{
		RoutingTable: config.RoutingTableConfig{
			FAQ:            config.RouteConfig{Model: "faq-model", MaxTokens: 512, RetrieverStrategy: "vector"},
			Factual:        config.RouteConfig{Model: "factual-model", MaxTokens: 512, RetrieverStrategy: "hybrid"},
			Research:       config.RouteConfig{Model: "research-model", MaxTokens: 1024, RetrieverStrategy: "hybrid+web"},
			Conversational: config.RouteConfig{Model: "chat-model", MaxTokens: 512, RetrieverStrategy: "vector"},
		},
		Context: config.ContextConfig{
			HistoryTokenCap: 4000, SummaryTokenCap: 2000, SalienceTokenCap: 1000,
			MaxRecentTurns: 20, MaxSummaryItems: 5, MaxSalienceItems: 10,
		},
		Web: config.WebConfig{ContextMaxTokens: 2000, ResultsMax: 5, SearchMode: "summary"},
		Retrieval: config.RetrievalConfig{
			TopK: 8, RerankerThreshold: 0.5, FallbackRerankerThreshold: 0.2, MinDocs: 1,
		},
		Critic_:    config.CriticConfig{MaxRetries: 2, Threshold: 0.7},
		Escalation: config.EscalationConfig{ConfidenceEscalation: 0.5, ConfidenceDual: 0.6, FreshnessKeywords: []string{"today", "latest", "right now"}},
		Retry:      config.RetryConfig{MaxAttempts: 1},
		Features:   config.FeatureFlags{EnableIntentRouting: true},
	}
}

// harness bundles everything Run needs, each field overridable by the caller
// before constructing the Orchestrator via New.
type harness struct {
	cfg        *config.Config
	routerProv *scriptedProvider
	planProv   *scriptedProvider
	criticProv *scriptedProvider
	synthProv  *scriptedProvider
	kb         fakeKnowledge
	web        *fakeWeb
}

func (h *harness) orchestrator() *Orchestrator {
	table := route.NewTable(h.cfg.RoutingTable)
	dispatcher := &retrieval.Dispatcher{KB: h.kb}
	if h.web != nil {
		dispatcher.Web = h.web
	}
	return New(Deps{
		Router:      route.Router{Provider: h.routerProv, Table: table, Model: "router-model"},
		Summarizer:  compact.ProviderSummarizer{Provider: single("summary text")},
		Budgeter:    budget.New(nil),
		Planner:     plan.Planner{Provider: h.planProv},
		Dispatcher:  dispatcher,
		Synthesizer: synthesize.Synthesizer{Provider: h.synthProv},
		Critic:      critic.Critic{Provider: h.criticProv, Threshold: h.cfg.Critic_.Threshold},
		Config:      h.cfg,
	})
}

func chatRequest(sessionID, question string) sessiontypes.ChatRequest {
	return sessiontypes.ChatRequest{
		SessionID: sessionID,
		Messages:  []sessiontypes.Message{{Role: sessiontypes.RoleUser, Content: question}},
	}
}

func findEvent(trace sessiontypes.SessionTrace, name sessiontypes.EventName) (sessiontypes.Event, bool) {
	for _, ev := range trace.Events {
		if ev.Name == name {
			return ev, true
		}
	}
	return sessiontypes.Event{}, false
}

func TestRun_VectorOnlyHighConfidenceAcceptsFirstDraft(t *testing.T) {
	h := &harness{
		cfg:        baseConfig(),
		routerProv: single(`{"intent":"faq","confidence":0.9,"reasoning":"looks like a faq"}`),
		planProv:   single(`{"confidence":0.9,"steps":[{"action":"vector_search","query":"how do refunds work","k":5}]}`),
		criticProv: single(`{"grounded":true,"coverage":0.9,"issues":[]}`),
		synthProv:  single("Refunds are issued within [1] five business days, per our policy [2]."),
		kb: fakeKnowledge{hybridRefs: []sessiontypes.Reference{
			{ID: "doc-1", Title: "Refund policy", Body: "Refunds take five business days.", Score: 0.9},
			{ID: "doc-2", Title: "Returns FAQ", Body: "See the refund policy for timing.", Score: 0.8},
		}},
	}

	resp, trace := h.orchestrator().Run(context.Background(), chatRequest("s1", "How do refunds work?"), sessiontypes.ModeSync, nil)

	require.Equal(t, "Refunds are issued within [1] five business days, per our policy [2].", resp.Answer)
	assert.Len(t, resp.Citations, 2)
	assert.True(t, trace.RetrievalDiagnostics.Succeeded)
	assert.Equal(t, sessiontypes.StrategyVector, trace.Route.Profile.RetrieverStrategy)
	for _, step := range trace.Events {
		if step.Name == sessiontypes.EventActivity {
			as := step.Payload.(sessiontypes.ActivityStep)
			assert.NotEqual(t, "confidence_escalation", as.Type)
			assert.NotEqual(t, "confidence_dual", as.Type)
		}
	}
	require.Len(t, trace.CritiqueHistory, 1)
	assert.Equal(t, sessiontypes.CriticAccept, trace.CritiqueHistory[0].Action)
	assert.False(t, trace.CritiqueHistory[0].Forced)

	doneEv, ok := findEvent(trace, sessiontypes.EventDone)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"status": "complete"}, doneEv.Payload)
}

func TestRun_LowConfidenceEscalatesVectorProfileToDualRetrieval(t *testing.T) {
	h := &harness{
		cfg:        baseConfig(),
		routerProv: single(`{"intent":"faq","confidence":0.9,"reasoning":"faq-shaped"}`),
		planProv:   single(`{"confidence":0.3,"steps":[{"action":"vector_search","query":"warranty terms","k":5}]}`),
		criticProv: single(`{"grounded":true,"coverage":0.9,"issues":[]}`),
		synthProv:  single("Warranty coverage is described in [1] and updated per [2]."),
		kb: fakeKnowledge{hybridRefs: []sessiontypes.Reference{
			{ID: "doc-1", Title: "Warranty terms", Body: "Covers one year from purchase.", Score: 0.9},
		}},
		web: &fakeWeb{refs: []sessiontypes.Reference{
			{ID: "web-1", Title: "Manufacturer warranty page", Body: "Extended warranty available.", Score: 0.7, Source: sessiontypes.SourceWeb},
		}},
	}

	resp, trace := h.orchestrator().Run(context.Background(), chatRequest("s2", "What are the warranty terms?"), sessiontypes.ModeSync, nil)

	var sawEscalation, sawDual, sawKBTool, sawWebTool bool
	for _, ev := range trace.Events {
		switch ev.Name {
		case sessiontypes.EventActivity:
			as := ev.Payload.(sessiontypes.ActivityStep)
			if as.Type == "confidence_escalation" {
				sawEscalation = true
			}
			if as.Type == "confidence_dual" {
				sawDual = true
			}
		case sessiontypes.EventTool:
			payload := ev.Payload.(map[string]any)
			switch payload["name"] {
			case "knowledge_search":
				sawKBTool = true
			case "web_search":
				sawWebTool = true
			}
		}
	}
	assert.True(t, sawEscalation, "expected a confidence_escalation activity step")
	assert.True(t, sawDual, "expected a confidence_dual activity step")
	assert.True(t, sawKBTool, "expected a knowledge_search tool event")
	assert.True(t, sawWebTool, "expected a web_search tool event")
	assert.Len(t, resp.Citations, 2)
	assert.Equal(t, "doc-1", resp.Citations[0].ID)
	assert.Equal(t, "web-1", resp.Citations[1].ID)
}

func TestRun_FullKBCollapseFallsBackToWebOnly(t *testing.T) {
	h := &harness{
		cfg:        baseConfig(),
		routerProv: single(`{"intent":"research","confidence":0.8,"reasoning":"broad question"}`),
		planProv:   single(`{"confidence":0.8,"steps":[{"action":"both","query":"upcoming product roadmap","k":5}]}`),
		criticProv: single(`{"grounded":true,"coverage":0.8,"issues":[]}`),
		synthProv:  single("The roadmap highlights are covered in [1]."),
		kb:         fakeKnowledge{}, // every tier returns nothing
		web: &fakeWeb{refs: []sessiontypes.Reference{
			{ID: "web-1", Title: "Roadmap announcement", Body: "New features ship next quarter.", Score: 0.6, Source: sessiontypes.SourceWeb},
		}},
	}

	resp, trace := h.orchestrator().Run(context.Background(), chatRequest("s3", "Summarize our product roadmap"), sessiontypes.ModeSync, nil)

	assert.True(t, trace.RetrievalDiagnostics.Succeeded, "web results alone should mark retrieval as succeeded")
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "web-1", resp.Citations[0].ID)
}

func TestRun_CriticRevisionHydratesSummaryOnlyCitationBeforeSecondDraft(t *testing.T) {
	cfg := baseConfig()
	cfg.Features.EnableLazyRetrieval = true

	store := objectstore.NewMemoryStore()
	_, err := store.Put(context.Background(), "doc-1-body", strings.NewReader("Full warranty text: one year parts and labor, extendable to three."), objectstore.PutOptions{})
	require.NoError(t, err)

	h := &harness{
		cfg:        cfg,
		routerProv: single(`{"intent":"faq","confidence":0.9,"reasoning":"faq-shaped"}`),
		planProv:   single(`{"confidence":0.9,"steps":[{"action":"vector_search","query":"warranty terms","k":5}]}`),
		criticProv: &scriptedProvider{replies: []string{
			`{"grounded":false,"coverage":0.4,"issues":["needs the exact warranty duration"]}`,
			`{"grounded":true,"coverage":0.9,"issues":[]}`,
		}},
		synthProv: &scriptedProvider{replies: []string{
			"Your product has a warranty, see [1].",
			"Your product carries a one-year parts-and-labor warranty per [1].",
		}},
		kb: fakeKnowledge{hybridRefs: []sessiontypes.Reference{
			{ID: "doc-1", Title: "Warranty terms", Body: "Full warranty text: one year parts and labor, extendable to three.", Score: 0.9, Hydrate: &sessiontypes.HydrateHandle{Store: "memory", Key: "doc-1-body"}},
		}},
	}

	o := h.orchestrator()
	o.deps.Dispatcher.Store = store

	resp, trace := o.Run(context.Background(), chatRequest("s4", "What are the warranty terms?"), sessiontypes.ModeSync, nil)

	require.Len(t, trace.CritiqueHistory, 2)
	assert.Equal(t, sessiontypes.CriticRevise, trace.CritiqueHistory[0].Action)
	assert.False(t, trace.CritiqueHistory[0].UsedFullContent)
	assert.Equal(t, sessiontypes.CriticAccept, trace.CritiqueHistory[1].Action)
	assert.True(t, trace.CritiqueHistory[1].UsedFullContent, "second attempt should reflect that hydration happened after the first")

	var sawHydrate bool
	for _, ev := range trace.Events {
		if ev.Name == sessiontypes.EventActivity {
			if as, ok := ev.Payload.(sessiontypes.ActivityStep); ok && as.Type == "hydrate" {
				sawHydrate = true
			}
		}
	}
	assert.True(t, sawHydrate, "expected a hydrate activity step between the two drafts")
	assert.Equal(t, "Your product carries a one-year parts-and-labor warranty per [1].", resp.Answer)
}

func TestRun_UnparseableCriticForcesAcceptAtRetryCeiling(t *testing.T) {
	cfg := baseConfig()
	cfg.Critic_.MaxRetries = 1

	h := &harness{
		cfg:        cfg,
		routerProv: single(`{"intent":"faq","confidence":0.9,"reasoning":"faq-shaped"}`),
		planProv:   single(`{"confidence":0.9,"steps":[{"action":"vector_search","query":"return window","k":5}]}`),
		criticProv: single("the model rambled and never produced json"),
		synthProv:  single("You can return items within [1] thirty days."),
		kb: fakeKnowledge{hybridRefs: []sessiontypes.Reference{
			{ID: "doc-1", Title: "Return policy", Body: "Thirty day return window.", Score: 0.9},
		}},
	}

	_, trace := h.orchestrator().Run(context.Background(), chatRequest("s5", "What is the return window?"), sessiontypes.ModeSync, nil)

	require.Len(t, trace.CritiqueHistory, 2)
	assert.Equal(t, sessiontypes.CriticRevise, trace.CritiqueHistory[0].Action)
	assert.False(t, trace.CritiqueHistory[0].Forced)
	last := trace.CritiqueHistory[1]
	assert.Equal(t, sessiontypes.CriticAccept, last.Action)
	assert.True(t, last.Forced, "final attempt at the retry ceiling must force-accept")
}

func TestRun_WellFormedReviseForcesAcceptAtRetryCeiling(t *testing.T) {
	cfg := baseConfig()
	cfg.Critic_.MaxRetries = 1

	h := &harness{
		cfg:        cfg,
		routerProv: single(`{"intent":"faq","confidence":0.9,"reasoning":"faq-shaped"}`),
		planProv:   single(`{"confidence":0.9,"steps":[{"action":"vector_search","query":"return window","k":5}]}`),
		criticProv: &scriptedProvider{replies: []string{
			`{"grounded":false,"coverage":0.4,"issues":["missing exact day count"]}`,
			`{"grounded":false,"coverage":0.5,"issues":["still missing exact day count"]}`,
		}},
		synthProv: &scriptedProvider{replies: []string{
			"You can return items within [1].",
			"You can return items within [1] some days.",
		}},
		kb: fakeKnowledge{hybridRefs: []sessiontypes.Reference{
			{ID: "doc-1", Title: "Return policy", Body: "Thirty day return window.", Score: 0.9},
		}},
	}

	_, trace := h.orchestrator().Run(context.Background(), chatRequest("s6", "What is the return window?"), sessiontypes.ModeSync, nil)

	require.Len(t, trace.CritiqueHistory, 2)
	assert.Equal(t, sessiontypes.CriticRevise, trace.CritiqueHistory[0].Action)
	assert.False(t, trace.CritiqueHistory[0].Forced)
	last := trace.CritiqueHistory[1]
	assert.Equal(t, sessiontypes.CriticRevise, last.Action, "a well-formed revise verdict must not be rewritten to accept")
	assert.True(t, last.Forced, "hitting the retry ceiling must force the last attempt even when the critic itself never set Forced")
}

func TestRun_StreamingModeEmitsTokenDeltasBeforeComplete(t *testing.T) {
	h := &harness{
		cfg:        baseConfig(),
		routerProv: single(`{"intent":"faq","confidence":0.9,"reasoning":"faq-shaped"}`),
		planProv:   single(`{"confidence":0.9,"steps":[{"action":"vector_search","query":"hours","k":5}]}`),
		criticProv: single(`{"grounded":true,"coverage":0.9,"issues":[]}`),
		synthProv:  single("We are open nine to five [1]."),
		kb: fakeKnowledge{hybridRefs: []sessiontypes.Reference{
			{ID: "doc-1", Title: "Store hours", Body: "Nine to five, Monday through Friday.", Score: 0.9},
		}},
	}

	sink := &events.RecordingSink{}
	emitter := events.NewEmitter(sink, 32)
	resp, trace := h.orchestrator().Run(context.Background(), chatRequest("s6", "What are your hours?"), sessiontypes.ModeStream, emitter)
	require.NoError(t, emitter.Close())

	assert.Equal(t, "We are open nine to five [1].", resp.Answer)

	var citationsIdx, firstTokensIdx, completeIdx int = -1, -1, -1
	for i, ev := range trace.Events {
		switch ev.Name {
		case sessiontypes.EventCitations:
			citationsIdx = i
		case sessiontypes.EventTokens:
			if firstTokensIdx == -1 {
				firstTokensIdx = i
			}
		case sessiontypes.EventComplete:
			completeIdx = i
		}
	}
	require.NotEqual(t, -1, citationsIdx)
	require.NotEqual(t, -1, firstTokensIdx)
	require.NotEqual(t, -1, completeIdx)
	assert.Less(t, citationsIdx, firstTokensIdx, "citations must be emitted before the first token")
	assert.Less(t, firstTokensIdx, completeIdx, "tokens must be emitted before complete")

	require.NotEmpty(t, sink.Events, "the SSE sink should have received the same events")
}

func TestRun_SemanticMemoryRecallFeedsSalienceAndPersistsSuccessfulPattern(t *testing.T) {
	cfg := baseConfig()
	cfg.Features.EnableSemanticMemory = true

	mem := databases.NewMemoryMemoryStore()
	require.NoError(t, mem.AddSuccessfulPattern(context.Background(), "s7", nil, "earlier question about shipping", "shipping takes three days", []float32{1, 0}))

	h := &harness{
		cfg:        cfg,
		routerProv: single(`{"intent":"faq","confidence":0.9,"reasoning":"faq-shaped"}`),
		planProv:   single(`{"confidence":0.9,"steps":[{"action":"vector_search","query":"shipping","k":5}]}`),
		criticProv: single(`{"grounded":true,"coverage":0.9,"issues":[]}`),
		synthProv:  single("Shipping usually takes [1] three days."),
		kb: fakeKnowledge{hybridRefs: []sessiontypes.Reference{
			{ID: "doc-1", Title: "Shipping FAQ", Body: "Orders ship within three business days.", Score: 0.9},
		}},
	}

	o := h.orchestrator()
	o.deps.Memory = mem
	o.deps.Embedder = fakeEmbedder{vec: []float32{1, 0}}

	_, trace := o.Run(context.Background(), chatRequest("s7", "How long does shipping take?"), sessiontypes.ModeSync, nil)

	ctxEv, ok := findEvent(trace, sessiontypes.EventContext)
	require.True(t, ok)
	payload := ctxEv.Payload.(map[string]any)
	assert.Contains(t, payload["salience"].(string), "earlier question about shipping")

	items, err := mem.Recall(context.Background(), []float32{1, 0}, "s7", 10, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2, "the seeded pattern plus the one just recorded after an unforced accept")
}

func TestValidateCitations_StripsOutOfRangeAndEmptyBodyMarkers(t *testing.T) {
	citations := []sessiontypes.Reference{
		{ID: "a", Body: "has content"},
		{ID: "b", Body: ""},
	}
	cleaned, issue := validateCitations("See [1] and [2] and also [3].", citations)
	assert.Equal(t, "See [1] and  and also .", cleaned)
	assert.Contains(t, issue, "2")
	assert.Contains(t, issue, "3")
}

func TestValidateCitations_NoopWhenEveryMarkerIsValid(t *testing.T) {
	citations := []sessiontypes.Reference{{ID: "a", Body: "has content"}}
	cleaned, issue := validateCitations("See [1].", citations)
	assert.Equal(t, "See [1].", cleaned)
	assert.Empty(t, issue)
}

func TestResolveFeatures_RequestOverrideBeatsPersistedBeatsConfigDefault(t *testing.T) {
	cfg := baseConfig()
	cfg.Features.EnableLazyRetrieval = false

	sessions := databases.NewMemorySessionStore()
	o := &Orchestrator{deps: Deps{Config: cfg, Sessions: sessions}}

	// Nothing persisted, no request override: config default applies.
	fresh := o.resolveFeatures(context.Background(), "s8-fresh", sessiontypes.FeatureOverrides{})
	assert.False(t, fresh.lazyRetrieval)

	// A persisted pin from an earlier turn beats the config default.
	persistedTrue := true
	require.NoError(t, sessions.SaveFeatureOverrides(context.Background(), "s8-pinned", sessiontypes.FeatureOverrides{EnableLazyRetrieval: &persistedTrue}))
	pinned := o.resolveFeatures(context.Background(), "s8-pinned", sessiontypes.FeatureOverrides{})
	assert.True(t, pinned.lazyRetrieval, "a persisted override must beat the config default")

	// An explicit request override on this turn beats the persisted pin.
	reqFalse := false
	overridden := o.resolveFeatures(context.Background(), "s8-pinned", sessiontypes.FeatureOverrides{EnableLazyRetrieval: &reqFalse})
	assert.False(t, overridden.lazyRetrieval, "an explicit request override must beat the persisted pin")
}

func TestMatchesFreshness_CaseInsensitiveSubstring(t *testing.T) {
	assert.True(t, matchesFreshness("What's happening TODAY in the market?", []string{"today"}))
	assert.False(t, matchesFreshness("What happened last year?", []string{"today", "latest"}))
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenticrag/internal/budget"
	"agenticrag/internal/compact"
	"agenticrag/internal/config"
	"agenticrag/internal/critic"
	"agenticrag/internal/llm"
	"agenticrag/internal/plan"
	"agenticrag/internal/retrieval"
	"agenticrag/internal/route"
	"agenticrag/internal/session"
	"agenticrag/internal/sessiontypes"
	"agenticrag/internal/synthesize"
)

// fakeProvider returns the same reply for every Chat/ChatStream call, same
// idiom as the orchestrator package's scripted fakes.
type fakeProvider struct{ reply string }

func (p fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{Content: p.reply}, nil
}

func (p fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	h.OnDelta(p.reply)
	return nil
}

type fakeKnowledge struct {
	refs []sessiontypes.Reference
}

func (f fakeKnowledge) HybridSearch(ctx context.Context, query string, k int) ([]sessiontypes.Reference, error) {
	return f.refs, nil
}
func (f fakeKnowledge) VectorSearch(ctx context.Context, query string, k int) ([]sessiontypes.Reference, error) {
	return f.refs, nil
}

func testServer() *Server {
	cfg := &config.Config{
		RoutingTable: config.RoutingTableConfig{
			FAQ: config.RouteConfig{Model: "faq-model", MaxTokens: 512, RetrieverStrategy: "vector"},
		},
		Context:    config.ContextConfig{MaxRecentTurns: 20, MaxSummaryItems: 5, MaxSalienceItems: 10},
		Retrieval:  config.RetrievalConfig{TopK: 5, RerankerThreshold: 0.5, FallbackRerankerThreshold: 0.2, MinDocs: 1},
		Critic_:    config.CriticConfig{MaxRetries: 1, Threshold: 0.5},
		Escalation: config.EscalationConfig{ConfidenceEscalation: 0.3, ConfidenceDual: 0.3},
		Retry:      config.RetryConfig{MaxAttempts: 1},
	}
	table := route.NewTable(cfg.RoutingTable)
	o := session.New(session.Deps{
		Router:     route.Router{Provider: fakeProvider{}, Table: table, Model: "router-model", Enabled: false},
		Summarizer: compact.ProviderSummarizer{Provider: fakeProvider{reply: "summary"}},
		Budgeter:   budget.New(nil),
		Planner:    plan.Planner{Provider: fakeProvider{reply: `{"confidence":0.9,"steps":[{"action":"vector_search","query":"q","k":3}]}`}},
		Dispatcher: &retrieval.Dispatcher{KB: fakeKnowledge{refs: []sessiontypes.Reference{
			{ID: "doc-1", Title: "Doc", Body: "Body text.", Score: 0.9},
		}}},
		Synthesizer: synthesize.Synthesizer{Provider: fakeProvider{reply: "The answer is [1]."}},
		Critic:      critic.Critic{Provider: fakeProvider{reply: `{"grounded":true,"coverage":0.9,"issues":[]}`}, Threshold: 0.5},
		Config:      cfg,
	})
	return NewServer(o, nil)
}

func newEcho(s *Server) *echo.Echo {
	e := echo.New()
	s.Register(e, "/api/v1")
	return e
}

func TestHandleChat_ReturnsGroundedAnswer(t *testing.T) {
	e := newEcho(testServer())

	body, err := json.Marshal(chatRequestBody{
		Messages:  []chatMessage{{Role: "user", Content: "What's in the doc?"}},
		SessionID: "s1",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp sessiontypes.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "The answer is [1].", resp.Answer)
	assert.Len(t, resp.Citations, 1)
}

func TestHandleChat_RejectsEmptyMessages(t *testing.T) {
	e := newEcho(testServer())

	body, err := json.Marshal(chatRequestBody{Messages: nil})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatStream_EmitsSSEFrames(t *testing.T) {
	e := newEcho(testServer())

	body, err := json.Marshal(chatRequestBody{
		Messages:  []chatMessage{{Role: "user", Content: "What's in the doc?"}},
		SessionID: "s2",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Body.String(), "event: citations")
	assert.Contains(t, rec.Body.String(), "event: done")
}

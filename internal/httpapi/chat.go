package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"agenticrag/internal/events"
	"agenticrag/internal/sessiontypes"
)

var errEmptyMessages = errors.New("at least one non-empty message is required")

// chatRequestBody is the wire shape for both endpoints, per spec.md §6.1:
// {messages, sessionId?, feature_overrides?}.
type chatRequestBody struct {
	Messages         []chatMessage           `json:"messages"`
	SessionID        string                  `json:"sessionId"`
	FeatureOverrides featureOverridesPayload `json:"feature_overrides"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type featureOverridesPayload struct {
	EnableLazyRetrieval   *bool    `json:"enableLazyRetrieval,omitempty"`
	EnableIntentRouting   *bool    `json:"enableIntentRouting,omitempty"`
	EnableSemanticSummary *bool    `json:"enableSemanticSummary,omitempty"`
	EnableSemanticMemory  *bool    `json:"enableSemanticMemory,omitempty"`
	CriticThreshold       *float64 `json:"criticThreshold,omitempty"`
}

func (body chatRequestBody) toRequest() (sessiontypes.ChatRequest, error) {
	if len(body.Messages) == 0 {
		return sessiontypes.ChatRequest{}, errEmptyMessages
	}
	msgs := make([]sessiontypes.Message, 0, len(body.Messages))
	for _, m := range body.Messages {
		if m.Content == "" {
			continue
		}
		msgs = append(msgs, sessiontypes.Message{Role: sessiontypes.Role(m.Role), Content: m.Content})
	}
	if len(msgs) == 0 {
		return sessiontypes.ChatRequest{}, errEmptyMessages
	}
	return sessiontypes.ChatRequest{
		Messages:  msgs,
		SessionID: body.SessionID,
		FeatureOverrides: sessiontypes.FeatureOverrides{
			EnableLazyRetrieval:   body.FeatureOverrides.EnableLazyRetrieval,
			EnableIntentRouting:   body.FeatureOverrides.EnableIntentRouting,
			EnableSemanticSummary: body.FeatureOverrides.EnableSemanticSummary,
			EnableSemanticMemory:  body.FeatureOverrides.EnableSemanticMemory,
			CriticThreshold:       body.FeatureOverrides.CriticThreshold,
		},
	}, nil
}

// handleChat is the synchronous endpoint: POST /chat.
func (s *Server) handleChat(c echo.Context) error {
	var body chatRequestBody
	if err := c.Bind(&body); err != nil {
		return respondError(c, http.StatusBadRequest, "bad_request", err.Error())
	}
	req, err := body.toRequest()
	if err != nil {
		return respondError(c, http.StatusBadRequest, "bad_request", err.Error())
	}

	resp, _ := s.orchestrator.Run(c.Request().Context(), req, sessiontypes.ModeSync, nil)
	return c.JSON(http.StatusOK, resp)
}

// handleChatStream is the streaming endpoint: POST /chat/stream. The
// response is a typed SSE-like event stream; framing and backpressure are
// handled by events.Emitter/events.SSESink, not here.
func (s *Server) handleChatStream(c echo.Context) error {
	var body chatRequestBody
	if err := c.Bind(&body); err != nil {
		return respondError(c, http.StatusBadRequest, "bad_request", err.Error())
	}
	req, err := body.toRequest()
	if err != nil {
		return respondError(c, http.StatusBadRequest, "bad_request", err.Error())
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	sink, ok := events.NewSSESink(c.Response())
	if !ok {
		return respondError(c, http.StatusInternalServerError, "stream_unsupported", "streaming not supported")
	}
	emitter := events.NewEmitter(sink, 0)

	s.orchestrator.Run(c.Request().Context(), req, sessiontypes.ModeStream, emitter)
	_ = emitter.Close()
	return nil
}

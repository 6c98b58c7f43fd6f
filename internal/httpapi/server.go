// Package httpapi exposes the two inbound endpoints named in spec.md §6.1
// (synchronous chat, streaming chat) as echo handlers, plus a document
// ingestion endpoint that populates the knowledge base those two endpoints
// search against. HTTP transport, CORS, rate-limiting, input sanitization
// and auth are explicitly out of scope; this package is the minimal surface
// needed to drive internal/session's Orchestrator and internal/rag/service's
// ingestion pipeline from real requests. Grounded on the teacher's
// internal/httpapi/server.go (route-registration shape) and
// internal/agents/stream.go (SSE framing, flusher guard).
package httpapi

import (
	"github.com/labstack/echo/v4"

	"agenticrag/internal/rag/service"
	"agenticrag/internal/session"
)

// Server wires the Orchestrator and the ingestion service to echo routes.
// Documents is optional: when nil, the ingestion endpoint responds 503.
type Server struct {
	orchestrator *session.Orchestrator
	documents    *service.Service
}

// NewServer creates the HTTP API server wired to the session orchestrator.
// documents may be nil when no ingestion backend is configured.
func NewServer(orchestrator *session.Orchestrator, documents *service.Service) *Server {
	return &Server{orchestrator: orchestrator, documents: documents}
}

// Register attaches this package's routes to e under prefix (e.g. "/api/v1").
func (s *Server) Register(e *echo.Echo, prefix string) {
	g := e.Group(prefix)
	g.POST("/chat", s.handleChat)
	g.POST("/chat/stream", s.handleChatStream)
	g.POST("/documents", s.handleIngestDocument)
}

func respondError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, map[string]any{"message": message, "code": code})
}

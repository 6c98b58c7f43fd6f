package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"agenticrag/internal/rag/ingest"
)

// documentIngestBody is the wire shape for POST /documents: a single
// document to chunk, index, and (when an embedder is configured) vectorize
// into the stores internal/retrieval.Store searches.
type documentIngestBody struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	URL      string         `json:"url"`
	Source   string         `json:"source"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Tenant   string         `json:"tenant"`
}

type documentIngestResponse struct {
	DocID     string `json:"docId"`
	Version   int    `json:"version"`
	NumChunks int    `json:"numChunks"`
}

func (body documentIngestBody) toRequest() ingest.IngestRequest {
	return ingest.IngestRequest{
		ID:       body.ID,
		Title:    body.Title,
		URL:      body.URL,
		Source:   body.Source,
		Text:     body.Text,
		Metadata: body.Metadata,
		Tenant:   body.Tenant,
		Options: ingest.IngestOptions{
			Chunking:       ingest.ChunkingOptions{Strategy: "tokens", MaxTokens: 512, Overlap: 64},
			Embedding:      ingest.EmbeddingOptions{Enabled: true},
			ReingestPolicy: ingest.ReingestOverwrite,
		},
	}
}

// handleIngestDocument is the ingestion endpoint: POST /documents.
func (s *Server) handleIngestDocument(c echo.Context) error {
	if s.documents == nil {
		return respondError(c, http.StatusServiceUnavailable, "ingestion_disabled", "document ingestion is not configured")
	}

	var body documentIngestBody
	if err := c.Bind(&body); err != nil {
		return respondError(c, http.StatusBadRequest, "bad_request", err.Error())
	}
	if body.ID == "" || body.Text == "" {
		return respondError(c, http.StatusBadRequest, "bad_request", "id and text are required")
	}

	resp, err := s.documents.Ingest(c.Request().Context(), body.toRequest())
	if err != nil {
		return respondError(c, http.StatusInternalServerError, "ingest_failed", err.Error())
	}

	return c.JSON(http.StatusOK, documentIngestResponse{
		DocID:     resp.DocID,
		Version:   resp.Version,
		NumChunks: resp.Stats.NumChunks,
	})
}

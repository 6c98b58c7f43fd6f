package persistence

import (
	"context"
	"time"
)

// MemoryKind is one of spec.md §6.4's semantic-memory row types.
type MemoryKind string

const (
	MemoryEpisodic   MemoryKind = "episodic"
	MemorySemantic   MemoryKind = "semantic"
	MemoryProcedural MemoryKind = "procedural"
	MemoryPreference MemoryKind = "preference"
)

// MemoryItem is one semantic-memory row: a durable fact, pattern, or
// preference recalled by cosine similarity against a query embedding.
type MemoryItem struct {
	ID         string
	Kind       MemoryKind
	Text       string
	Embedding  []float32
	SessionID  string
	UserID     *int64
	CreatedAt  time.Time
	LastUsedAt time.Time
	UseCount   int
	Score      float64
}

// MemoryStore is the Persistence collaborator backing `memoryStore.recall`
// and `memoryStore.addSuccessfulPattern` (spec.md §6.2). A recall failure is
// non-fatal to the orchestrator (spec.md §7); callers should treat a
// returned error as "no memory available" rather than aborting the session.
type MemoryStore interface {
	Init(ctx context.Context) error

	// Recall returns the k memory items most similar to queryEmbedding,
	// scoped to sessionID (empty matches any session) and filtered to a
	// minimum similarity score sMin, most similar first.
	Recall(ctx context.Context, queryEmbedding []float32, sessionID string, k int, sMin float64) ([]MemoryItem, error)

	// AddSuccessfulPattern records a question/answer exchange the critic
	// accepted as a procedural memory, so future similar questions can
	// recall the pattern that worked.
	AddSuccessfulPattern(ctx context.Context, sessionID string, userID *int64, question, answer string, embedding []float32) error

	// Touch bumps UseCount/LastUsedAt for a recalled item, so frequently
	// useful memories surface ahead of stale ones over time.
	Touch(ctx context.Context, id string) error
}

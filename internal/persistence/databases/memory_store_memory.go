package databases

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"agenticrag/internal/persistence"
)

// NewMemoryMemoryStore returns a process-local semantic MemoryStore backed
// by the same cosine-similarity scan as NewMemoryVector.
func NewMemoryMemoryStore() persistence.MemoryStore {
	return &memMemoryStore{items: map[string]persistence.MemoryItem{}}
}

type memMemoryStore struct {
	mu    sync.RWMutex
	items map[string]persistence.MemoryItem
}

func (s *memMemoryStore) Init(ctx context.Context) error { return nil }

func (s *memMemoryStore) Recall(ctx context.Context, queryEmbedding []float32, sessionID string, k int, sMin float64) ([]persistence.MemoryItem, error) {
	if k <= 0 {
		k = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	qnorm := norm(queryEmbedding)
	out := make([]persistence.MemoryItem, 0, len(s.items))
	for _, item := range s.items {
		if sessionID != "" && item.SessionID != "" && item.SessionID != sessionID {
			continue
		}
		score := cosine(queryEmbedding, item.Embedding, qnorm)
		if score < sMin {
			continue
		}
		item.Score = score
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *memMemoryStore) AddSuccessfulPattern(ctx context.Context, sessionID string, userID *int64, question, answer string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	id := uuid.NewString()
	emb := make([]float32, len(embedding))
	copy(emb, embedding)
	s.items[id] = persistence.MemoryItem{
		ID:         id,
		Kind:       persistence.MemoryProcedural,
		Text:       "Q: " + question + "\nA: " + answer,
		Embedding:  emb,
		SessionID:  sessionID,
		UserID:     copyUserID(userID),
		CreatedAt:  now,
		LastUsedAt: now,
		UseCount:   0,
	}
	return nil
}

func (s *memMemoryStore) Touch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return persistence.ErrNotFound
	}
	item.UseCount++
	item.LastUsedAt = time.Now().UTC()
	s.items[id] = item
	return nil
}

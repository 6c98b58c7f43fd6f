package databases

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"agenticrag/internal/persistence"
)

// NewPostgresMemoryStore returns a pgvector-backed semantic MemoryStore.
// Recall orders by cosine distance the same way NewPostgresVector does.
func NewPostgresMemoryStore(pool *pgxpool.Pool) persistence.MemoryStore {
	return &pgMemoryStore{pool: pool}
}

type pgMemoryStore struct {
	pool *pgxpool.Pool
}

func (s *pgMemoryStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *pgMemoryStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres memory store requires pool")
	}
	_, _ = s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS semantic_memories (
    id UUID PRIMARY KEY,
    kind TEXT NOT NULL,
    text TEXT NOT NULL,
    embedding vector,
    session_id TEXT NOT NULL DEFAULT '',
    user_id BIGINT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    use_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS semantic_memories_session_idx ON semantic_memories(session_id);
`)
	return err
}

func (s *pgMemoryStore) Recall(ctx context.Context, queryEmbedding []float32, sessionID string, k int, sMin float64) ([]persistence.MemoryItem, error) {
	if k <= 0 {
		k = 10
	}
	vecLit := toVectorLiteral(queryEmbedding)
	query := `
SELECT id, kind, text, embedding, session_id, user_id, created_at, last_used_at, use_count,
       1 - (embedding <=> $1::vector) AS score
FROM semantic_memories
WHERE ($3 = '' OR session_id = '' OR session_id = $3)
  AND 1 - (embedding <=> $1::vector) >= $4
ORDER BY embedding <=> $1::vector
LIMIT $2`
	rows, err := s.pool.Query(ctx, query, vecLit, k, sessionID, sMin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []persistence.MemoryItem
	for rows.Next() {
		var (
			id         uuid.UUID
			kind       string
			text       string
			embedding  []float32
			sessID     string
			userID     sql.NullInt64
			createdAt  time.Time
			lastUsedAt time.Time
			useCount   int
			score      float64
		)
		if err := rows.Scan(&id, &kind, &text, &embedding, &sessID, &userID, &createdAt, &lastUsedAt, &useCount, &score); err != nil {
			return nil, err
		}
		item := persistence.MemoryItem{
			ID:         id.String(),
			Kind:       persistence.MemoryKind(kind),
			Text:       text,
			Embedding:  embedding,
			SessionID:  sessID,
			CreatedAt:  createdAt,
			LastUsedAt: lastUsedAt,
			UseCount:   useCount,
			Score:      score,
		}
		if userID.Valid {
			v := userID.Int64
			item.UserID = &v
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *pgMemoryStore) AddSuccessfulPattern(ctx context.Context, sessionID string, userID *int64, question, answer string, embedding []float32) error {
	id := uuid.New()
	vecLit := toVectorLiteral(embedding)
	var uid any
	if userID != nil {
		uid = *userID
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO semantic_memories (id, kind, text, embedding, session_id, user_id)
VALUES ($1, $2, $3, $4::vector, $5, $6)`,
		id, string(persistence.MemoryProcedural), "Q: "+question+"\nA: "+answer, vecLit, sessionID, uid)
	return err
}

func (s *pgMemoryStore) Touch(ctx context.Context, id string) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE semantic_memories
SET use_count = use_count + 1, last_used_at = NOW()
WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

package databases

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"agenticrag/internal/config"
)

// NewManager constructs the chat/session/semantic-memory persistence
// backends. A non-empty cfg.Database.ConnectionString selects the Postgres
// backends (shared across a single pool); otherwise it falls back to
// process-local in-memory stores, so the orchestrator runs without a
// database for local development and tests. The vector store backend is
// selected independently: a configured cfg.Qdrant.Host takes priority as
// the primary ANN backend, falling back to pgvector-backed Postgres (when a
// database DSN is set) and finally the in-memory vector store.
func NewManager(ctx context.Context, cfg config.Config) (Manager, error) {
	var m Manager

	dsn := cfg.Database.ConnectionString
	if dsn == "" {
		m.Chat = newMemoryChatStore()
		m.Session = NewMemorySessionStore()
		m.Memory = NewMemoryMemoryStore()
		m.Search = NewMemorySearch()
		m.Vector = NewMemoryVector()
		m.Graph = NewMemoryGraph()
	} else {
		pool, err := newPgPool(ctx, dsn)
		if err != nil {
			return Manager{}, fmt.Errorf("connect postgres: %w", err)
		}
		m.Chat = NewPostgresChatStore(pool)
		m.Session = NewPostgresSessionStore(pool)
		m.Memory = NewPostgresMemoryStore(pool)
		m.Search = NewPostgresSearch(pool)
		m.Vector = NewPostgresVector(pool, cfg.Qdrant.Dimensions, "cosine")
		m.Graph = NewPostgresGraph(pool)
	}

	if cfg.Qdrant.Host != "" {
		vec, err := NewQdrantVector(cfg.Qdrant.Host, cfg.Qdrant.Collection, cfg.Qdrant.Dimensions, "cosine")
		if err != nil {
			return Manager{}, fmt.Errorf("connect qdrant: %w", err)
		}
		m.Vector = vec
	}

	return m, nil
}

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pgCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pgCfg.MaxConns = 8
	pgCfg.MinConns = 0
	pgCfg.MaxConnLifetime = time.Hour
	pgCfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

package databases

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agenticrag/internal/persistence"
	"agenticrag/internal/sessiontypes"
)

// NewPostgresSessionStore returns a Postgres-backed SessionStore, storing
// the trace and feature-override layer as JSONB keyed by sessionId.
func NewPostgresSessionStore(pool *pgxpool.Pool) persistence.SessionStore {
	return &pgSessionStore{pool: pool}
}

type pgSessionStore struct {
	pool *pgxpool.Pool
}

func (s *pgSessionStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *pgSessionStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres session store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS orchestrator_sessions (
    session_id TEXT PRIMARY KEY,
    trace JSONB NOT NULL DEFAULT '{}'::jsonb,
    feature_overrides JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
	return err
}

func (s *pgSessionStore) SaveTrace(ctx context.Context, trace sessiontypes.SessionTrace) error {
	traceBytes, err := json.Marshal(trace)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO orchestrator_sessions (session_id, trace)
VALUES ($1, $2)
ON CONFLICT (session_id) DO UPDATE SET trace = EXCLUDED.trace, updated_at = NOW()`,
		trace.SessionID, traceBytes)
	return err
}

func (s *pgSessionStore) LoadTrace(ctx context.Context, sessionID string) (sessiontypes.SessionTrace, bool, error) {
	var traceBytes []byte
	row := s.pool.QueryRow(ctx, `SELECT trace FROM orchestrator_sessions WHERE session_id = $1`, sessionID)
	if err := row.Scan(&traceBytes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sessiontypes.SessionTrace{}, false, nil
		}
		return sessiontypes.SessionTrace{}, false, err
	}
	var trace sessiontypes.SessionTrace
	if err := json.Unmarshal(traceBytes, &trace); err != nil {
		return sessiontypes.SessionTrace{}, false, err
	}
	return trace, true, nil
}

func (s *pgSessionStore) SaveFeatureOverrides(ctx context.Context, sessionID string, overrides sessiontypes.FeatureOverrides) error {
	overrideBytes, err := json.Marshal(overrides)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO orchestrator_sessions (session_id, feature_overrides)
VALUES ($1, $2)
ON CONFLICT (session_id) DO UPDATE SET feature_overrides = EXCLUDED.feature_overrides, updated_at = NOW()`,
		sessionID, overrideBytes)
	return err
}

func (s *pgSessionStore) LoadFeatureOverrides(ctx context.Context, sessionID string) (sessiontypes.FeatureOverrides, bool, error) {
	var overrideBytes []byte
	row := s.pool.QueryRow(ctx, `SELECT feature_overrides FROM orchestrator_sessions WHERE session_id = $1`, sessionID)
	if err := row.Scan(&overrideBytes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sessiontypes.FeatureOverrides{}, false, nil
		}
		return sessiontypes.FeatureOverrides{}, false, err
	}
	var overrides sessiontypes.FeatureOverrides
	if len(overrideBytes) == 0 || string(overrideBytes) == "{}" {
		return sessiontypes.FeatureOverrides{}, false, nil
	}
	if err := json.Unmarshal(overrideBytes, &overrides); err != nil {
		return sessiontypes.FeatureOverrides{}, false, err
	}
	return overrides, true, nil
}

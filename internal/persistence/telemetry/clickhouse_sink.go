package telemetry

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"agenticrag/internal/sessiontypes"
)

// ClickHouseSink writes one row per critique attempt to a columnar table,
// for offline analysis of grounding/coverage drift across sessions and
// models. Grounded on the teacher's ClickHouse DSN-parsing convention
// (internal/agentd/metrics_clickhouse.go): clickhouse.ParseDSN + Open rather
// than database/sql, since the native protocol driver batches inserts more
// efficiently than the sql.DB wrapper for this table's write volume.
type ClickHouseSink struct {
	conn  clickhouse.Conn
	table string
}

// NewClickHouseSink opens a connection against dsn and ensures the
// destination table exists. An empty dsn returns (nil, nil): callers treat
// a nil sink as "telemetry disabled."
func NewClickHouseSink(ctx context.Context, dsn, database string) (*ClickHouseSink, error) {
	if dsn == "" {
		return nil, nil
	}
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	if database != "" {
		opts.Auth.Database = database
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	const table = "critique_attempts"
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  session_id String,
  attempt UInt32,
  coverage Float64,
  grounded UInt8,
  action String,
  forced UInt8,
  recorded_at DateTime DEFAULT now()
) ENGINE = MergeTree() ORDER BY (session_id, attempt)`, table)
	if err := conn.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("ensure critique_attempts table: %w", err)
	}

	return &ClickHouseSink{conn: conn, table: table}, nil
}

// RecordCritiqueHistory inserts one row per attempt in history. Best-effort:
// failures are logged, never surfaced to the orchestrator's hot path.
func (s *ClickHouseSink) RecordCritiqueHistory(ctx context.Context, sessionID string, history []sessiontypes.CritiqueAttempt) {
	if s == nil || len(history) == 0 {
		return
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (session_id, attempt, coverage, grounded, action, forced)", s.table))
	if err != nil {
		log.Warn().Err(err).Msg("prepare critique telemetry batch")
		return
	}
	for _, a := range history {
		grounded := uint8(0)
		if a.Grounded {
			grounded = 1
		}
		forced := uint8(0)
		if a.Forced {
			forced = 1
		}
		if err := batch.Append(sessionID, uint32(a.Attempt), a.Coverage, grounded, string(a.Action), forced); err != nil {
			log.Warn().Err(err).Msg("append critique telemetry row")
			return
		}
	}
	if err := batch.Send(); err != nil {
		log.Warn().Err(err).Msg("send critique telemetry batch")
	}
}

// Close releases the underlying ClickHouse connection.
func (s *ClickHouseSink) Close() error {
	if s == nil {
		return nil
	}
	return s.conn.Close()
}

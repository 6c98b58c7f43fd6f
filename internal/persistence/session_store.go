package persistence

import (
	"context"

	"agenticrag/internal/sessiontypes"
)

// SessionStore persists the per-session state spec.md §6.4 calls the
// "session store": one row per session holding the latest SessionTrace and
// any request-level feature overrides the caller has pinned for that
// session, keyed by sessionId.
type SessionStore interface {
	Init(ctx context.Context) error

	// SaveTrace upserts the completed or partial SessionTrace for a session.
	// Called at the end of runSession, and on session-fatal errors with
	// whatever trace was accumulated so far.
	SaveTrace(ctx context.Context, trace sessiontypes.SessionTrace) error

	// LoadTrace returns the last saved trace for a session, if any.
	LoadTrace(ctx context.Context, sessionID string) (sessiontypes.SessionTrace, bool, error)

	// SaveFeatureOverrides persists the per-session override layer consulted
	// by the `request > persisted session > config default` resolver.
	SaveFeatureOverrides(ctx context.Context, sessionID string, overrides sessiontypes.FeatureOverrides) error

	// LoadFeatureOverrides returns the persisted override layer for a
	// session, if one was ever saved.
	LoadFeatureOverrides(ctx context.Context, sessionID string) (sessiontypes.FeatureOverrides, bool, error)
}

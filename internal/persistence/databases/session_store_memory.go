package databases

import (
	"context"
	"sync"

	"agenticrag/internal/persistence"
	"agenticrag/internal/sessiontypes"
)

// NewMemorySessionStore returns a process-local SessionStore, suitable for
// single-node deployments and tests.
func NewMemorySessionStore() persistence.SessionStore {
	return &memSessionStore{
		traces:    map[string]sessiontypes.SessionTrace{},
		overrides: map[string]sessiontypes.FeatureOverrides{},
	}
}

type memSessionStore struct {
	mu        sync.RWMutex
	traces    map[string]sessiontypes.SessionTrace
	overrides map[string]sessiontypes.FeatureOverrides
}

func (s *memSessionStore) Init(ctx context.Context) error { return nil }

func (s *memSessionStore) SaveTrace(ctx context.Context, trace sessiontypes.SessionTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces[trace.SessionID] = trace
	return nil
}

func (s *memSessionStore) LoadTrace(ctx context.Context, sessionID string) (sessiontypes.SessionTrace, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trace, ok := s.traces[sessionID]
	return trace, ok, nil
}

func (s *memSessionStore) SaveFeatureOverrides(ctx context.Context, sessionID string, overrides sessiontypes.FeatureOverrides) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[sessionID] = overrides
	return nil
}

func (s *memSessionStore) LoadFeatureOverrides(ctx context.Context, sessionID string) (sessiontypes.FeatureOverrides, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	overrides, ok := s.overrides[sessionID]
	return overrides, ok, nil
}

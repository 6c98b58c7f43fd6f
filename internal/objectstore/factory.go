package objectstore

import (
	"context"
	"fmt"

	"agenticrag/internal/config"
)

// Build constructs the lazy-reference body store backend selected by
// cfg.Backend ("memory" or "s3"), mirroring
// internal/persistence/databases.NewManager's backend-select idiom.
func Build(ctx context.Context, cfg config.ObjectStoreConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "s3":
		store, err := NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("build s3 object store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported object store backend: %s", cfg.Backend)
	}
}

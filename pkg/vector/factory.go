package vector

import (
	"context"
	"fmt"

	"github.com/dotsetgreg/dotmemory/pkg/config"
	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

// New builds the first enabled backend in redis, pgvector, chromem order.
// It returns nil, nil when vector search is disabled.
func New(ctx context.Context, cfg *config.Config, embedder memory.Embedder) (memory.VectorAdapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", memory.ErrConfiguration)
	}
	switch backend := cfg.ActiveVectorBackend(); backend {
	case "":
		return nil, nil
	case config.BackendRedis:
		a, err := NewRedisAdapter(RedisConfig{
			URL:       cfg.Vector.Redis.URL,
			KeyPrefix: cfg.Vector.Redis.KeyPrefix,
		}, embedder)
		if err != nil {
			return nil, err
		}
		return a, nil
	case config.BackendPGVector:
		dims := 0
		if embedder != nil {
			dims = embedder.Dimensions()
		}
		a, err := NewPGVectorAdapter(ctx, PGVectorConfig{
			DatabaseURL: cfg.Vector.PGVector.DatabaseURL,
			Table:       cfg.Vector.PGVector.Table,
			Dimensions:  dims,
		}, embedder)
		if err != nil {
			return nil, err
		}
		return a, nil
	case config.BackendChromem:
		a, err := NewChromemAdapter(ChromemConfig{
			PersistPath: cfg.ChromemPersistPath(),
			Compress:    cfg.Vector.Chromem.Compress,
		}, embedder)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("%w: unknown vector backend %q", memory.ErrConfiguration, backend)
	}
}

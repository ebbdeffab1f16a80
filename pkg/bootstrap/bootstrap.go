// Package bootstrap resolves configuration once at the host boundary and
// assembles a ready memory.Service from it.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/dotsetgreg/dotmemory/pkg/config"
	"github.com/dotsetgreg/dotmemory/pkg/embedcache"
	"github.com/dotsetgreg/dotmemory/pkg/logger"
	"github.com/dotsetgreg/dotmemory/pkg/memory"
	"github.com/dotsetgreg/dotmemory/pkg/observability"
	"github.com/dotsetgreg/dotmemory/pkg/providers"
	"github.com/dotsetgreg/dotmemory/pkg/vector"
)

// Runtime is everything a host needs to drive one user's memory.
type Runtime struct {
	Config  *config.Config
	Service *memory.Service
	Metrics *observability.Metrics
	Vector  memory.VectorAdapter
}

// ApplyLogging configures the process logger from cfg.
func ApplyLogging(cfg *config.Config) {
	logger.SetFormat(cfg.Logging.Format)
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
}

// Build validates cfg and wires extractor, embedder, vector backend and
// metrics into a memory.Service. A vector backend that cannot be constructed
// is logged and skipped so keyword retrieval keeps working.
func Build(ctx context.Context, cfg *config.Config, userID, sessionID string) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", memory.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrConfiguration, err)
	}

	extractor, err := providers.CreateExtractor(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrConfiguration, err)
	}

	metrics := observability.NewMetrics(cfg.Metrics.Namespace)
	opts := []memory.Option{memory.WithMetrics(metrics)}

	var (
		adapter memory.VectorAdapter
		cache   *embedcache.Cache
	)
	if backend := cfg.ActiveVectorBackend(); backend != "" {
		adapter, cache = buildVector(ctx, cfg, backend)
	}
	if adapter != nil {
		opts = append(opts, memory.WithVectorAdapter(adapter))
	}
	if cache != nil {
		opts = append(opts, memory.WithCloser(cache))
	}

	svc, err := memory.NewService(memory.Config{
		UserID:    userID,
		SessionID: sessionID,
		Store: memory.StoreConfig{
			Root:                cfg.StoragePath(),
			MaxUserMemories:     cfg.Storage.MaxUserMemories,
			MaxSessionMemories:  cfg.Storage.MaxSessionMemories,
			SimilarityThreshold: cfg.Storage.SimilarityThreshold,
		},
		ExtractionTimeout: time.Duration(cfg.Extraction.TimeoutSeconds) * time.Second,
	}, extractor, opts...)
	if err != nil {
		if adapter != nil {
			_ = adapter.Close()
		}
		if cache != nil {
			_ = cache.Close()
		}
		return nil, err
	}

	logger.InfoCF("bootstrap", "Memory service built", map[string]interface{}{
		"extractor": extractor.Name(),
		"vector":    cfg.ActiveVectorBackend(),
		"storage":   cfg.StoragePath(),
	})
	return &Runtime{Config: cfg, Service: svc, Metrics: metrics, Vector: adapter}, nil
}

func buildVector(ctx context.Context, cfg *config.Config, backend string) (memory.VectorAdapter, *embedcache.Cache) {
	embedder, err := providers.CreateEmbedder(cfg)
	if err != nil {
		logger.WarnCF("bootstrap", "Embedder unavailable, vector search disabled", map[string]interface{}{
			"backend": backend,
			"error":   err.Error(),
		})
		return nil, nil
	}

	cache, err := embedcache.New(embedder, embedcache.Config{
		Path:     cfg.EmbeddingCachePath(),
		MaxItems: cfg.Embedding.CacheMaxItems,
	})
	if err != nil {
		logger.WarnCF("bootstrap", "Embedding cache unavailable, embedding uncached", map[string]interface{}{
			"error": err.Error(),
		})
		cache = nil
	} else {
		embedder = cache
	}

	adapter, err := vector.New(ctx, cfg, embedder)
	if err != nil || adapter == nil {
		fields := map[string]interface{}{"backend": backend}
		if err != nil {
			fields["error"] = err.Error()
		}
		logger.WarnCF("bootstrap", "Vector backend unavailable, keyword retrieval only", fields)
		if cache != nil {
			_ = cache.Close()
		}
		return nil, nil
	}
	return adapter, cache
}

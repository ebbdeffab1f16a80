// Package embedcache memoizes embeddings so repeated memory content and
// queries do not pay for a provider round trip.
package embedcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	_ "modernc.org/sqlite"

	"github.com/dotsetgreg/dotmemory/pkg/logger"
	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

const defaultMaxItems = 10000

type Config struct {
	// Path of the sqlite file backing the cache. Empty keeps the cache
	// in-process only.
	Path     string
	MaxItems int
}

// Cache wraps an Embedder with an in-process ristretto cache in front of an
// optional sqlite table keyed by model and text digest.
type Cache struct {
	inner memory.Embedder
	front *ristretto.Cache
	db    *sql.DB

	hits   atomic.Int64
	misses atomic.Int64
}

func New(inner memory.Embedder, cfg Config) (*Cache, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: embedding cache needs an embedder", memory.ErrConfiguration)
	}
	maxItems := cfg.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}

	front, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        int64(maxItems) * 10,
		MaxCost:            int64(maxItems),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding front cache: %w", err)
	}

	c := &Cache{inner: inner, front: front}
	if cfg.Path != "" {
		db, err := openDB(cfg.Path)
		if err != nil {
			front.Close()
			return nil, err
		}
		c.db = db
	}
	return c, nil
}

func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create embedding cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			model TEXT NOT NULL,
			digest TEXT NOT NULL,
			vector_json TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY (model, digest)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init embedding cache: %w", err)
		}
	}
	return db, nil
}

func (c *Cache) ModelID() string { return c.inner.ModelID() }
func (c *Cache) Dimensions() int { return c.inner.Dimensions() }

func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	if !memory.WorthEmbedding(text) {
		return nil, nil
	}
	digest := textDigest(text)
	key := c.inner.ModelID() + ":" + digest

	if v, ok := c.front.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			c.hits.Add(1)
			return vec, nil
		}
	}
	if vec := c.lookup(ctx, digest); vec != nil {
		c.hits.Add(1)
		c.front.Set(key, vec, 1)
		return vec, nil
	}

	c.misses.Add(1)
	vec, err := c.inner.Embed(ctx, text)
	if err != nil || vec == nil {
		return vec, err
	}
	c.front.Set(key, vec, 1)
	c.persist(ctx, digest, vec)
	return vec, nil
}

func (c *Cache) lookup(ctx context.Context, digest string) []float32 {
	if c.db == nil {
		return nil
	}
	var raw string
	err := c.db.QueryRowContext(ctx,
		`SELECT vector_json FROM embeddings WHERE model = ? AND digest = ?`,
		c.inner.ModelID(), digest,
	).Scan(&raw)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.WarnCF("embedcache", "Embedding lookup failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil || len(vec) == 0 {
		return nil
	}
	return vec
}

func (c *Cache) persist(ctx context.Context, digest string, vec []float32) {
	if c.db == nil {
		return
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	_, err = c.db.ExecContext(ctx, `
INSERT INTO embeddings(model, digest, vector_json, created_at_ms)
VALUES(?, ?, ?, ?)
ON CONFLICT(model, digest) DO UPDATE SET vector_json = excluded.vector_json`,
		c.inner.ModelID(), digest, string(raw), time.Now().UnixMilli(),
	)
	if err != nil {
		logger.WarnCF("embedcache", "Embedding persist failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Stats reports cache hits and misses since construction.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Wait blocks until buffered front-cache writes are visible.
func (c *Cache) Wait() { c.front.Wait() }

func (c *Cache) Close() error {
	c.front.Close()
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func textDigest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

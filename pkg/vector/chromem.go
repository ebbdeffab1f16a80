package vector

import (
	"context"
	"fmt"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/dotsetgreg/dotmemory/pkg/logger"
	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

type ChromemConfig struct {
	// PersistPath keeps the index on disk. Empty means in-memory only.
	PersistPath string
	Compress    bool
}

// ChromemAdapter is an embedded vector index with one collection per user.
type ChromemAdapter struct {
	db       *chromem.DB
	embedder memory.Embedder
}

func NewChromemAdapter(cfg ChromemConfig, embedder memory.Embedder) (*ChromemAdapter, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: chromem needs an embedder", memory.ErrConfiguration)
	}
	var (
		db  *chromem.DB
		err error
	)
	if path := strings.TrimSpace(cfg.PersistPath); path != "" {
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, backendErr("chromem", "open "+path, err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &ChromemAdapter{db: db, embedder: embedder}, nil
}

func (a *ChromemAdapter) Name() string { return "Chromem" }

func (a *ChromemAdapter) Available(context.Context) bool { return a.db != nil }

func collectionName(userID string) string {
	if userID == "" {
		return "global"
	}
	return "user_" + userID
}

// embeddingFunc lets chromem embed on its own when a document arrives
// without a vector. Absent embeddings become an error there.
func (a *ChromemAdapter) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vec, err := a.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if vec == nil {
			return nil, fmt.Errorf("text too short to embed")
		}
		return vec, nil
	}
}

func (a *ChromemAdapter) Store(ctx context.Context, rec memory.Record, userID, sessionID string) error {
	vec, err := embed(ctx, a.embedder, rec.Content)
	if err != nil || vec == nil {
		return err
	}

	col, err := a.db.GetOrCreateCollection(collectionName(userID), nil, a.embeddingFunc())
	if err != nil {
		return backendErr("chromem", "collection", err)
	}

	doc := chromem.Document{
		ID:        contentDigest(rec.Content),
		Content:   rec.Content,
		Embedding: vec,
		Metadata: map[string]string{
			fieldID:         rec.ID,
			fieldCategory:   string(rec.Category),
			fieldImportance: string(rec.Importance),
			fieldType:       string(rec.Type),
			fieldTimestamp:  rec.Timestamp.UTC().Format(time.RFC3339Nano),
			fieldUserID:     userID,
			fieldSessionID:  sessionID,
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return backendErr("chromem", "store", err)
	}
	return nil
}

func (a *ChromemAdapter) Search(ctx context.Context, query string, limit int, userID string) ([]memory.SearchHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	qvec, err := embed(ctx, a.embedder, query)
	if err != nil || qvec == nil {
		return nil, err
	}

	col := a.db.GetCollection(collectionName(userID), a.embeddingFunc())
	if col == nil {
		return nil, nil
	}
	// chromem rejects nResults above the collection size.
	n := limit
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, qvec, n, nil, nil)
	if err != nil {
		return nil, backendErr("chromem", "search", err)
	}

	hits := make([]memory.SearchHit, 0, len(results))
	for _, res := range results {
		rec := memory.Record{
			ID:         res.Metadata[fieldID],
			Content:    res.Content,
			Category:   memory.Category(res.Metadata[fieldCategory]),
			Importance: memory.Importance(res.Metadata[fieldImportance]),
			Type:       memory.Bucket(res.Metadata[fieldType]),
		}
		if ts, err := time.Parse(time.RFC3339Nano, res.Metadata[fieldTimestamp]); err == nil {
			rec.Timestamp = ts
		}
		hits = append(hits, memory.SearchHit{Record: rec, Similarity: float64(res.Similarity)})
	}
	return topHits(hits, limit), nil
}

func (a *ChromemAdapter) ClearUser(_ context.Context, userID string) error {
	if err := a.db.DeleteCollection(collectionName(userID)); err != nil {
		return backendErr("chromem", "clear user", err)
	}
	logger.InfoCF("vector", "Cleared user vectors", map[string]interface{}{
		"backend": "chromem",
		"user_id": userID,
	})
	return nil
}

func (a *ChromemAdapter) ClearSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	where := map[string]string{fieldSessionID: sessionID}
	for name, col := range a.db.ListCollections() {
		if col.Count() == 0 {
			continue
		}
		if err := col.Delete(ctx, where, nil); err != nil {
			return backendErr("chromem", "clear session in "+name, err)
		}
	}
	logger.InfoCF("vector", "Cleared session vectors", map[string]interface{}{
		"backend":    "chromem",
		"session_id": sessionID,
	})
	return nil
}

// Close is a no-op. Persistent databases write through on every add.
func (a *ChromemAdapter) Close() error { return nil }

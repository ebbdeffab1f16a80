package vector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dotsetgreg/dotmemory/pkg/logger"
	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

const defaultPGVectorTable = "memories"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

type PGVectorConfig struct {
	DatabaseURL string
	Table       string
	Dimensions  int
}

// PGVectorAdapter stores memories in a pgvector column and ranks by cosine
// distance in the database.
type PGVectorAdapter struct {
	pool     *pgxpool.Pool
	embedder memory.Embedder
	table    string
}

func NewPGVectorAdapter(ctx context.Context, cfg PGVectorConfig, embedder memory.Embedder) (*PGVectorAdapter, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("%w: pgvector database url is required", memory.ErrConfiguration)
	}
	table, err := resolveTableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	dims := cfg.Dimensions
	if dims <= 0 && embedder != nil {
		dims = embedder.Dimensions()
	}
	if dims <= 0 {
		return nil, fmt.Errorf("%w: pgvector needs embedding dimensions", memory.ErrConfiguration)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, backendErr("pgvector", "connect", err)
	}
	if err := initSchema(ctx, pool, table, dims); err != nil {
		pool.Close()
		return nil, err
	}

	return &PGVectorAdapter{pool: pool, embedder: embedder, table: table}, nil
}

func resolveTableName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultPGVectorTable, nil
	}
	if !tableNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: invalid pgvector table name %q", memory.ErrConfiguration, name)
	}
	return name, nil
}

func schemaStatements(table string, dims int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			record_id TEXT NOT NULL,
			content TEXT NOT NULL,
			category VARCHAR(100),
			importance VARCHAR(20),
			type VARCHAR(20),
			timestamp TIMESTAMPTZ,
			user_id VARCHAR(100),
			session_id VARCHAR(100),
			embedding vector(%d),
			UNIQUE (content, user_id)
		);`, table, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user ON %s (user_id);`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_session ON %s (session_id);`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_vector ON %s USING ivfflat (embedding vector_cosine_ops);`, table, table),
	}
}

func initSchema(ctx context.Context, pool *pgxpool.Pool, table string, dims int) error {
	for _, stmt := range schemaStatements(table, dims) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return backendErr("pgvector", fmt.Sprintf("init schema on %q", stmt), err)
		}
	}
	return nil
}

func (a *PGVectorAdapter) Name() string { return "PGVector" }

func (a *PGVectorAdapter) Available(ctx context.Context) bool {
	if a.pool == nil {
		return false
	}
	if err := a.pool.Ping(ctx); err != nil {
		logger.WarnCF("vector", "PGVector not available", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}
	return true
}

func (a *PGVectorAdapter) Store(ctx context.Context, rec memory.Record, userID, sessionID string) error {
	vec, err := embed(ctx, a.embedder, rec.Content)
	if err != nil || vec == nil {
		return err
	}

	_, err = a.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (record_id, content, category, importance, type, timestamp, user_id, session_id, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::vector)
		 ON CONFLICT (content, user_id) DO UPDATE SET
		 timestamp = EXCLUDED.timestamp, embedding = EXCLUDED.embedding`, a.table),
		rec.ID,
		rec.Content,
		string(rec.Category),
		string(rec.Importance),
		string(rec.Type),
		rec.Timestamp.UTC(),
		userID,
		sessionID,
		vectorLiteral(vec),
	)
	if err != nil {
		return backendErr("pgvector", "store", err)
	}
	return nil
}

func (a *PGVectorAdapter) Search(ctx context.Context, query string, limit int, userID string) ([]memory.SearchHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	qvec, err := embed(ctx, a.embedder, query)
	if err != nil || qvec == nil {
		return nil, err
	}

	rows, err := a.pool.Query(ctx, fmt.Sprintf(
		`SELECT record_id, content, category, importance, type, timestamp, embedding <=> $1::vector AS distance
		 FROM %s WHERE user_id = $2
		 ORDER BY embedding <=> $1::vector
		 LIMIT $3`, a.table),
		vectorLiteral(qvec),
		userID,
		limit,
	)
	if err != nil {
		return nil, backendErr("pgvector", "search", err)
	}
	defer rows.Close()

	hits := make([]memory.SearchHit, 0, limit)
	for rows.Next() {
		var (
			rec                              memory.Record
			category, importance, bucketType *string
			ts                               *time.Time
			distance                         float64
		)
		if err := rows.Scan(&rec.ID, &rec.Content, &category, &importance, &bucketType, &ts, &distance); err != nil {
			return nil, backendErr("pgvector", "scan", err)
		}
		if category != nil {
			rec.Category = memory.Category(*category)
		}
		if importance != nil {
			rec.Importance = memory.Importance(*importance)
		}
		if bucketType != nil {
			rec.Type = memory.Bucket(*bucketType)
		}
		if ts != nil {
			rec.Timestamp = *ts
		}
		hits = append(hits, memory.SearchHit{Record: rec, Similarity: 1.0 - distance})
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("pgvector", "iterate", err)
	}
	return hits, nil
}

func (a *PGVectorAdapter) ClearUser(ctx context.Context, userID string) error {
	return a.deleteWhere(ctx, "user_id", userID)
}

func (a *PGVectorAdapter) ClearSession(ctx context.Context, sessionID string) error {
	return a.deleteWhere(ctx, "session_id", sessionID)
}

func (a *PGVectorAdapter) deleteWhere(ctx context.Context, column, value string) error {
	tag, err := a.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, a.table, column), value)
	if err != nil {
		return backendErr("pgvector", "clear "+column, err)
	}
	logger.InfoCF("vector", "Cleared vectors", map[string]interface{}{
		"backend": "pgvector",
		"column":  column,
		"count":   tag.RowsAffected(),
	})
	return nil
}

func (a *PGVectorAdapter) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

// vectorLiteral renders the pgvector text input form, e.g. [0.1,-0.2].
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.Grow(len(vec)*10 + 2)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

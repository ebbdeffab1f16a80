package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dotsetgreg/dotmemory/pkg/logger"
	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

const defaultRedisPrefix = "memory"

type RedisConfig struct {
	URL       string
	KeyPrefix string
}

// RedisAdapter keeps one hash per memory plus per-user and per-session index
// sets. Similarity is computed client-side over the user's index.
type RedisAdapter struct {
	client   *redis.Client
	embedder memory.Embedder
	prefix   string
}

func NewRedisAdapter(cfg RedisConfig, embedder memory.Embedder) (*RedisAdapter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: redis url is required", memory.ErrConfiguration)
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", memory.ErrConfiguration, err)
	}
	return NewRedisAdapterWithClient(redis.NewClient(opts), cfg.KeyPrefix, embedder), nil
}

func NewRedisAdapterWithClient(client *redis.Client, prefix string, embedder memory.Embedder) *RedisAdapter {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisAdapter{client: client, embedder: embedder, prefix: prefix}
}

func (a *RedisAdapter) Name() string { return "Redis" }

func (a *RedisAdapter) Available(ctx context.Context) bool {
	if a.client == nil {
		return false
	}
	if err := a.client.Ping(ctx).Err(); err != nil {
		logger.WarnCF("vector", "Redis not available", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}
	return true
}

func (a *RedisAdapter) memoryKey(userID, content string) string {
	return fmt.Sprintf("%s:%s:%s", a.prefix, userID, contentDigest(content))
}

func (a *RedisAdapter) userIndexKey(userID string) string {
	return fmt.Sprintf("%s_index:%s", a.prefix, userID)
}

func (a *RedisAdapter) sessionIndexKey(sessionID string) string {
	return fmt.Sprintf("%s_session_index:%s", a.prefix, sessionID)
}

func (a *RedisAdapter) Store(ctx context.Context, rec memory.Record, userID, sessionID string) error {
	vec, err := embed(ctx, a.embedder, rec.Content)
	if err != nil || vec == nil {
		return err
	}

	fields, err := encodeRedisHash(rec, userID, sessionID, vec)
	if err != nil {
		return backendErr("redis", "encode", err)
	}

	key := a.memoryKey(userID, rec.Content)
	pipe := a.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, a.userIndexKey(userID), key)
	if sessionID != "" {
		pipe.SAdd(ctx, a.sessionIndexKey(sessionID), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return backendErr("redis", "store", err)
	}

	logger.DebugCF("vector", "Stored memory in Redis", map[string]interface{}{
		"key": key,
	})
	return nil
}

func (a *RedisAdapter) Search(ctx context.Context, query string, limit int, userID string) ([]memory.SearchHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	qvec, err := embed(ctx, a.embedder, query)
	if err != nil || qvec == nil {
		return nil, err
	}

	keys, err := a.client.SMembers(ctx, a.userIndexKey(userID)).Result()
	if err != nil {
		return nil, backendErr("redis", "search", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := a.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, backendErr("redis", "search", err)
	}

	hits := make([]memory.SearchHit, 0, len(keys))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		rec, vec, ok := decodeRedisHash(fields)
		if !ok {
			continue
		}
		hits = append(hits, memory.SearchHit{
			Record:     rec,
			Similarity: memory.CosineSimilarity(qvec, vec),
		})
	}
	return topHits(hits, limit), nil
}

func (a *RedisAdapter) ClearUser(ctx context.Context, userID string) error {
	indexKey := a.userIndexKey(userID)
	keys, err := a.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return backendErr("redis", "clear user", err)
	}
	if err := a.client.Del(ctx, append(keys, indexKey)...).Err(); err != nil {
		return backendErr("redis", "clear user", err)
	}
	logger.InfoCF("vector", "Cleared user vectors", map[string]interface{}{
		"backend": "redis",
		"count":   len(keys),
	})
	return nil
}

func (a *RedisAdapter) ClearSession(ctx context.Context, sessionID string) error {
	indexKey := a.sessionIndexKey(sessionID)
	keys, err := a.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return backendErr("redis", "clear session", err)
	}

	owners := a.client.Pipeline()
	ownerCmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		ownerCmds[i] = owners.HGet(ctx, key, fieldUserID)
	}
	if len(keys) > 0 {
		if _, err := owners.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return backendErr("redis", "clear session", err)
		}
	}

	pipe := a.client.TxPipeline()
	for i, key := range keys {
		if owner, err := ownerCmds[i].Result(); err == nil {
			pipe.SRem(ctx, a.userIndexKey(owner), key)
		}
	}
	pipe.Del(ctx, append(keys, indexKey)...)
	if _, err := pipe.Exec(ctx); err != nil {
		return backendErr("redis", "clear session", err)
	}
	logger.InfoCF("vector", "Cleared session vectors", map[string]interface{}{
		"backend": "redis",
		"count":   len(keys),
	})
	return nil
}

func (a *RedisAdapter) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

func encodeRedisHash(rec memory.Record, userID, sessionID string, vec []float32) (map[string]interface{}, error) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		fieldID:         rec.ID,
		fieldContent:    rec.Content,
		fieldCategory:   string(rec.Category),
		fieldImportance: string(rec.Importance),
		fieldType:       string(rec.Type),
		fieldTimestamp:  rec.Timestamp.UTC().Format(time.RFC3339Nano),
		fieldUserID:     userID,
		fieldSessionID:  sessionID,
		fieldEmbedding:  string(raw),
	}, nil
}

func decodeRedisHash(fields map[string]string) (memory.Record, []float32, bool) {
	raw, ok := fields[fieldEmbedding]
	if !ok || raw == "" {
		return memory.Record{}, nil, false
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil || len(vec) == 0 {
		return memory.Record{}, nil, false
	}
	rec := memory.Record{
		ID:         fields[fieldID],
		Content:    fields[fieldContent],
		Category:   memory.Category(fields[fieldCategory]),
		Importance: memory.Importance(fields[fieldImportance]),
		Type:       memory.Bucket(fields[fieldType]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields[fieldTimestamp]); err == nil {
		rec.Timestamp = ts
	}
	return rec, vec, true
}

// topHits orders by descending similarity and keeps the first limit.
func topHits(hits []memory.SearchHit, limit int) []memory.SearchHit {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

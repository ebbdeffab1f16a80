package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/dotmemory/pkg/logger"
	"github.com/google/uuid"
)

const (
	defaultMaxUserMemories     = 100
	defaultMaxSessionMemories  = 30
	defaultSimilarityThreshold = 0.7
)

// StoreConfig configures a FileStore.
type StoreConfig struct {
	Root                string
	MaxUserMemories     int
	MaxSessionMemories  int
	SimilarityThreshold float64
}

// FileStore keeps one JSON document per user and per session under Root.
//
// Appends to the same entity are serialized inside one process. Separate
// processes writing the same entity can still lose updates (last rename wins).
type FileStore struct {
	cfg    StoreConfig
	policy *DefaultPolicy
	locks  sync.Map
	now    func() time.Time
}

func NewFileStore(cfg StoreConfig) (*FileStore, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("%w: storage root is required", ErrConfiguration)
	}
	if cfg.MaxUserMemories <= 0 {
		cfg.MaxUserMemories = defaultMaxUserMemories
	}
	if cfg.MaxSessionMemories <= 0 {
		cfg.MaxSessionMemories = defaultMaxSessionMemories
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = defaultSimilarityThreshold
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("%w: create storage root: %v", ErrConfiguration, err)
	}
	return &FileStore{
		cfg:    cfg,
		policy: NewDefaultPolicy(),
		now:    time.Now,
	}, nil
}

// Path returns the document location for an entity.
func (s *FileStore) Path(bucket Bucket, entityID string) string {
	return filepath.Join(s.cfg.Root, string(bucket)+"_"+url.PathEscape(entityID)+".json")
}

// Append validates, deduplicates and persists records into the entity's
// collection, then applies the bucket's retention cap. Records that fail
// validation are dropped. An error means the previous document is intact.
func (s *FileStore) Append(bucket Bucket, entityID string, records []Record) error {
	if len(records) == 0 || strings.TrimSpace(entityID) == "" {
		return nil
	}
	path := s.Path(bucket, entityID)
	mu := s.lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	col := s.load(path)
	now := s.now().UTC()
	added := 0
	for _, in := range records {
		rec, err := s.policy.Validate(Candidate{
			Content:    in.Content,
			Category:   string(in.Category),
			Importance: string(in.Importance),
			Type:       string(bucket),
		})
		if err != nil {
			logger.DebugCF("store", "Dropped invalid memory", map[string]interface{}{
				"bucket": string(bucket),
				"error":  err.Error(),
			})
			continue
		}
		rec.Type = bucket
		rec.ID = in.ID
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.Timestamp = in.Timestamp
		if rec.Timestamp.IsZero() {
			rec.Timestamp = now
		}

		if bucket == BucketUser && s.isDuplicate(col.Memories, rec.Content) {
			logger.DebugCF("store", "Skipped duplicate memory", map[string]interface{}{
				"entity":  entityID,
				"content": rec.Content,
			})
			continue
		}
		col.Memories = append(col.Memories, rec)
		added++
	}
	if added == 0 {
		return nil
	}

	switch bucket {
	case BucketUser:
		sortByImportance(col.Memories)
		if len(col.Memories) > s.cfg.MaxUserMemories {
			col.Memories = col.Memories[:s.cfg.MaxUserMemories]
		}
	default:
		if n := len(col.Memories); n > s.cfg.MaxSessionMemories {
			col.Memories = col.Memories[n-s.cfg.MaxSessionMemories:]
		}
	}
	col.LastUpdated = now

	if err := writeFileAtomic(path, col); err != nil {
		logger.ErrorCF("store", "Failed to persist memories", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return err
	}
	logger.DebugCF("store", "Persisted memories", map[string]interface{}{
		"bucket": string(bucket),
		"entity": entityID,
		"added":  added,
		"total":  len(col.Memories),
	})
	return nil
}

// Read returns the stored sequence, or the keyword-relevant subset when
// query is non-empty.
func (s *FileStore) Read(bucket Bucket, entityID, query string) []Record {
	if strings.TrimSpace(entityID) == "" {
		return nil
	}
	col := s.load(s.Path(bucket, entityID))
	if strings.TrimSpace(query) == "" {
		return col.Memories
	}
	return FilterByRelevance(col.Memories, query)
}

// Clear deletes the entity's document.
func (s *FileStore) Clear(bucket Bucket, entityID string) error {
	if strings.TrimSpace(entityID) == "" {
		return nil
	}
	path := s.Path(bucket, entityID)
	mu := s.lockFor(path)
	mu.Lock()
	defer mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", ErrStorage, path, err)
	}
	return nil
}

func (s *FileStore) Count(bucket Bucket, entityID string) int {
	if strings.TrimSpace(entityID) == "" {
		return 0
	}
	return len(s.load(s.Path(bucket, entityID)).Memories)
}

func (s *FileStore) isDuplicate(existing []Record, content string) bool {
	incoming := wordSet(content)
	for _, rec := range existing {
		if jaccard(incoming, wordSet(rec.Content)) > s.cfg.SimilarityThreshold {
			return true
		}
	}
	return false
}

func (s *FileStore) lockFor(path string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(path, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// load never fails: a missing document is empty and an unreadable one is
// logged and treated as empty.
func (s *FileStore) load(path string) Collection {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.WarnCF("store", "Failed to read memory document", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
		return Collection{}
	}
	var col Collection
	if err := json.Unmarshal(data, &col); err != nil {
		logger.WarnCF("store", "Corrupt memory document treated as empty", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return Collection{}
	}
	return col
}

func writeFileAtomic(path string, col Collection) error {
	data, err := json.MarshalIndent(col, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrStorage, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrStorage, dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrStorage, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write temp: %v", ErrStorage, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync temp: %v", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close temp: %v", ErrStorage, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("%w: rename: %v", ErrStorage, err)
	}
	return nil
}

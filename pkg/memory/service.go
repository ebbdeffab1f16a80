package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/dotmemory/pkg/logger"
	"github.com/google/uuid"
)

const defaultExtractionTimeout = 60 * time.Second

// Config configures one memory service for a (user, session) pair.
type Config struct {
	UserID            string
	SessionID         string
	Store             StoreConfig
	ExtractionTimeout time.Duration
}

type Option func(*Service)

// WithVectorAdapter mirrors stored memories into a similarity index.
func WithVectorAdapter(v VectorAdapter) Option {
	return func(s *Service) { s.vector = v }
}

func WithMetrics(m MetricsSink) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCloser registers a resource released by Close after the vector
// adapter.
func WithCloser(c io.Closer) Option {
	return func(s *Service) {
		if c != nil {
			s.closers = append(s.closers, c)
		}
	}
}

// Service is the orchestrator for memory extraction, storage and retrieval
// of one user and session.
type Service struct {
	cfg       Config
	store     *FileStore
	retriever *HybridRetriever
	extractor Extractor
	vector    VectorAdapter
	policy    *DefaultPolicy
	metrics   MetricsSink
	closers   []io.Closer

	seenMu sync.Mutex
	seen   map[string]struct{}

	lastMu         sync.RWMutex
	lastExtraction time.Time

	lifeMu sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

func NewService(cfg Config, extractor Extractor, opts ...Option) (*Service, error) {
	if strings.TrimSpace(cfg.UserID) == "" && strings.TrimSpace(cfg.SessionID) == "" {
		return nil, fmt.Errorf("%w: user id or session id is required", ErrConfiguration)
	}
	if extractor == nil {
		return nil, fmt.Errorf("%w: extractor is required", ErrConfiguration)
	}
	if cfg.ExtractionTimeout <= 0 {
		cfg.ExtractionTimeout = defaultExtractionTimeout
	}
	if cfg.Store.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("%w: similarity threshold %.2f exceeds 1", ErrConfiguration, cfg.Store.SimilarityThreshold)
	}
	store, err := NewFileStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		policy:    NewDefaultPolicy(),
		seen:      map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.retriever = NewHybridRetriever(store, svc.vector, svc.metrics)

	logger.DebugCF("memory", "Memory service ready", map[string]interface{}{
		"user_id":    cfg.UserID,
		"session_id": cfg.SessionID,
		"extractor":  extractor.Name(),
		"vector":     svc.vectorName(),
	})
	return svc, nil
}

// Store exposes the underlying file store.
func (s *Service) Store() *FileStore { return s.store }

// SubmitTurn schedules background extraction for a conversation turn and
// reports whether it did. A turn already seen by this service is ignored.
// The seen set lives as long as the service and is never pruned.
func (s *Service) SubmitTurn(messages []Message, response string) bool {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if s.closed {
		return false
	}

	fp := Fingerprint(messages, response)
	s.seenMu.Lock()
	if _, ok := s.seen[fp]; ok {
		s.seenMu.Unlock()
		return false
	}
	s.seen[fp] = struct{}{}
	s.seenMu.Unlock()

	msgs := append([]Message(nil), messages...)
	s.wg.Add(1)
	go s.runExtraction(msgs, response)
	return true
}

// Wait blocks until every scheduled extraction has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) runExtraction(messages []Message, response string) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("memory", "Memory extraction panicked", map[string]interface{}{
				"user_id":    s.cfg.UserID,
				"session_id": s.cfg.SessionID,
				"panic":      fmt.Sprint(r),
			})
			s.observeExtraction("panic")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ExtractionTimeout)
	defer cancel()

	transcript := FormatTranscript(messages, response)
	if !s.policy.ShouldExtract(transcript) {
		logger.DebugCF("memory", "Skipped extraction for short or generic turn", map[string]interface{}{
			"session_id": s.cfg.SessionID,
			"length":     len(transcript),
		})
		s.observeExtraction("skipped")
		return
	}

	candidates, err := s.extractor.Extract(ctx, transcript)
	if err != nil {
		if !errors.Is(err, ErrExtraction) {
			err = fmt.Errorf("%w: %v", ErrExtraction, err)
		}
		logger.WarnCF("memory", "Memory extraction failed", map[string]interface{}{
			"extractor": s.extractor.Name(),
			"error":     err.Error(),
		})
		s.observeExtraction("failed")
		return
	}
	if len(candidates) == 0 {
		s.observeExtraction("empty")
		return
	}

	stored := s.StoreMemories(ctx, candidates)
	s.lastMu.Lock()
	s.lastExtraction = time.Now().UTC()
	s.lastMu.Unlock()
	s.observeExtraction("succeeded")
	logger.InfoCF("memory", "Extracted memories from turn", map[string]interface{}{
		"user_id":    s.cfg.UserID,
		"session_id": s.cfg.SessionID,
		"candidates": len(candidates),
		"accepted":   stored,
	})
}

// StoreMemories validates and persists pre-extracted memories, bypassing the
// extractor, and returns how many passed validation.
func (s *Service) StoreMemories(ctx context.Context, candidates []Candidate) int {
	if len(candidates) == 0 {
		return 0
	}
	now := time.Now().UTC()
	var user, session []Record
	for _, c := range candidates {
		rec, err := s.policy.Validate(c)
		if err != nil {
			logger.DebugCF("memory", "Dropped invalid memory", map[string]interface{}{"error": err.Error()})
			if s.metrics != nil {
				s.metrics.MemoryDropped("validation")
			}
			continue
		}
		rec.ID = uuid.NewString()
		rec.Timestamp = now
		if rec.Type == BucketUser {
			user = append(user, rec)
		} else {
			session = append(session, rec)
		}
	}
	s.persist(ctx, user, session)
	return len(user) + len(session)
}

func (s *Service) persist(ctx context.Context, user, session []Record) {
	if len(user) > 0 {
		if err := s.store.Append(BucketUser, s.cfg.UserID, user); err == nil && s.metrics != nil {
			s.metrics.MemoryStored(BucketUser, len(user))
		}
	}
	if len(session) > 0 {
		if err := s.store.Append(BucketSession, s.cfg.SessionID, session); err == nil && s.metrics != nil {
			s.metrics.MemoryStored(BucketSession, len(session))
		}
	}
	s.mirrorToVector(ctx, append(append([]Record(nil), user...), session...))
}

func (s *Service) mirrorToVector(ctx context.Context, records []Record) {
	if s.vector == nil || len(records) == 0 || !s.vector.Available(ctx) {
		return
	}
	for _, rec := range records {
		if err := s.vector.Store(ctx, rec, s.cfg.UserID, s.cfg.SessionID); err != nil {
			logger.WarnCF("memory", "Failed to index memory", map[string]interface{}{
				"backend": s.vector.Name(),
				"error":   err.Error(),
			})
			if s.metrics != nil {
				s.metrics.VectorFailure(s.vector.Name(), "store")
			}
		}
	}
}

// GetRelevantMemories returns up to limit memories for query, vector hits
// first when useVector is set and an index is available.
func (s *Service) GetRelevantMemories(ctx context.Context, query string, limit int, useVector bool) []Record {
	return s.retriever.Recall(ctx, query, RetrievalOptions{
		UserID:    s.cfg.UserID,
		SessionID: s.cfg.SessionID,
		Limit:     limit,
		UseVector: useVector,
	})
}

// SearchSimilarMemories queries only the vector index.
func (s *Service) SearchSimilarMemories(ctx context.Context, query string, limit int) []SearchHit {
	if limit <= 0 {
		limit = keywordFallbackN
	}
	return s.retriever.Similar(ctx, query, limit, s.cfg.UserID)
}

func (s *Service) GetUserMemories(query string) []Record {
	return s.store.Read(BucketUser, s.cfg.UserID, query)
}

func (s *Service) GetSessionMemories(query string) []Record {
	return s.store.Read(BucketSession, s.cfg.SessionID, query)
}

func (s *Service) GetMemoryStats(ctx context.Context) Stats {
	st := Stats{
		UserMemories:    s.store.Count(BucketUser, s.cfg.UserID),
		SessionMemories: s.store.Count(BucketSession, s.cfg.SessionID),
		VectorBackend:   s.vectorName(),
	}
	st.TotalMemories = st.UserMemories + st.SessionMemories
	st.VectorEnabled = s.vector != nil && s.vector.Available(ctx)

	s.lastMu.RLock()
	if !s.lastExtraction.IsZero() {
		last := s.lastExtraction
		st.LastExtraction = &last
	}
	s.lastMu.RUnlock()
	return st
}

// ClearMemories removes the "user" or "session" bucket and its vectors.
func (s *Service) ClearMemories(ctx context.Context, kind string) error {
	bucket, err := ParseBucket(kind)
	if err != nil {
		return err
	}
	entity := s.entityFor(bucket)
	if err := s.store.Clear(bucket, entity); err != nil {
		logger.ErrorCF("memory", "Failed to clear memories", map[string]interface{}{
			"bucket": string(bucket),
			"error":  err.Error(),
		})
	}
	if s.vector != nil && s.vector.Available(ctx) {
		var verr error
		if bucket == BucketUser {
			verr = s.vector.ClearUser(ctx, s.cfg.UserID)
		} else {
			verr = s.vector.ClearSession(ctx, s.cfg.SessionID)
		}
		if verr != nil {
			logger.WarnCF("memory", "Failed to clear vectors", map[string]interface{}{
				"backend": s.vector.Name(),
				"bucket":  string(bucket),
				"error":   verr.Error(),
			})
			if s.metrics != nil {
				s.metrics.VectorFailure(s.vector.Name(), "clear")
			}
		}
	}
	logger.InfoCF("memory", "Cleared memories", map[string]interface{}{
		"bucket": string(bucket),
		"entity": entity,
	})
	return nil
}

func (s *Service) ExportMemories() Export {
	exp := Export{
		UserMemories:    s.store.Read(BucketUser, s.cfg.UserID, ""),
		SessionMemories: s.store.Read(BucketSession, s.cfg.SessionID, ""),
		ExportedAt:      time.Now().UTC(),
		Version:         ExportVersion,
	}
	if exp.UserMemories == nil {
		exp.UserMemories = []Record{}
	}
	if exp.SessionMemories == nil {
		exp.SessionMemories = []Record{}
	}
	return exp
}

// ImportMemories merges an exported document through the normal append
// path. A payload that is not an export-shaped JSON object is rejected with
// ErrInvalidImport and nothing is written.
func (s *Service) ImportMemories(ctx context.Context, raw []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return fmt.Errorf("%w: expected a JSON object", ErrInvalidImport)
	}
	user, err := decodeImportList(doc["user_memories"])
	if err != nil {
		return fmt.Errorf("%w: user_memories: %v", ErrInvalidImport, err)
	}
	session, err := decodeImportList(doc["session_memories"])
	if err != nil {
		return fmt.Errorf("%w: session_memories: %v", ErrInvalidImport, err)
	}

	user = s.validImports(user)
	session = s.validImports(session)
	s.persist(ctx, user, session)
	logger.InfoCF("memory", "Imported memories", map[string]interface{}{
		"user_memories":    len(user),
		"session_memories": len(session),
	})
	return nil
}

func (s *Service) validImports(records []Record) []Record {
	out := records[:0]
	for _, in := range records {
		rec, err := s.policy.Validate(Candidate{
			Content:    in.Content,
			Category:   string(in.Category),
			Importance: string(in.Importance),
		})
		if err != nil {
			if s.metrics != nil {
				s.metrics.MemoryDropped("validation")
			}
			continue
		}
		rec.ID = in.ID
		rec.Type = in.Type
		rec.Timestamp = in.Timestamp
		out = append(out, rec)
	}
	return out
}

// decodeImportList decodes one exported bucket item by item. An item whose
// id or timestamp cannot be read keeps its content and gets a fresh id or
// timestamp at persist time; its peers are unaffected.
func decodeImportList(raw json.RawMessage) ([]Record, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(items))
	for i, item := range items {
		var c Candidate
		if err := json.Unmarshal(item, &c); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		var meta struct {
			ID        json.RawMessage `json:"id"`
			Timestamp json.RawMessage `json:"timestamp"`
		}
		_ = json.Unmarshal(item, &meta)

		rec := Record{
			Content:    c.Content,
			Category:   Category(c.Category),
			Importance: Importance(c.Importance),
			Type:       Bucket(c.Type),
		}
		var id string
		if json.Unmarshal(meta.ID, &id) == nil {
			rec.ID = strings.TrimSpace(id)
		}
		var ts string
		if json.Unmarshal(meta.Timestamp, &ts) == nil {
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				rec.Timestamp = parsed.UTC()
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// FormatForPrompt renders records for prompt injection.
func (s *Service) FormatForPrompt(records []Record) string {
	return FormatForPrompt(records)
}

// Close waits for in-flight extractions and releases the vector adapter and
// registered closers.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.lifeMu.Lock()
		s.closed = true
		s.lifeMu.Unlock()
		s.wg.Wait()

		var errs []error
		if s.vector != nil {
			if err := s.vector.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		for _, c := range s.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Service) entityFor(bucket Bucket) string {
	if bucket == BucketUser {
		return s.cfg.UserID
	}
	return s.cfg.SessionID
}

func (s *Service) vectorName() string {
	if s.vector == nil {
		return "none"
	}
	return strings.ToLower(s.vector.Name())
}

func (s *Service) observeExtraction(outcome string) {
	if s.metrics != nil {
		s.metrics.Extraction(outcome)
	}
}

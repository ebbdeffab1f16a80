package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/dotsetgreg/dotmemory/pkg/logger"
)

// RetrievalOptions scopes one recall.
type RetrievalOptions struct {
	UserID    string
	SessionID string
	Limit     int
	UseVector bool
}

// HybridRetriever merges vector index hits with keyword-filtered store
// records.
type HybridRetriever struct {
	store   *FileStore
	vector  VectorAdapter
	metrics MetricsSink
}

func NewHybridRetriever(store *FileStore, vector VectorAdapter, metrics MetricsSink) *HybridRetriever {
	return &HybridRetriever{store: store, vector: vector, metrics: metrics}
}

// Recall returns at most opts.Limit records. Vector hits fill up to half of
// the limit and come first; keyword hits ordered by importance and recency
// fill the rest. Records with identical content appear once.
func (r *HybridRetriever) Recall(ctx context.Context, query string, opts RetrievalOptions) []Record {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	out := make([]Record, 0, limit)
	if opts.UseVector {
		hits := r.Similar(ctx, query, limit/2, opts.UserID)
		for _, h := range hits {
			out = append(out, h.Record)
		}
		r.observe("vector", len(hits))
	}

	keyword := r.keywordCandidates(query, limit-len(out), opts)
	r.observe("keyword", len(keyword))
	out = append(out, keyword...)

	out = dedupByContent(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Similar queries the vector index. Failures degrade to no hits.
func (r *HybridRetriever) Similar(ctx context.Context, query string, limit int, userID string) []SearchHit {
	if r.vector == nil || limit <= 0 || strings.TrimSpace(query) == "" {
		return nil
	}
	if !r.vector.Available(ctx) {
		return nil
	}
	hits, err := r.vector.Search(ctx, query, limit, userID)
	if err != nil {
		logger.WarnCF("memory", "Vector search failed", map[string]interface{}{
			"backend": r.vector.Name(),
			"error":   err.Error(),
		})
		if r.metrics != nil {
			r.metrics.VectorFailure(r.vector.Name(), "search")
		}
		return nil
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (r *HybridRetriever) keywordCandidates(query string, limit int, opts RetrievalOptions) []Record {
	if limit <= 0 {
		return nil
	}
	user := r.store.Read(BucketUser, opts.UserID, query)
	session := r.store.Read(BucketSession, opts.SessionID, query)
	combined := make([]Record, 0, len(user)+len(session))
	combined = append(combined, user...)
	combined = append(combined, session...)
	sortByImportance(combined)
	if len(combined) > limit {
		combined = combined[:limit]
	}
	return combined
}

func (r *HybridRetriever) observe(source string, n int) {
	if r.metrics != nil {
		r.metrics.Retrieval(source, n)
	}
}

// FilterByRelevance keeps records sharing at least one word with query. A
// query without words returns records unchanged; a query matching nothing
// returns the first five records.
func FilterByRelevance(records []Record, query string) []Record {
	q := wordSet(query)
	if len(q) == 0 {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if sharesWord(q, rec.Content) {
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		n := len(records)
		if n > keywordFallbackN {
			n = keywordFallbackN
		}
		return append(out, records[:n]...)
	}
	return out
}

// sortByImportance orders by importance desc, then timestamp desc.
func sortByImportance(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		si, sj := records[i].Importance.Score(), records[j].Importance.Score()
		if si != sj {
			return si > sj
		}
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}

func dedupByContent(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := records[:0]
	for _, rec := range records {
		if _, ok := seen[rec.Content]; ok {
			continue
		}
		seen[rec.Content] = struct{}{}
		out = append(out, rec)
	}
	return out
}

package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

type fakeExtractor struct {
	calls  atomic.Int32
	out    []Candidate
	err    error
	panics bool
	block  chan struct{}
}

func (f *fakeExtractor) Name() string { return "fake" }

func (f *fakeExtractor) Extract(ctx context.Context, transcript string) ([]Candidate, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.panics {
		panic("extractor exploded")
	}
	return f.out, f.err
}

type fakeVector struct {
	mu           sync.Mutex
	available    bool
	stored       []Record
	hits         []SearchHit
	searchErr    error
	clearedUser  []string
	clearedSess  []string
	closed       bool
	lastLimit    int
	lastSearchBy string
}

func (f *fakeVector) Name() string { return "Fake" }

func (f *fakeVector) Available(context.Context) bool { return f.available }

func (f *fakeVector) Store(_ context.Context, rec Record, userID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.Contains(rec.Content, "reject") {
		return errors.New("index rejected record")
	}
	f.stored = append(f.stored, rec)
	return nil
}

func (f *fakeVector) Search(_ context.Context, query string, limit int, userID string) ([]SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	f.lastSearchBy = userID
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	hits := f.hits
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *fakeVector) ClearUser(_ context.Context, userID string) error {
	f.clearedUser = append(f.clearedUser, userID)
	return nil
}

func (f *fakeVector) ClearSession(_ context.Context, sessionID string) error {
	f.clearedSess = append(f.clearedSess, sessionID)
	return nil
}

func (f *fakeVector) Close() error {
	f.closed = true
	return nil
}

type countingMetrics struct {
	mu       sync.Mutex
	stored   map[Bucket]int
	dropped  map[string]int
	extract  map[string]int
	vecFails int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{stored: map[Bucket]int{}, dropped: map[string]int{}, extract: map[string]int{}}
}

func (m *countingMetrics) MemoryStored(b Bucket, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[b] += n
}

func (m *countingMetrics) MemoryDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[reason]++
}

func (m *countingMetrics) Extraction(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extract[outcome]++
}

func (m *countingMetrics) VectorFailure(string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vecFails++
}

func (m *countingMetrics) Retrieval(string, int) {}

package memory

import "context"

// Extractor turns a conversation transcript into candidate memories.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, transcript string) ([]Candidate, error)
}

// Embedder maps text to a vector. A nil vector with a nil error means the
// text is not worth embedding and indexing should be skipped.
type Embedder interface {
	ModelID() string
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorAdapter is a similarity-search index over stored memories.
type VectorAdapter interface {
	Name() string
	Available(ctx context.Context) bool
	Store(ctx context.Context, rec Record, userID, sessionID string) error
	Search(ctx context.Context, query string, limit int, userID string) ([]SearchHit, error)
	ClearUser(ctx context.Context, userID string) error
	ClearSession(ctx context.Context, sessionID string) error
	Close() error
}

// Completer is the single-shot LLM call used by LLMExtractor.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type CompletionRequest struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
	JSONOutput  bool
}

// MetricsSink receives operational counters. Nil sinks are ignored.
type MetricsSink interface {
	MemoryStored(bucket Bucket, n int)
	MemoryDropped(reason string)
	Extraction(outcome string)
	VectorFailure(backend, op string)
	Retrieval(source string, n int)
}

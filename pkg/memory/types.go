package memory

import "time"

// Bucket is a retention scope: long-lived user memories or short-lived
// session memories.
type Bucket string

const (
	BucketUser    Bucket = "user"
	BucketSession Bucket = "session"
)

type Category string

const (
	CategoryPersonalFacts Category = "personal_facts"
	CategoryPreferences   Category = "preferences"
	CategoryGoals         Category = "goals"
	CategoryEvents        Category = "events"
	CategorySkills        Category = "skills"
	CategoryProjects      Category = "projects"
)

// Categories lists every accepted category in display order.
var Categories = []Category{
	CategoryPersonalFacts,
	CategoryPreferences,
	CategoryGoals,
	CategoryEvents,
	CategorySkills,
	CategoryProjects,
}

type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// Score ranks importance for eviction and retrieval ordering. Unknown values
// rank with low.
func (i Importance) Score() int {
	switch i {
	case ImportanceHigh:
		return 3
	case ImportanceMedium:
		return 2
	default:
		return 1
	}
}

// Record is the canonical persisted memory entry.
type Record struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	Category   Category   `json:"category"`
	Importance Importance `json:"importance"`
	Type       Bucket     `json:"type"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Candidate is an unvalidated memory as produced by an extractor or supplied
// by a caller. Fields are plain strings so external payloads can be decoded
// without failing on unexpected enum values.
type Candidate struct {
	Content    string `json:"content"`
	Category   string `json:"category"`
	Importance string `json:"importance"`
	Type       string `json:"type"`
}

// Message is one chat message of a submitted turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SearchHit is a vector index match.
type SearchHit struct {
	Record
	Similarity float64 `json:"similarity"`
}

// Collection is the persisted document for one entity and bucket.
type Collection struct {
	Memories    []Record  `json:"memories"`
	LastUpdated time.Time `json:"last_updated"`
}

// Stats summarizes a service's stored state.
type Stats struct {
	UserMemories    int        `json:"user_memories"`
	SessionMemories int        `json:"session_memories"`
	TotalMemories   int        `json:"total_memories"`
	VectorEnabled   bool       `json:"vector_db_enabled"`
	VectorBackend   string     `json:"vector_db_type"`
	LastExtraction  *time.Time `json:"last_extraction,omitempty"`
}

const ExportVersion = "1.0"

// Export is the portable dump of both buckets.
type Export struct {
	UserMemories    []Record  `json:"user_memories"`
	SessionMemories []Record  `json:"session_memories"`
	ExportedAt      time.Time `json:"exported_at"`
	Version         string    `json:"version"`
}

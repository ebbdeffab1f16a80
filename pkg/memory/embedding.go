package memory

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

const (
	ChargramEmbeddingModel = "dotmemory-chargram-384-v1"
	HashEmbeddingModel     = "dotmemory-hash-256-v1"

	minEmbedRunes = 11
)

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]+`)

// NewLocalEmbedder returns an offline embedder by name. Unknown names fall
// back to the chargram model.
func NewLocalEmbedder(name string) Embedder {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case HashEmbeddingModel, "hash", "hash-256":
		return &hashEmbedder{dims: 256, modelID: HashEmbeddingModel}
	default:
		return &chargramEmbedder{dims: 384, modelID: ChargramEmbeddingModel}
	}
}

type hashEmbedder struct {
	dims    int
	modelID string
}

func (e *hashEmbedder) ModelID() string { return e.modelID }
func (e *hashEmbedder) Dimensions() int { return e.dims }

func (e *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if !WorthEmbedding(text) {
		return nil, nil
	}
	vec := make([]float32, e.dims)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dims))
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[idx] += sign * float32(1+(len(token)/8))
	}
	normalizeVector(vec)
	return vec, nil
}

type chargramEmbedder struct {
	dims    int
	modelID string
}

func (e *chargramEmbedder) ModelID() string { return e.modelID }
func (e *chargramEmbedder) Dimensions() int { return e.dims }

func (e *chargramEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if !WorthEmbedding(text) {
		return nil, nil
	}
	vec := make([]float32, e.dims)
	normalized := strings.ToLower(strings.TrimSpace(text))
	window := "#" + normalized + "#"
	for i := 0; i+3 <= len(window); i++ {
		h := fnv.New64a()
		_, _ = h.Write([]byte(window[i : i+3]))
		vec[int(h.Sum64()%uint64(e.dims))] += 1
	}
	for _, token := range tokenize(normalized) {
		h := fnv.New64a()
		_, _ = h.Write([]byte("tok:" + token))
		vec[int(h.Sum64()%uint64(e.dims))] += 1.25
	}
	normalizeVector(vec)
	return vec, nil
}

// WorthEmbedding mirrors record validation: fragments shorter than a valid
// memory are not indexed.
func WorthEmbedding(text string) bool {
	return len([]rune(strings.TrimSpace(text))) >= minEmbedRunes
}

func tokenize(text string) []string {
	text = strings.ToLower(text)
	matches := tokenPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}
	return matches
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func normalizeVector(vec []float32) {
	n := vectorNorm(vec)
	if n == 0 {
		return
	}
	inv := float32(1.0 / n)
	for i := range vec {
		vec[i] *= inv
	}
}

// CosineSimilarity compares two vectors over their common prefix. Zero
// vectors compare as 0.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

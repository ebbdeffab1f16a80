// Package vector holds the similarity-index backends behind
// memory.VectorAdapter. Every backend embeds through a memory.Embedder; an
// absent embedding skips indexing and yields no search hits.
package vector

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

const (
	fieldID         = "id"
	fieldCategory   = "category"
	fieldImportance = "importance"
	fieldType       = "type"
	fieldTimestamp  = "timestamp"
	fieldUserID     = "user_id"
	fieldSessionID  = "session_id"
	fieldContent    = "content"
	fieldEmbedding  = "embedding"
)

// contentDigest identifies a memory by its text so re-indexing the same
// content overwrites instead of duplicating.
func contentDigest(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

func embed(ctx context.Context, embedder memory.Embedder, text string) ([]float32, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", memory.ErrVectorBackend)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	vec, err := embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", memory.ErrVectorBackend, err)
	}
	return vec, nil
}

func backendErr(backend, op string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", memory.ErrVectorBackend, backend, op, err)
}

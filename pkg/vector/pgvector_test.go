package vector

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[]", vectorLiteral(nil))
	assert.Equal(t, "[0.5,-0.25,1]", vectorLiteral([]float32{0.5, -0.25, 1}))
}

func TestResolveTableName(t *testing.T) {
	name, err := resolveTableName("")
	require.NoError(t, err)
	assert.Equal(t, "memories", name)

	name, err = resolveTableName(" agent_memories ")
	require.NoError(t, err)
	assert.Equal(t, "agent_memories", name)

	for _, bad := range []string{"memories; DROP TABLE x", "1memories", "mem-ories"} {
		_, err := resolveTableName(bad)
		assert.ErrorIs(t, err, memory.ErrConfiguration, bad)
	}
}

func TestSchemaStatements(t *testing.T) {
	stmts := schemaStatements("memories", 384)
	require.Len(t, stmts, 5)
	assert.Contains(t, stmts[0], "CREATE EXTENSION IF NOT EXISTS vector")
	assert.Contains(t, stmts[1], "embedding vector(384)")
	assert.Contains(t, stmts[1], "UNIQUE (content, user_id)")
	assert.True(t, strings.Contains(stmts[4], "vector_cosine_ops"))
}

func TestNewPGVectorAdapter_ConfigErrors(t *testing.T) {
	ctx := context.Background()
	_, err := NewPGVectorAdapter(ctx, PGVectorConfig{}, memory.NewLocalEmbedder("hash"))
	assert.ErrorIs(t, err, memory.ErrConfiguration)

	_, err = NewPGVectorAdapter(ctx, PGVectorConfig{DatabaseURL: "postgres://x", Table: "bad name"}, memory.NewLocalEmbedder("hash"))
	assert.ErrorIs(t, err, memory.ErrConfiguration)

	_, err = NewPGVectorAdapter(ctx, PGVectorConfig{DatabaseURL: "postgres://x"}, nil)
	assert.ErrorIs(t, err, memory.ErrConfiguration)
}

package embedcache

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

type countingEmbedder struct {
	calls atomic.Int32
	err   error
}

func (e *countingEmbedder) ModelID() string { return "test-model" }
func (e *countingEmbedder) Dimensions() int { return 3 }

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func TestCache_FrontCacheHit(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := New(inner, Config{MaxItems: 100})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	first, err := c.Embed(ctx, "User prefers green tea")
	require.NoError(t, err)
	c.Wait()
	second, err := c.Embed(ctx, "User prefers green tea")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.calls.Load())
	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, "test-model", c.ModelID())
	assert.Equal(t, 3, c.Dimensions())
}

func TestCache_ShortTextBypassesInner(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := New(inner, Config{})
	require.NoError(t, err)
	defer c.Close()

	vec, err := c.Embed(context.Background(), "hi there")
	require.NoError(t, err)
	assert.Nil(t, vec)
	assert.Zero(t, inner.calls.Load())
}

func TestCache_SQLiteSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "embeddings.db")
	ctx := context.Background()

	inner := &countingEmbedder{}
	c, err := New(inner, Config{Path: path})
	require.NoError(t, err)
	want, err := c.Embed(ctx, "User is allergic to peanuts")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	again := &countingEmbedder{}
	c2, err := New(again, Config{Path: path})
	require.NoError(t, err)
	defer c2.Close()
	got, err := c2.Embed(ctx, "User is allergic to peanuts")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Zero(t, again.calls.Load(), "served from sqlite")
}

func TestCache_InnerErrorNotCached(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("provider down")}
	c, err := New(inner, Config{})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Embed(context.Background(), "User prefers green tea")
	require.Error(t, err)
	_, err = c.Embed(context.Background(), "User prefers green tea")
	require.Error(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestNew_RequiresEmbedder(t *testing.T) {
	_, err := New(nil, Config{})
	assert.ErrorIs(t, err, memory.ErrConfiguration)
}

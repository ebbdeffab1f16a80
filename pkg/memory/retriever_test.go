package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterByRelevance(t *testing.T) {
	now := time.Now()
	records := []Record{
		rec("User likes coffee", CategoryPreferences, ImportanceLow, now),
		rec("User owns a bicycle", CategoryPersonalFacts, ImportanceLow, now),
		rec("Coffee beans from Ethiopia are favourites", CategoryPreferences, ImportanceLow, now),
	}

	got := FilterByRelevance(records, "COFFEE?")
	require.Len(t, got, 2)
	assert.Equal(t, "User likes coffee", got[0].Content)

	assert.Equal(t, records, FilterByRelevance(records, "  ?!  "))
	assert.Len(t, FilterByRelevance(records, "submarine"), 3)

	many := make([]Record, 0, 8)
	for i := 0; i < 8; i++ {
		many = append(many, rec(fmt.Sprintf("Memory entry item%d", i), CategoryEvents, ImportanceLow, now))
	}
	fallback := FilterByRelevance(many, "submarine")
	require.Len(t, fallback, 5)
	assert.Equal(t, many[:5], fallback)
	assert.Empty(t, FilterByRelevance(nil, "anything"))
}

func TestHybridRetriever_KeywordOnly(t *testing.T) {
	store := newTestStore(t, StoreConfig{})
	base := time.Now()
	require.NoError(t, store.Append(BucketUser, "u1", []Record{
		rec("User likes green tea", CategoryPreferences, ImportanceLow, base),
		rec("User has a tea allergy to chamomile", CategoryPersonalFacts, ImportanceHigh, base.Add(-time.Hour)),
	}))
	require.NoError(t, store.Append(BucketSession, "s1", []Record{
		rec("Brewing tea right now", CategoryEvents, ImportanceMedium, base),
	}))

	r := NewHybridRetriever(store, nil, nil)
	got := r.Recall(context.Background(), "tea", RetrievalOptions{UserID: "u1", SessionID: "s1", Limit: 10, UseVector: true})
	require.Len(t, got, 3)
	assert.Equal(t, ImportanceHigh, got[0].Importance)
	assert.Equal(t, ImportanceMedium, got[1].Importance)
	assert.Equal(t, ImportanceLow, got[2].Importance)

	limited := r.Recall(context.Background(), "tea", RetrievalOptions{UserID: "u1", SessionID: "s1", Limit: 2})
	assert.Len(t, limited, 2)
}

func TestHybridRetriever_VectorFirstAndDedup(t *testing.T) {
	store := newTestStore(t, StoreConfig{})
	now := time.Now()
	require.NoError(t, store.Append(BucketUser, "u1", []Record{
		rec("User runs marathons every spring", CategoryGoals, ImportanceHigh, now),
		rec("User trains for marathons on weekends", CategoryGoals, ImportanceMedium, now),
	}))
	vec := &fakeVector{available: true, hits: []SearchHit{
		{Record: rec("User runs marathons every spring", CategoryGoals, ImportanceHigh, now), Similarity: 0.9},
		{Record: rec("User once ran a half marathon in Rome", CategoryEvents, ImportanceLow, now), Similarity: 0.8},
		{Record: rec("never returned past the limit", CategoryEvents, ImportanceLow, now), Similarity: 0.1},
	}}

	r := NewHybridRetriever(store, vec, nil)
	got := r.Recall(context.Background(), "marathons", RetrievalOptions{UserID: "u1", SessionID: "s1", Limit: 5, UseVector: true})

	assert.Equal(t, 2, vec.lastLimit)
	assert.Equal(t, "u1", vec.lastSearchBy)
	require.Len(t, got, 3)
	assert.Equal(t, "User runs marathons every spring", got[0].Content)
	assert.Equal(t, "User once ran a half marathon in Rome", got[1].Content)
	assert.Equal(t, "User trains for marathons on weekends", got[2].Content)
}

func TestHybridRetriever_VectorDegrades(t *testing.T) {
	store := newTestStore(t, StoreConfig{})
	require.NoError(t, store.Append(BucketUser, "u1", []Record{rec("User likes jazz records", CategoryPreferences, ImportanceLow, time.Now())}))

	unavailable := &fakeVector{available: false, hits: []SearchHit{{Record: rec("ghost hit from the index", CategoryEvents, ImportanceLow, time.Now())}}}
	r := NewHybridRetriever(store, unavailable, nil)
	got := r.Recall(context.Background(), "jazz", RetrievalOptions{UserID: "u1", Limit: 4, UseVector: true})
	require.Len(t, got, 1)
	assert.Equal(t, "User likes jazz records", got[0].Content)

	failing := &fakeVector{available: true, searchErr: errors.New("timeout")}
	metrics := newCountingMetrics()
	r = NewHybridRetriever(store, failing, metrics)
	got = r.Recall(context.Background(), "jazz", RetrievalOptions{UserID: "u1", Limit: 4, UseVector: true})
	require.Len(t, got, 1)
	assert.Equal(t, 1, metrics.vecFails)
}

func TestHybridRetriever_DefaultLimitAndNoQuery(t *testing.T) {
	store := newTestStore(t, StoreConfig{})
	records := make([]Record, 0, 15)
	for i := 0; i < 15; i++ {
		records = append(records, rec(fmt.Sprintf("Session event number%d logged", i), CategoryEvents, ImportanceLow, time.Now()))
	}
	require.NoError(t, store.Append(BucketSession, "s1", records))
	vec := &fakeVector{available: true, hits: []SearchHit{{Record: rec("vector hit ignored without query", CategoryEvents, ImportanceLow, time.Now())}}}

	r := NewHybridRetriever(store, vec, nil)
	got := r.Recall(context.Background(), "", RetrievalOptions{SessionID: "s1", UseVector: true})
	assert.Len(t, got, defaultQueryLimit)
	for _, g := range got {
		assert.NotEqual(t, "vector hit ignored without query", g.Content)
	}
}

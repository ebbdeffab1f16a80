package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

var _ memory.MetricsSink = (*Metrics)(nil)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("test")
	m.MemoryStored(memory.BucketUser, 3)
	m.MemoryStored(memory.BucketSession, 1)
	m.MemoryDropped("validation")
	m.Extraction("succeeded")
	m.Extraction("succeeded")
	m.VectorFailure("Redis", "store")
	m.Retrieval("keyword", 4)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.MemoriesStored.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoriesStored.WithLabelValues("session")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoriesDropped.WithLabelValues("validation")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Extractions.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VectorFailures.WithLabelValues("Redis", "store")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retrievals.WithLabelValues("keyword")))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics("")
	b := NewMetrics("")
	a.Extraction("failed")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Extractions.WithLabelValues("failed")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("dotmemory")
	m.Extraction("empty")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `dotmemory_extractions_total{outcome="empty"} 1`), string(body))
}

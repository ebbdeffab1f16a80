package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

// Metrics groups all Prometheus instruments used by the memory service. It
// satisfies memory.MetricsSink.
type Metrics struct {
	registry *prometheus.Registry

	MemoriesStored  *prometheus.CounterVec
	MemoriesDropped *prometheus.CounterVec
	Extractions     *prometheus.CounterVec
	VectorFailures  *prometheus.CounterVec
	Retrievals      *prometheus.CounterVec
	RetrievedItems  *prometheus.HistogramVec
}

// NewMetrics registers instruments on a private registry so several
// services can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dotmemory"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		MemoriesStored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_stored_total",
			Help:      "Memories persisted by bucket.",
		}, []string{"bucket"}),
		MemoriesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_dropped_total",
			Help:      "Candidate memories rejected before persistence, by reason.",
		}, []string{"reason"}),
		Extractions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Background extraction runs by outcome.",
		}, []string{"outcome"}),
		VectorFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_failures_total",
			Help:      "Vector backend failures by backend and operation.",
		}, []string{"backend", "op"}),
		Retrievals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Retrieval passes by source.",
		}, []string{"source"}),
		RetrievedItems: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_items",
			Help:      "Memories returned per retrieval pass.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}, []string{"source"}),
	}
}

func (m *Metrics) MemoryStored(bucket memory.Bucket, n int) {
	m.MemoriesStored.WithLabelValues(string(bucket)).Add(float64(n))
}

func (m *Metrics) MemoryDropped(reason string) {
	m.MemoriesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Extraction(outcome string) {
	m.Extractions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) VectorFailure(backend, op string) {
	m.VectorFailures.WithLabelValues(backend, op).Inc()
}

func (m *Metrics) Retrieval(source string, n int) {
	m.Retrievals.WithLabelValues(source).Inc()
	m.RetrievedItems.WithLabelValues(source).Observe(float64(n))
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

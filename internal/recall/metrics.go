package recall

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation label values.
const (
	opRetrieveExperiences = "retrieve_experiences"
	opRetrieveQA          = "retrieve_technical_qa"
	opCacheLookup         = "cache_lookup"
	opCacheStore          = "cache_store"
	opCacheClear          = "cache_clear"
)

// serviceMetrics holds the Prometheus metrics owned by the Service. One
// instance is created per Service so tests can pass a fresh registry.
type serviceMetrics struct {
	// retrievalsTotal counts experience retrievals by serving stage:
	// "vector", "keyword", or "empty".
	retrievalsTotal *prometheus.CounterVec

	// qaResults counts technical Q&A retrievals by whether they returned
	// anything.
	qaRetrievalsTotal *prometheus.CounterVec

	// cacheLookupsTotal counts cache lookups by outcome: "hit" or "miss".
	cacheLookupsTotal *prometheus.CounterVec

	// cacheStoresTotal counts cache writes by outcome: "ok" or "error".
	cacheStoresTotal *prometheus.CounterVec

	// cacheClearedTotal counts documents removed by Clear.
	cacheClearedTotal prometheus.Counter

	// opDurationSeconds records the latency of each entry point.
	opDurationSeconds *prometheus.HistogramVec
}

func newServiceMetrics(reg prometheus.Registerer) *serviceMetrics {
	factory := promauto.With(reg)

	return &serviceMetrics{
		retrievalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "retrieval",
			Name:      "experiences_total",
			Help:      "Experience retrievals, partitioned by the stage that served them.",
		}, []string{"stage"}),

		qaRetrievalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "retrieval",
			Name:      "technical_qa_total",
			Help:      "Technical Q&A retrievals, partitioned by whether any pair was returned.",
		}, []string{"outcome"}),

		cacheLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Response cache lookups, partitioned by outcome.",
		}, []string{"outcome"}),

		cacheStoresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "cache",
			Name:      "stores_total",
			Help:      "Response cache writes, partitioned by outcome.",
		}, []string{"outcome"}),

		cacheClearedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "cache",
			Name:      "cleared_documents_total",
			Help:      "Documents removed from the response cache.",
		}),

		opDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "service",
			Name:      "operation_duration_seconds",
			Help:      "Latency of retrieval and cache operations.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
	}
}

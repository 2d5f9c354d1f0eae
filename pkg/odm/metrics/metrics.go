// Package metrics provides observability for the record-mapping layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects identity-map and store-traffic metrics. All methods are
// safe on a nil receiver so instrumentation stays optional.
type Metrics struct {
	// Identity-map traffic.
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Instances rebuilt from raw stored documents.
	Materializations prometheus.Counter

	// Cache registrations rolled back after a failed insert.
	CreateRollbacks prometheus.Counter

	// Store call latency by operation: insert, find, update.
	StoreLatency *prometheus.HistogramVec
}

// New creates a Metrics instance registered on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates a Metrics instance registered on reg. Tests pass a
// private registry to avoid duplicate-registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "docmap_identity_cache_hits_total",
			Help: "Lookups served from the identity map without store contact",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "docmap_identity_cache_misses_total",
			Help: "Lookups that fell through to the document store",
		}),
		Materializations: factory.NewCounter(prometheus.CounterOpts{
			Name: "docmap_materializations_total",
			Help: "Record instances rebuilt from raw stored documents",
		}),
		CreateRollbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "docmap_create_rollbacks_total",
			Help: "Cache registrations rolled back after a failed insert",
		}),
		StoreLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docmap_store_op_duration_seconds",
			Help:    "Duration of document store calls by operation",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
	}
}

// IncCacheHit records a lookup served from the identity map.
func (m *Metrics) IncCacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

// IncCacheMiss records a lookup that fell through to the store.
func (m *Metrics) IncCacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

// IncMaterialization records an instance rebuilt from a stored document.
func (m *Metrics) IncMaterialization() {
	if m != nil {
		m.Materializations.Inc()
	}
}

// IncCreateRollback records a cache rollback after a failed insert.
func (m *Metrics) IncCreateRollback() {
	if m != nil {
		m.CreateRollbacks.Inc()
	}
}

// ObserveStoreOp records the duration of one store call.
func (m *Metrics) ObserveStoreOp(op string, d time.Duration) {
	if m != nil {
		m.StoreLatency.WithLabelValues(op).Observe(d.Seconds())
	}
}

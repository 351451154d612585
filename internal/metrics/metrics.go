// Package metrics provides Prometheus instrumentation for the storage
// engine, trimmed from the teacher's broad HTTP/Auth/DB/RateLimit
// surfaces down to the concerns this engine actually has: storage
// operations, chunking, Merkle proof generation, the optional chunk
// cache, and archive compaction/garbage collection (SPEC_FULL.md §3).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	// Storage (archive/layer) metrics.
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageBytesTotal        *prometheus.CounterVec
	LayersTotal              prometheus.Gauge
	ArchiveSizeBytes         prometheus.Gauge

	// Chunking metrics.
	ChunksCreatedTotal  prometheus.Counter
	ChunkSizeBytes      prometheus.Histogram
	ChunkDedupHitsTotal prometheus.Counter

	// Merkle proof metrics.
	ProofsGeneratedTotal *prometheus.CounterVec
	ProofGenDuration     *prometheus.HistogramVec

	// Chunk cache metrics.
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Archive compaction / garbage collection metrics.
	CompactionRunsTotal   prometheus.Counter
	CompactionBytesFreed  prometheus.Counter
	CompactionDuration    prometheus.Histogram
	OrphanChunksDetected  prometheus.Gauge
}

const namespace = "digstore"

// New creates a Metrics bound to its own registry, so multiple Stores (or
// test runs) in the same process never collide on metric registration.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		registry: reg,

		StorageOperationsTotal: mustRegisterCounterVec(factory, prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "operations_total",
			Help: "Total number of storage operations (add, commit, get, compact).",
		}, []string{"operation", "status"}),
		StorageOperationDuration: mustRegisterHistogramVec(factory, prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "storage", Name: "operation_duration_seconds",
			Help:    "Storage operation duration in seconds.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		StorageBytesTotal: mustRegisterCounterVec(factory, prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "bytes_total",
			Help: "Total bytes processed by storage operations.",
		}, []string{"operation"}),
		LayersTotal: mustRegisterGauge(factory, prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "storage", Name: "layers_total",
			Help: "Current number of layers in the archive.",
		}),
		ArchiveSizeBytes: mustRegisterGauge(factory, prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "storage", Name: "archive_size_bytes",
			Help: "Current on-disk size of the archive file.",
		}),

		ChunksCreatedTotal: mustRegisterCounter(factory, prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chunk", Name: "created_total",
			Help: "Total number of chunks produced by content-defined chunking.",
		}),
		ChunkSizeBytes: mustRegisterHistogram(factory, prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "chunk", Name: "size_bytes",
			Help:    "Distribution of chunk sizes in bytes.",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 8), // 64KiB .. 8MiB
		}),
		ChunkDedupHitsTotal: mustRegisterCounter(factory, prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chunk", Name: "dedup_hits_total",
			Help: "Total number of chunks skipped during commit because an identical hash already existed.",
		}),

		ProofsGeneratedTotal: mustRegisterCounterVec(factory, prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "merkle", Name: "proofs_generated_total",
			Help: "Total number of proofs generated, by target type.",
		}, []string{"target_type"}),
		ProofGenDuration: mustRegisterHistogramVec(factory, prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "merkle", Name: "proof_generation_duration_seconds",
			Help:    "Proof generation duration in seconds, by target type.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		}, []string{"target_type"}),

		CacheHitsTotal: mustRegisterCounterVec(factory, prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Total number of chunk cache hits.",
		}, []string{"cache"}),
		CacheMissesTotal: mustRegisterCounterVec(factory, prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Total number of chunk cache misses.",
		}, []string{"cache"}),

		CompactionRunsTotal: mustRegisterCounter(factory, prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gc", Name: "compaction_runs_total",
			Help: "Total number of archive compaction runs.",
		}),
		CompactionBytesFreed: mustRegisterCounter(factory, prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gc", Name: "compaction_bytes_freed_total",
			Help: "Total bytes reclaimed by archive compaction.",
		}),
		CompactionDuration: mustRegisterHistogram(factory, prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "gc", Name: "compaction_duration_seconds",
			Help:    "Archive compaction duration in seconds.",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		}),
		OrphanChunksDetected: mustRegisterGauge(factory, prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "gc", Name: "orphan_chunks_detected",
			Help: "Current number of chunks with no surviving reference, pending compaction.",
		}),
	}

	return m
}

func mustRegisterCounter(f prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	f.MustRegister(c)
	return c
}

func mustRegisterCounterVec(f prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	f.MustRegister(c)
	return c
}

func mustRegisterGauge(f prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	f.MustRegister(g)
	return g
}

func mustRegisterHistogram(f prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	h := prometheus.NewHistogram(opts)
	f.MustRegister(h)
	return h
}

func mustRegisterHistogramVec(f prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	f.MustRegister(h)
	return h
}

// Handler returns an HTTP handler exposing m's registry in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordStorageOperation records a storage operation's outcome, duration,
// and byte count.
func (m *Metrics) RecordStorageOperation(operation, status string, duration float64, bytes int64) {
	m.StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	if bytes > 0 {
		m.StorageBytesTotal.WithLabelValues(operation).Add(float64(bytes))
	}
}

// RecordChunk records one chunk's size, and whether it was a dedup hit
// against an already-known hash.
func (m *Metrics) RecordChunk(size int, dedupHit bool) {
	m.ChunksCreatedTotal.Inc()
	m.ChunkSizeBytes.Observe(float64(size))
	if dedupHit {
		m.ChunkDedupHitsTotal.Inc()
	}
}

// RecordProofGeneration records a proof generation call for targetType
// (file, byte_range, layer, chunk).
func (m *Metrics) RecordProofGeneration(targetType string, duration float64) {
	m.ProofsGeneratedTotal.WithLabelValues(targetType).Inc()
	m.ProofGenDuration.WithLabelValues(targetType).Observe(duration)
}

// RecordCacheAccess records a chunk cache lookup's outcome.
func (m *Metrics) RecordCacheAccess(cache string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordCompaction records an archive compaction run.
func (m *Metrics) RecordCompaction(duration float64, bytesFreed int64) {
	m.CompactionRunsTotal.Inc()
	m.CompactionDuration.Observe(duration)
	m.CompactionBytesFreed.Add(float64(bytesFreed))
}

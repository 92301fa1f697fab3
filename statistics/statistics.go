// Package statistics exposes the repository's prometheus metrics: bundle
// reads/writes, index resizes, upload queue depth, and lookup latency
// histograms, grounded on the teacher's metrics/metrics.go.
package statistics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BundleReads counts chunk reads served from a bundle, by mode (data/meta)
// and whether the bundle was found in the local cache or loaded remote.
var BundleReads = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "zvault_bundle_reads_total",
		Help: "Chunk reads served from a bundle",
	},
	[]string{"mode", "source"},
)

// BundleWrites counts finished bundles, by mode.
var BundleWrites = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "zvault_bundle_writes_total",
		Help: "Bundles finished and queued for upload",
	},
	[]string{"mode"},
)

// BundleCacheSize reports the current entry count of the local bundle
// cache.
var BundleCacheSize = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "zvault_bundle_cache_entries",
		Help: "Entries currently held in the local bundle content cache",
	},
	[]string{},
)

// IndexResizes counts index capacity changes, by direction.
var IndexResizes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "zvault_index_resizes_total",
		Help: "Index capacity changes",
	},
	[]string{"direction"},
)

// IndexEntries reports the current live entry count of the repository
// index.
var IndexEntries = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "zvault_index_entries",
		Help: "Live entries in the chunk index",
	},
	[]string{},
)

// UploadQueueDepth reports the number of bundles queued for upload but not
// yet synchronized to remote.
var UploadQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "zvault_upload_queue_depth",
		Help: "Bundles queued for upload",
	},
	[]string{},
)

// UploadErrors counts failed bundle uploads.
var UploadErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "zvault_upload_errors_total",
		Help: "Bundle uploads that failed",
	},
	[]string{},
)

// IndexLookupLatency buckets the time a single index Get/Set call takes.
var IndexLookupLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "zvault_index_lookup_latency_seconds",
		Help:    "Index lookup latency",
		Buckets: prometheus.ExponentialBuckets(0.000001, 10, 8),
	},
	[]string{"op"},
)

// BundleLoadLatency buckets the time to load a bundle's contents, by
// whether it was served from the local cache.
var BundleLoadLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "zvault_bundle_load_latency_seconds",
		Help:    "Bundle content load latency",
		Buckets: prometheus.ExponentialBuckets(0.0001, 10, 8),
	},
	[]string{"source"},
)

// VacuumBundlesRewritten counts bundles rewritten (partially kept) during a
// vacuum pass.
var VacuumBundlesRewritten = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "zvault_vacuum_bundles_rewritten_total",
		Help: "Bundles rewritten during vacuum",
	},
	[]string{},
)

// VacuumBundlesDeleted counts bundles deleted outright during a vacuum
// pass because none of their chunks remained reachable.
var VacuumBundlesDeleted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "zvault_vacuum_bundles_deleted_total",
		Help: "Bundles deleted during vacuum",
	},
	[]string{},
)

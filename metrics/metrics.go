package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FilesScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goshawk_files_scanned_total",
			Help: "Total number of log files scanned",
		},
	)

	FilesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goshawk_files_skipped_total",
			Help: "Total number of log files skipped",
		},
		[]string{"reason"},
	)

	BytesScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goshawk_bytes_scanned_total",
			Help: "Total bytes of log input scanned",
		},
	)

	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goshawk_events_processed_total",
			Help: "Total number of normalized events evaluated",
		},
	)

	EventsMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goshawk_events_matched_total",
			Help: "Total number of rule matches emitted",
		},
		[]string{"level"},
	)

	CorrelationMatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goshawk_correlation_matches_total",
			Help: "Total number of matched correlation groups",
		},
	)

	ChunkReductionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "goshawk_chunk_reduction_duration_seconds",
			Help:    "Time spent in the serialized per-chunk reduction phase",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "goshawk_worker_pool_active_workers",
			Help: "Number of active workers per pool",
		},
		[]string{"pool_type"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goshawk_worker_pool_tasks_processed_total",
			Help: "Total number of tasks processed per pool",
		},
		[]string{"pool_type"},
	)
)

// Package metrics registers the process-wide Prometheus collectors
// exercised by the worker's table and kernel runtime.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// KernelRuns counts RunKernel dispatches by kernel type_id and outcome
	// ("ok" or "failed").
	KernelRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablerun_kernel_runs_total",
			Help: "Total number of kernel runs, by kernel id and outcome",
		},
		[]string{"kernel", "outcome"},
	)

	// KernelDuration observes RunKernel wall-clock time in seconds.
	KernelDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tablerun_kernel_duration_seconds",
			Help:    "RunKernel wall-clock duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kernel"},
	)

	// TableOps counts Get/Update/Iterate calls by operation and whether the
	// target shard was local or remote.
	TableOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablerun_table_ops_total",
			Help: "Total table operations, by operation and locality",
		},
		[]string{"op", "locality"},
	)

	// FlushBatchSize observes the number of entries shipped per flush Put.
	FlushBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablerun_flush_batch_size",
			Help:    "Number of key/value pairs shipped per flush Put",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	// RemoteIteratorFetches counts get_iterator RPCs issued by RemoteIterator.
	RemoteIteratorFetches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablerun_remote_iterator_fetches_total",
			Help: "Total get_iterator prefetch round-trips issued",
		},
	)
)

// Register adds every collector in this package to the default registry. It
// is safe to call at most once per process; cmd/worker calls it during
// startup before serving /metrics.
func Register() {
	prometheus.MustRegister(
		KernelRuns,
		KernelDuration,
		TableOps,
		FlushBatchSize,
		RemoteIteratorFetches,
	)
}

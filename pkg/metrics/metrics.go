package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ledger metrics
	StateVersionCurrent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corestate_state_version_current",
			Help: "Current top-of-ledger state version",
		},
	)

	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corestate_commits_total",
			Help: "Total number of commit() calls by outcome",
		},
		[]string{"outcome"},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corestate_commit_duration_seconds",
			Help:    "Time taken to process a commit batch in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CommittedTransactionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corestate_committed_transactions_total",
			Help: "Total number of ledger transactions committed",
		},
	)

	// Preparator metrics
	PrepareDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corestate_prepare_duration_seconds",
			Help:    "Time taken to prepare a vertex in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PrepareStopReasonsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corestate_prepare_stop_reasons_total",
			Help: "Total number of prepare() calls by stop reason",
		},
		[]string{"reason"},
	)

	// Execution cache metrics
	ExecutionCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corestate_execution_cache_hits_total",
			Help: "Total number of execution cache hits avoiding re-execution",
		},
	)

	ExecutionCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corestate_execution_cache_misses_total",
			Help: "Total number of execution cache misses",
		},
	)

	// Mempool metrics
	MempoolSizeTransactions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corestate_mempool_size_transactions",
			Help: "Current number of transactions held in the mempool",
		},
	)

	MempoolSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corestate_mempool_size_bytes",
			Help: "Current total payload size held in the mempool, in bytes",
		},
	)

	MempoolAdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corestate_mempool_admissions_total",
			Help: "Total number of add_transaction calls by outcome",
		},
		[]string{"outcome"},
	)

	MempoolEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corestate_mempool_evictions_total",
			Help: "Total number of transactions evicted to make room for higher-priority entries",
		},
	)

	// State hash tree GC metrics (spec §4.C)
	StateTreeGCNodesDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "state_tree_gc_nodes_deleted_total",
			Help: "Total number of JMT nodes physically deleted by the state tree GC",
		},
	)

	StateTreeGCRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "state_tree_gc_run_duration_seconds",
			Help:    "Time taken by one state tree GC run in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StateTreeGCStalePartsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "state_tree_gc_stale_parts_pending",
			Help: "Number of stale-part records still awaiting GC below the history horizon",
		},
	)

	// Accumulator metrics
	AccumulatorLeavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corestate_accumulator_leaves_total",
			Help: "Total number of leaves appended to an accumulator, by accumulator name",
		},
		[]string{"accumulator"},
	)
)

func init() {
	prometheus.MustRegister(StateVersionCurrent)
	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(CommitDuration)
	prometheus.MustRegister(CommittedTransactionsTotal)
	prometheus.MustRegister(PrepareDuration)
	prometheus.MustRegister(PrepareStopReasonsTotal)
	prometheus.MustRegister(ExecutionCacheHitsTotal)
	prometheus.MustRegister(ExecutionCacheMissesTotal)
	prometheus.MustRegister(MempoolSizeTransactions)
	prometheus.MustRegister(MempoolSizeBytes)
	prometheus.MustRegister(MempoolAdmissionsTotal)
	prometheus.MustRegister(MempoolEvictionsTotal)
	prometheus.MustRegister(StateTreeGCNodesDeletedTotal)
	prometheus.MustRegister(StateTreeGCRunDuration)
	prometheus.MustRegister(StateTreeGCStalePartsPending)
	prometheus.MustRegister(AccumulatorLeavesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	EventsInsertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rostra_events_inserted_total",
			Help: "Total number of events persisted by kind",
		},
		[]string{"kind"},
	)

	EventsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rostra_events_rejected_total",
			Help: "Total number of events rejected on insert, by reason",
		},
		[]string{"reason"},
	)

	StoreCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rostra_store_commit_duration_seconds",
			Help:    "Time taken to commit a store write transaction",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContentBlobsResident = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rostra_content_blobs_resident",
			Help: "Number of content blobs currently resident in the blob store",
		},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rostra_rpc_requests_total",
			Help: "Total number of reconciliation RPCs served, by rpc id",
		},
		[]string{"rpc"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rostra_rpc_request_duration_seconds",
			Help:    "Reconciliation RPC server-side handling duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"rpc"},
	)

	// Connection pool metrics
	PeerConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rostra_peer_connections_active",
			Help: "Number of live pooled peer connections",
		},
	)

	PeerBackoffActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rostra_peer_backoff_active",
			Help: "Number of peers currently in backoff after a failed resolve or dial",
		},
	)

	// Sync task metrics
	SyncCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rostra_sync_cycles_total",
			Help: "Total number of completed sync task cycles, by task",
		},
		[]string{"task"},
	)

	SyncCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rostra_sync_cycle_duration_seconds",
			Help:    "Duration of one sync task cycle, by task",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	DagFetchDepth = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rostra_dag_fetch_depth",
			Help:    "Depth reached by a single download_events_from_child walk",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048},
		},
	)

	ContentFetchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rostra_content_fetch_failures_total",
			Help: "Total number of content fetches that exhausted every candidate peer",
		},
	)

	// Directory metrics
	DirectoryResolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rostra_directory_resolve_duration_seconds",
			Help:    "Directory record resolution duration, by backend that answered",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	DirectoryPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rostra_directory_publish_total",
			Help: "Total number of directory record publish attempts, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsInsertedTotal,
		EventsRejectedTotal,
		StoreCommitDuration,
		ContentBlobsResident,
		RPCRequestsTotal,
		RPCRequestDuration,
		PeerConnectionsActive,
		PeerBackoffActive,
		SyncCyclesTotal,
		SyncCycleDuration,
		DagFetchDepth,
		ContentFetchFailuresTotal,
		DirectoryResolveDuration,
		DirectoryPublishTotal,
	)
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
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

/*
Package metrics defines and registers every Rostra Prometheus
collector, plus the Timer helper used to feed histograms from call
sites throughout the store, RPC server, sync tasks and directory
client.

# Metrics catalog

Store:
  - rostra_events_inserted_total{kind}, rostra_events_rejected_total{reason}
  - rostra_store_commit_duration_seconds
  - rostra_content_blobs_resident

RPC:
  - rostra_rpc_requests_total{rpc}
  - rostra_rpc_request_duration_seconds{rpc}

Connection pool:
  - rostra_peer_connections_active, rostra_peer_backoff_active

Sync tasks:
  - rostra_sync_cycles_total{task}, rostra_sync_cycle_duration_seconds{task}
  - rostra_dag_fetch_depth
  - rostra_content_fetch_failures_total

Directory:
  - rostra_directory_resolve_duration_seconds{backend}
  - rostra_directory_publish_total{outcome}

# Usage

	timer := metrics.NewTimer()
	// ... do the work ...
	timer.ObserveDurationVec(metrics.SyncCycleDuration, "wot_sweep")
	metrics.SyncCyclesTotal.WithLabelValues("wot_sweep").Inc()

Metrics are incremented inline at their call sites — there is no
separate polling collector, since every quantity here is already an
event the producing code observes directly (an RPC returning, a
commit completing, a sync cycle finishing).
rostra_content_blobs_resident and the two rostra_directory_* metrics
are registered but no call site updates them.

See also health.go for the /health, /ready and /live HTTP handlers
that sit alongside the /metrics endpoint.
*/
package metrics

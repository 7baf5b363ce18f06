package sync

import (
	"context"
	"time"

	"github.com/dpc/rostra/pkg/connpool"
	"github.com/dpc/rostra/pkg/identity"
	"github.com/dpc/rostra/pkg/metrics"
	"github.com/dpc/rostra/pkg/store"
)

// wotSweepPeriod is the hourly cadence of the web-of-trust safety-net
// sweep (spec.md §4.7.5).
const wotSweepPeriod = time.Hour

// runWotSweep is the safety net behind the followee/follower/new-head
// tasks: every period, it walks every identity in {self} ∪ WoT, asks
// candidate peers for their current head via GET_HEAD, and triggers a
// DAG-fetch for anything the local store doesn't already know (spec.md
// §4.7.5).
func runWotSweep(ctx context.Context, st *store.Store, pool *connpool.Pool) {
	ticker := time.NewTicker(wotSweepPeriod)
	defer ticker.Stop()

	sweepOnce(ctx, st, pool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, st, pool)
		}
	}
}

func sweepOnce(ctx context.Context, st *store.Store, pool *connpool.Pool) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.SyncCycleDuration, "wot_sweep")
		metrics.SyncCyclesTotal.WithLabelValues("wot_sweep").Inc()
		pool.ReportMetrics()
	}()

	ids := append([]identity.Id{st.Self()}, st.Wot().Get().All()...)

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		sweepIdentity(ctx, st, pool, id)
	}
}

func sweepIdentity(ctx context.Context, st *store.Store, pool *connpool.Pool, author identity.Id) {
	for _, peer := range candidatePeers(st, author) {
		if ctx.Err() != nil {
			return
		}
		conn, err := dialPeer(ctx, pool, peer)
		if err != nil {
			continue
		}
		head, err := conn.GetHead(ctx, author)
		if err != nil {
			pool.Drop(peer)
			continue
		}
		if head == nil {
			continue
		}
		if _, found, err := st.GetEvent(author, *head); err == nil && found {
			continue
		}
		downloadEventsFromChild(ctx, pool, st, author, *head, candidatePeers(st, author))
		break
	}
}

package sync

import (
	"context"
	"time"

	"github.com/dpc/rostra/pkg/connpool"
	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/log"
	"github.com/dpc/rostra/pkg/metrics"
	"github.com/dpc/rostra/pkg/store"
)

// contentFetchInterval is how often the content-fetch loop wakes to
// re-check the due queue (spec.md §4.7.7); the queue's own scheduled
// times, not this interval, decide what actually gets attempted.
const contentFetchInterval = 5 * time.Second

// contentFetchBatch bounds how many due entries are drained per wake.
const contentFetchBatch = 32

// contentFetchRetryDelay is the back-off applied on a failed content
// fetch before the entry becomes due again (spec.md §4.7.7 leaves the
// actual curve to the caller).
const contentFetchRetryDelay = 30 * time.Second

// runContentFetchLoop drains the store's content-fetch priority queue
// in earliest-scheduled-first order, fetching each entry's content
// from any peer plausibly holding it (spec.md §4.7.7).
func runContentFetchLoop(ctx context.Context, st *store.Store, pool *connpool.Pool) {
	ticker := time.NewTicker(contentFetchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drainContentQueue(ctx, st, pool)
		}
	}
}

func drainContentQueue(ctx context.Context, st *store.Store, pool *connpool.Pool) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.SyncCycleDuration, "content_fetch")
		metrics.SyncCyclesTotal.WithLabelValues("content_fetch").Inc()
	}()

	due, err := st.DueContentFetches(contentFetchBatch)
	if err != nil {
		log.Logger.Debug().Err(err).Str("component", "sync").Msg("could not read content-fetch queue")
		return
	}

	now := event.Timestamp(time.Now().Unix())
	for _, entry := range due {
		if entry.NextAttempt > now {
			break
		}
		if ctx.Err() != nil {
			return
		}
		fetchOneContent(ctx, st, pool, entry)
	}
}

func fetchOneContent(ctx context.Context, st *store.Store, pool *connpool.Pool, entry store.ContentMissingEntry) {
	signed, found, err := st.GetEvent(entry.Author, entry.Id)
	if err != nil || !found {
		return
	}
	verified, err := event.VerifyReceived(signed)
	if err != nil {
		return
	}

	for _, peer := range candidatePeers(st, entry.Author) {
		conn, err := dialPeer(ctx, pool, peer)
		if err != nil {
			continue
		}
		vc, ok, err := conn.GetEventContent(ctx, verified)
		if err != nil {
			pool.Drop(peer)
			continue
		}
		if !ok {
			continue
		}
		_ = st.ProcessEventContent(vc)
		return
	}

	metrics.ContentFetchFailuresTotal.Inc()
	next := event.Timestamp(time.Now().Add(contentFetchRetryDelay).Unix())
	if err := st.RecordFailedContentFetch(entry.Author, entry.Id, next); err != nil {
		log.Logger.Debug().Err(err).Str("component", "sync").
			Str("author", entry.Author.String()).Str("event", entry.Id.String()).
			Msg("failed to reschedule content fetch")
	}
}

package sync

import (
	"context"

	"github.com/dpc/rostra/pkg/connpool"
	"github.com/dpc/rostra/pkg/store"
)

// runNewHeadFetcher reacts to the new_heads broadcast: for every
// (author, head) the store reports and that is in the local web of
// trust, it runs download_events_from_child against that author's
// candidate peer set (spec.md §4.7.4).
func runNewHeadFetcher(ctx context.Context, st *store.Store, pool *connpool.Pool) {
	ch, cancel := st.SubscribeNewHeads()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case upd := <-ch:
			if !inWebOfTrust(st, upd.Author) {
				continue
			}
			candidates := candidatePeers(st, upd.Author)
			downloadEventsFromChild(ctx, pool, st, upd.Author, upd.Head, candidates)
		}
	}
}

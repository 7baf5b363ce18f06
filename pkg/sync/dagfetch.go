package sync

import (
	"container/heap"
	"context"
	"math/rand"

	"github.com/dpc/rostra/pkg/connpool"
	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
	"github.com/dpc/rostra/pkg/log"
	"github.com/dpc/rostra/pkg/metrics"
	"github.com/dpc/rostra/pkg/store"
)

// maxFetchDepth hard-caps how far download_events_from_child will walk
// back along missing parents for a single head, bounding the damage a
// malicious peer's long back-chain can do (spec.md §4.7.6).
const maxFetchDepth = 2048

// softFetchDepth is where the probabilistic cutoff starts thinning out
// deep walks: past this depth, each additional hop is only followed
// with diminishing probability rather than unconditionally.
const softFetchDepth = 64

type heapItem struct {
	depth int
	id    event.ShortEventId
}

type eventHeap []heapItem

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].depth < h[j].depth }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// candidatePeers returns the peer set download_events_from_child tries
// for one author: the author itself, the local identity, and anyone
// currently following author (spec.md §4.7.4, §4.7.6).
func candidatePeers(st *store.Store, author identity.Id) []identity.Id {
	seen := map[identity.Id]struct{}{author: {}, st.Self(): {}}
	out := []identity.Id{author, st.Self()}

	followers, err := st.FollowersOf(author)
	if err != nil {
		return out
	}
	for id := range followers {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// downloadEventsFromChild walks the DAG backwards from head, fetching
// every missing ancestor from whichever candidate peer answers first,
// then fetching content for anything the store still wants (spec.md
// §4.7.6). It reports whether any new event was persisted.
func downloadEventsFromChild(ctx context.Context, pool *connpool.Pool, st *store.Store, author identity.Id, head event.ShortEventId, candidates []identity.Id) bool {
	h := &eventHeap{{depth: 0, id: head}}
	heap.Init(h)

	persisted := false
	maxDepthSeen := 0
	defer func() { metrics.DagFetchDepth.Observe(float64(maxDepthSeen)) }()
	for h.Len() > 0 {
		item := heap.Pop(h).(heapItem)
		if item.depth > maxDepthSeen {
			maxDepthSeen = item.depth
		}

		if _, found, err := st.GetEvent(author, item.id); err == nil && found {
			continue
		}

		signed, peer, ok := fetchEventFromAny(ctx, pool, author, item.id, candidates)
		if !ok {
			log.Logger.Debug().Str("component", "sync").Str("author", author.String()).
				Str("event", item.id.String()).Msg("no candidate peer had this event")
			continue
		}

		verified, err := event.VerifyReceived(signed)
		if err != nil {
			continue
		}
		result, err := st.InsertEvent(verified)
		if err != nil {
			continue
		}
		persisted = true

		for _, parent := range result.MissingParents {
			nextDepth := item.depth + 1
			if nextDepth > maxFetchDepth {
				continue
			}
			if nextDepth > softFetchDepth && !continueAtDepth(nextDepth) {
				continue
			}
			heap.Push(h, heapItem{depth: nextDepth, id: parent})
		}

		if wants, err := st.WantsContent(author, item.id); err == nil && wants {
			fetchContentFrom(ctx, pool, st, peer, verified)
		}
	}
	return persisted
}

// continueAtDepth implements the probabilistic cutoff past
// softFetchDepth: the chance of continuing decays as depth grows,
// letting very deep walks peter out instead of running to
// maxFetchDepth every time.
func continueAtDepth(depth int) bool {
	p := float64(softFetchDepth) / float64(depth)
	return rand.Float64() < p
}

// fetchEventFromAny tries candidates in order and returns the first
// one that has (author, id), along with which peer served it (so the
// caller can ask the same peer for content).
func fetchEventFromAny(ctx context.Context, pool *connpool.Pool, author identity.Id, id event.ShortEventId, candidates []identity.Id) (event.Signed, identity.Id, bool) {
	for _, peer := range candidates {
		conn, err := dialPeer(ctx, pool, peer)
		if err != nil {
			continue
		}
		signed, found, err := conn.GetEvent(ctx, author, id)
		if err != nil {
			pool.Drop(peer)
			continue
		}
		if found {
			return signed, peer, true
		}
	}
	return event.Signed{}, identity.Id{}, false
}

func fetchContentFrom(ctx context.Context, pool *connpool.Pool, st *store.Store, peer identity.Id, verified event.Verified) {
	conn, err := dialPeer(ctx, pool, peer)
	if err != nil {
		return
	}
	vc, found, err := conn.GetEventContent(ctx, verified)
	if err != nil {
		pool.Drop(peer)
		return
	}
	if !found {
		return
	}
	_ = st.ProcessEventContent(vc)
}

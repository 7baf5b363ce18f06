package sync

import (
	"context"
	"sync"

	"github.com/dpc/rostra/pkg/connpool"
	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
	"github.com/dpc/rostra/pkg/log"
	"github.com/dpc/rostra/pkg/rpc"
	"github.com/dpc/rostra/pkg/store"
	"github.com/dpc/rostra/pkg/wire"
)

// runFollowerLoops supervises one WAIT_FOLLOWERS_NEW_HEADS long-poll
// coroutine per current follower, analogous to the followee
// supervisor but fed by the multi-update stream rather than a single
// WAIT_HEAD_UPDATE response (spec.md §4.7.3).
func runFollowerLoops(ctx context.Context, st *store.Store, pool *connpool.Pool) {
	var mu sync.Mutex
	active := map[identity.Id]context.CancelFunc{}
	defer func() {
		mu.Lock()
		for _, cancel := range active {
			cancel()
		}
		mu.Unlock()
	}()

	known := map[identity.Id]event.Timestamp{}
	for {
		current := st.SelfFollowers().Get()

		mu.Lock()
		for id, cancel := range active {
			if _, ok := current[id]; !ok {
				cancel()
				delete(active, id)
			}
		}
		for id := range current {
			if _, ok := active[id]; ok {
				continue
			}
			loopCtx, cancel := context.WithCancel(ctx)
			active[id] = cancel
			go followerLoop(loopCtx, st, pool, id)
		}
		mu.Unlock()

		var err error
		known, err = st.SelfFollowers().WaitChanged(ctx, known, followeeSetEqual)
		if err != nil {
			return
		}
	}
}

// followerLoop keeps a WAIT_FOLLOWERS_NEW_HEADS stream open against
// follower, storing every update whose author is in the web of trust
// (spec.md §4.7.3).
func followerLoop(ctx context.Context, st *store.Store, pool *connpool.Pool, follower identity.Id) {
	b := newPeerBackoff()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := dialPeer(ctx, pool, follower)
		if err != nil {
			sleepBackoff(ctx, b)
			continue
		}

		updates, stop, err := conn.WaitNewHeads(ctx, rpc.Followers)
		if err != nil {
			pool.Drop(follower)
			sleepBackoff(ctx, b)
			continue
		}

		streamErr := drainFollowerUpdates(ctx, st, pool, follower, updates)
		stop()
		if ctx.Err() != nil {
			return
		}
		if streamErr {
			pool.Drop(follower)
		}
		sleepBackoff(ctx, b)
	}
}

// drainFollowerUpdates consumes updates until the stream closes or ctx
// is cancelled, storing every update whose author is in the web of
// trust (spec.md §4.7.3). It returns true if the stream ended due to
// an error (the channel closing) rather than ctx cancellation.
func drainFollowerUpdates(ctx context.Context, st *store.Store, pool *connpool.Pool, follower identity.Id, updates <-chan wire.WaitNewHeadsUpdate) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case upd, ok := <-updates:
			if !ok {
				return true
			}
			if !inWebOfTrust(st, upd.Author) {
				continue
			}
			if err := fetchAndStoreEvent(ctx, pool, st, follower, upd.Author, upd.NewHead); err != nil {
				log.Logger.Debug().Err(err).Str("component", "sync").
					Str("follower", follower.String()).Str("author", upd.Author.String()).
					Msg("failed to fetch event referenced by follower update")
			}
		}
	}
}

func inWebOfTrust(st *store.Store, author identity.Id) bool {
	if author == st.Self() {
		return true
	}
	return st.Wot().Get().Contains(author)
}

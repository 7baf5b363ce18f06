package sync

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dpc/rostra/pkg/connpool"
	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
	"github.com/dpc/rostra/pkg/log"
	"github.com/dpc/rostra/pkg/store"
)

// initialBackoff and maxBackoff bound the per-peer exponential
// back-off used by the followee and follower long-poll loops
// (spec.md §4.7.2): doubling from initialBackoff, capped at
// maxBackoff.
const (
	initialBackoff = time.Second
	maxBackoff     = 5 * time.Minute
)

// protocolMismatchBackoff is the fixed delay applied when a peer
// echoes back the exact known_head we sent on a WAIT_HEAD_UPDATE —
// a known protocol-mismatch bug that would otherwise spin (spec.md
// §4.7.2).
const protocolMismatchBackoff = 60 * time.Second

func newPeerBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.Multiplier = 2
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	return b
}

// runFolloweeLoops supervises one background long-poll coroutine per
// active followee, starting and stopping them as the followee set
// changes (spec.md §4.7.2).
func runFolloweeLoops(ctx context.Context, st *store.Store, pool *connpool.Pool) {
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
		current := st.SelfFollowees().Get()

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
			go followeeLoop(loopCtx, st, pool, id)
		}
		mu.Unlock()

		var err error
		known, err = st.SelfFollowees().WaitChanged(ctx, known, followeeSetEqual)
		if err != nil {
			return
		}
	}
}

func followeeSetEqual(a, b map[identity.Id]event.Timestamp) bool {
	if len(a) != len(b) {
		return false
	}
	for id, ts := range a {
		if bts, ok := b[id]; !ok || bts != ts {
			return false
		}
	}
	return true
}

// followeeLoop holds a WAIT_HEAD_UPDATE long-poll open against author,
// fetching and storing each new head as it arrives and restarting
// immediately on success to keep the channel open (spec.md §4.7.2).
func followeeLoop(ctx context.Context, st *store.Store, pool *connpool.Pool, author identity.Id) {
	known, _, err := st.AnyHead(author)
	if err != nil {
		log.Logger.Debug().Err(err).Str("component", "sync").Str("followee", author.String()).Msg("could not load known head")
	}

	b := newPeerBackoff()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := dialPeer(ctx, pool, author)
		if err != nil {
			sleepBackoff(ctx, b)
			continue
		}

		newHead, err := conn.WaitHeadUpdate(ctx, author, known)
		if err != nil {
			pool.Drop(author)
			sleepBackoff(ctx, b)
			continue
		}

		if newHead == known {
			sleepCtx(ctx, protocolMismatchBackoff)
			continue
		}

		if err := fetchAndStoreEvent(ctx, pool, st, author, author, newHead); err != nil {
			log.Logger.Debug().Err(err).Str("component", "sync").Str("followee", author.String()).Msg("failed to fetch new followee head")
			sleepBackoff(ctx, b)
			continue
		}

		known = newHead
		b.Reset()
	}
}

// fetchAndStoreEvent fetches (author, id) from peer and stores its
// header, verifying the signature along the way.
func fetchAndStoreEvent(ctx context.Context, pool *connpool.Pool, st *store.Store, peer, author identity.Id, id event.ShortEventId) error {
	conn, err := dialPeer(ctx, pool, peer)
	if err != nil {
		return err
	}
	signed, found, err := conn.GetEvent(ctx, author, id)
	if err != nil {
		pool.Drop(peer)
		return err
	}
	if !found {
		return nil
	}
	verified, err := event.VerifyReceived(signed)
	if err != nil {
		return err
	}
	_, err = st.InsertEvent(verified)
	return err
}

func sleepBackoff(ctx context.Context, b *backoff.ExponentialBackOff) {
	d := b.NextBackOff()
	if d == backoff.Stop {
		d = b.MaxInterval
	}
	sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

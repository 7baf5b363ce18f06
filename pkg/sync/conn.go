package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/dpc/rostra/pkg/connpool"
	"github.com/dpc/rostra/pkg/directory"
	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
	"github.com/dpc/rostra/pkg/rpc"
	"github.com/dpc/rostra/pkg/wire"
)

// peerConn is the full RPC surface a sync task needs from a cached
// connection; connpool only knows about Ping/Close, so tasks type-assert
// the pool's Conn back to this richer interface, which *rpc.Client
// satisfies.
type peerConn interface {
	connpool.Conn
	GetHead(ctx context.Context, author identity.Id) (*event.ShortEventId, error)
	WaitHeadUpdate(ctx context.Context, author identity.Id, known event.ShortEventId) (event.ShortEventId, error)
	GetEvent(ctx context.Context, author identity.Id, id event.ShortEventId) (event.Signed, bool, error)
	GetEventContent(ctx context.Context, ev event.Verified) (event.VerifiedContent, bool, error)
	FeedEvent(ctx context.Context, signed event.Signed, content []byte) error
	WaitNewHeads(ctx context.Context, kind rpc.NewHeadsKind) (<-chan wire.WaitNewHeadsUpdate, func(), error)
}

// dialPeer resolves and dials id through the pool, returning its full
// RPC surface.
func dialPeer(ctx context.Context, pool *connpool.Pool, id identity.Id) (peerConn, error) {
	conn, err := pool.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pc, ok := conn.(peerConn)
	if !ok {
		return nil, fmt.Errorf("sync: connection to %s does not implement the rpc surface", id)
	}
	return pc, nil
}

// NewPool builds a connpool.Pool wired to dial via rpc.Dial and
// resolve via resolver, using secret as the local node's transport
// identity (spec.md §4.9). initialBackoff and maxBackoff tune the
// per-peer backoff schedule; zero leaves connpool's own defaults.
func NewPool(secret identity.Secret, resolver *directory.Resolver, pingTimeout, initialBackoff, maxBackoff time.Duration) *connpool.Pool {
	dial := func(ctx context.Context, ticket string) (connpool.Conn, error) {
		tk, err := rpc.ParseTicket(ticket)
		if err != nil {
			return nil, err
		}
		return rpc.Dial(ctx, secret, tk)
	}
	resolve := func(ctx context.Context, id identity.Id) (connpool.Resolution, error) {
		rec, err := resolver.Resolve(ctx, id)
		if err != nil {
			return connpool.Resolution{}, err
		}
		return connpool.Resolution{Ticket: rec.Ticket}, nil
	}
	return connpool.New(dial, resolve, pingTimeout, initialBackoff, maxBackoff)
}

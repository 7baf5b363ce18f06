package sync

import (
	"context"
	"sync"

	"github.com/dpc/rostra/pkg/connpool"
	"github.com/dpc/rostra/pkg/directory"
	"github.com/dpc/rostra/pkg/rpc"
	"github.com/dpc/rostra/pkg/store"
)

// Tasks owns every background sync coroutine for one local node:
// identity publishing, followee/follower long-polls, the new-head
// fetcher, the hourly WoT sweep, and the content-fetch loop (spec.md
// §4.7). Each is a long-lived goroutine; Start launches all of them,
// Stop tears them down and waits for exit.
type Tasks struct {
	store     *store.Store
	pool      *connpool.Pool
	publisher *directory.Publisher
	ticket    rpc.Ticket

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Tasks bundle. ticket is this node's own printable
// connection ticket, published under its directory record.
func New(st *store.Store, pool *connpool.Pool, publisher *directory.Publisher, ticket rpc.Ticket) *Tasks {
	return &Tasks{store: st, pool: pool, publisher: publisher, ticket: ticket}
}

// Start launches every sync task. Calling Start twice without an
// intervening Stop is a programming error.
func (t *Tasks) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	runs := []func(context.Context){
		func(ctx context.Context) { runPublisher(ctx, t.store, t.publisher, t.ticket) },
		func(ctx context.Context) { runFolloweeLoops(ctx, t.store, t.pool) },
		func(ctx context.Context) { runFollowerLoops(ctx, t.store, t.pool) },
		func(ctx context.Context) { runNewHeadFetcher(ctx, t.store, t.pool) },
		func(ctx context.Context) { runWotSweep(ctx, t.store, t.pool) },
		func(ctx context.Context) { runContentFetchLoop(ctx, t.store, t.pool) },
	}

	t.wg.Add(len(runs))
	for _, run := range runs {
		run := run
		go func() {
			defer t.wg.Done()
			run(ctx)
		}()
	}
}

// Stop cancels every task and waits for them to exit.
func (t *Tasks) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

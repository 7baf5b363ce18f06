package sync

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/dpc/rostra/pkg/directory"
	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/log"
	"github.com/dpc/rostra/pkg/rpc"
	"github.com/dpc/rostra/pkg/store"
)

// publishPeriod is the ~6-minute cadence of the pkarr identity
// publisher (spec.md §4.7.1).
const publishPeriod = 6 * time.Minute

// publishJitterWindow is the short randomized window the publisher
// waits before publishing, so two nodes racing to claim a freshly
// restarted identity don't immediately stomp on each other.
const publishJitterWindow = 5 * time.Second

// runPublisher republishes the node's directory record every
// publishPeriod and whenever the self-head watch fires, after waiting
// a short jittered window (spec.md §4.7.1). It blocks until ctx is
// cancelled.
func runPublisher(ctx context.Context, st *store.Store, publisher *directory.Publisher, ticket rpc.Ticket) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(publishPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				publishNow(ctx, st, publisher, ticket)
			}
		}
	}()

	go func() {
		defer wg.Done()
		known := st.SelfHead().Get()
		for {
			newHead, err := st.SelfHead().WaitChanged(ctx, known, equalHeadPtr)
			if err != nil {
				return
			}
			known = newHead
			publishNow(ctx, st, publisher, ticket)
		}
	}()

	wg.Wait()
}

func equalHeadPtr(a, b *event.ShortEventId) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func publishNow(ctx context.Context, st *store.Store, publisher *directory.Publisher, ticket rpc.Ticket) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(rand.Int63n(int64(publishJitterWindow)))):
	}

	rec := directory.Record{Ticket: ticket.String(), Head: st.SelfHead().Get()}
	if err := publisher.Publish(ctx, rec); err != nil {
		log.Logger.Debug().Err(err).Str("component", "sync").Msg("identity publish failed, will retry next period")
	}
}

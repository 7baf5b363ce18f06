package directory

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dpc/rostra/pkg/identity"
	"github.com/dpc/rostra/pkg/log"
)

// Backend is anything that can serve a signed packet by identity and
// accept a new one for publication. DHT and Relay both implement it.
type Backend interface {
	Publish(ctx context.Context, sp SignedPacket) error
	Resolve(ctx context.Context, id identity.Id) (SignedPacket, error)
}

// Resolver races a set of Backends and takes whichever answers first
// (spec.md §4.8). Publish fans out to every backend and only fails if
// all of them do — a single lost write is not durability-critical.
type Resolver struct {
	backends []Backend
}

// NewResolver builds a Resolver over the given backends, tried in
// parallel on every call.
func NewResolver(backends ...Backend) *Resolver {
	return &Resolver{backends: backends}
}

// Resolve returns the first valid Record any backend produces for id.
func (r *Resolver) Resolve(ctx context.Context, id identity.Id) (Record, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		rec Record
		err error
	}
	results := make(chan result, len(r.backends))

	var wg sync.WaitGroup
	for _, b := range r.backends {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			sp, err := b.Resolve(ctx, id)
			if err != nil {
				results <- result{err: err}
				return
			}
			rec, err := Verify(sp)
			results <- result{rec: rec, err: err}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var lastErr error = ErrNotFound
	for res := range results {
		if res.err != nil {
			lastErr = res.err
			continue
		}
		return res.rec, nil
	}
	return Record{}, lastErr
}

// Publish writes sp to every backend concurrently. It returns an
// error only if every backend failed; individual failures are logged
// and otherwise ignored (spec.md §4.8 — publish is best-effort).
func (r *Resolver) Publish(ctx context.Context, sp SignedPacket) error {
	g, ctx := errgroup.WithContext(contextWithoutCancel(ctx))
	failures := make([]error, len(r.backends))
	for i, b := range r.backends {
		i, b := i, b
		g.Go(func() error {
			if err := b.Publish(ctx, sp); err != nil {
				failures[i] = err
				log.Logger.Debug().Err(err).Int("backend", i).Str("component", "directory").Msg("publish backend failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range failures {
		if err == nil {
			return nil
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return failures[0]
}

// contextWithoutCancel strips an incoming cancellation so one slow
// backend's own timeout doesn't abort the others; values are kept.
func contextWithoutCancel(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

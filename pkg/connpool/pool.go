package connpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dpc/rostra/pkg/identity"
	"github.com/dpc/rostra/pkg/log"
	"github.com/dpc/rostra/pkg/metrics"
)

// Conn is the minimal transport surface the pool needs: a liveness
// check and a way to tear the connection down. Package rpc's client
// connection satisfies this.
type Conn interface {
	Ping(ctx context.Context) error
	Close() error
}

// Resolution is whatever the caller needs to dial a fresh connection
// to an identity — normally its directory record's ticket.
type Resolution struct {
	Ticket string
}

// ErrBackingOff is returned when a peer has failed recently enough
// that its backoff schedule has not yet elapsed (spec.md §4.9.3).
var ErrBackingOff = errors.New("connpool: backing off")

// DialFunc dials a fresh connection given a resolved ticket.
type DialFunc func(ctx context.Context, ticket string) (Conn, error)

// ResolveFunc resolves an identity to a Resolution (normally
// directory.Resolver.Resolve, adapted by the caller).
type ResolveFunc func(ctx context.Context, id identity.Id) (Resolution, error)

type entry struct {
	conn        Conn
	lastUse     time.Time
	backoff     *backoff.ExponentialBackOff
	nextAttempt time.Time
}

// Pool caches one live connection per identity.
type Pool struct {
	mu          sync.Mutex
	entries     map[identity.Id]*entry
	dial        DialFunc
	resolve     ResolveFunc
	pingTimeout time.Duration

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// New builds an empty Pool. dial and resolve are required; pingTimeout
// bounds the liveness check on a cached connection. initialBackoff and
// maxBackoff tune the per-peer exponential backoff schedule (spec.md
// §4.9.3); zero leaves each at its package default.
func New(dial DialFunc, resolve ResolveFunc, pingTimeout, initialBackoff, maxBackoff time.Duration) *Pool {
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	if initialBackoff <= 0 {
		initialBackoff = 500 * time.Millisecond
	}
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Minute
	}
	return &Pool{
		entries:        make(map[identity.Id]*entry),
		dial:           dial,
		resolve:        resolve,
		pingTimeout:    pingTimeout,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}
}

// Get returns a live connection to id: a cached one if it still
// answers a ping, otherwise a freshly resolved and dialed one
// (spec.md §4.9).
func (p *Pool) Get(ctx context.Context, id identity.Id) (Conn, error) {
	if cached, ok := p.cached(id); ok {
		if p.ping(ctx, cached) {
			p.touch(id)
			return cached, nil
		}
		p.drop(id, cached)
	}

	if !p.clearedForAttempt(id) {
		return nil, ErrBackingOff
	}

	res, err := p.resolve(ctx, id)
	if err != nil {
		p.recordFailure(id)
		return nil, fmt.Errorf("connpool: resolve %s: %w", id, err)
	}
	if res.Ticket == "" {
		p.recordFailure(id)
		return nil, fmt.Errorf("connpool: %s: no connection ticket", id)
	}

	conn, err := p.dial(ctx, res.Ticket)
	if err != nil {
		p.recordFailure(id)
		return nil, fmt.Errorf("connpool: dial %s: %w", id, err)
	}

	p.mu.Lock()
	p.entries[id] = &entry{conn: conn, lastUse: time.Now()}
	p.mu.Unlock()
	return conn, nil
}

// Drop forcibly evicts and closes any cached connection to id, e.g.
// after a caller observes an RPC failure on it mid-use.
func (p *Pool) Drop(id identity.Id) {
	p.mu.Lock()
	e, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	if ok && e.conn != nil {
		_ = e.conn.Close()
	}
}

// ReportMetrics publishes the pool's current connection/backoff counts
// to the process's Prometheus gauges. Callers invoke it periodically
// (e.g. alongside a sync task tick) since the pool itself has no
// background loop of its own.
func (p *Pool) ReportMetrics() {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := 0
	backingOff := 0
	now := time.Now()
	for _, e := range p.entries {
		if e.conn != nil {
			active++
		}
		if now.Before(e.nextAttempt) {
			backingOff++
		}
	}
	metrics.PeerConnectionsActive.Set(float64(active))
	metrics.PeerBackoffActive.Set(float64(backingOff))
}

func (p *Pool) cached(id identity.Id) (Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok || e.conn == nil {
		return nil, false
	}
	return e.conn, true
}

func (p *Pool) ping(ctx context.Context, conn Conn) bool {
	pctx, cancel := context.WithTimeout(ctx, p.pingTimeout)
	defer cancel()
	return conn.Ping(pctx) == nil
}

func (p *Pool) touch(id identity.Id) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[id]; ok {
		e.lastUse = time.Now()
	}
}

func (p *Pool) drop(id identity.Id, stale Conn) {
	p.mu.Lock()
	delete(p.entries, id)
	p.mu.Unlock()
	_ = stale.Close()
}

// clearedForAttempt reports whether id's backoff schedule permits a
// connect attempt right now.
func (p *Pool) clearedForAttempt(id identity.Id) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return true
	}
	return !time.Now().Before(e.nextAttempt)
}

// recordFailure advances id's exponential backoff schedule so the
// next Get call is held off until it elapses (spec.md §4.9.3).
func (p *Pool) recordFailure(id identity.Id) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok {
		e = &entry{}
		p.entries[id] = e
	}
	if e.backoff == nil {
		e.backoff = p.newBackoff()
	}
	delay := e.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = e.backoff.MaxInterval
	}
	e.nextAttempt = time.Now().Add(delay)

	log.Logger.Debug().
		Str("component", "connpool").
		Str("peer", id.String()).
		Dur("backoff", delay).
		Msg("connect attempt failed, backing off")
}

func (p *Pool) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialBackoff
	b.MaxInterval = p.maxBackoff
	b.MaxElapsedTime = 0 // never give up; the caller decides when to stop retrying
	return b
}

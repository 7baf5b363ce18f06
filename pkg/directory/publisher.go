package directory

import (
	"context"
	"time"

	"github.com/dpc/rostra/pkg/identity"
)

// Publisher signs and republishes the local node's record on demand.
// The periodic/self-check cadence (spec.md §4.7.1) lives in package
// sync; this type only knows how to sign and push one record.
type Publisher struct {
	secret   identity.Secret
	resolver *Resolver
}

// NewPublisher builds a Publisher for secret using resolver's backends.
func NewPublisher(secret identity.Secret, resolver *Resolver) *Publisher {
	return &Publisher{secret: secret, resolver: resolver}
}

// Publish signs {ticket, head} as of now and pushes it to every backend.
func (p *Publisher) Publish(ctx context.Context, rec Record) error {
	sp, err := Sign(p.secret, rec, time.Now())
	if err != nil {
		return err
	}
	return p.resolver.Publish(ctx, sp)
}

package client

import (
	"context"
	"fmt"
	"time"

	"github.com/dpc/rostra/pkg/connpool"
	"github.com/dpc/rostra/pkg/content"
	"github.com/dpc/rostra/pkg/directory"
	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
	"github.com/dpc/rostra/pkg/log"
	"github.com/dpc/rostra/pkg/rpc"
	"github.com/dpc/rostra/pkg/social"
	"github.com/dpc/rostra/pkg/store"
	"github.com/dpc/rostra/pkg/sync"
)

// Options configures Open.
type Options struct {
	// DataDir holds the embedded store's database file.
	DataDir string
	// Secret is the local node's identity.
	Secret identity.Secret
	// ListenAddr is the address the RPC server binds to.
	ListenAddr string
	// AdvertiseAddr is published in the node's directory ticket in
	// place of ListenAddr, for nodes behind NAT. Empty uses the RPC
	// server's actual bound address.
	AdvertiseAddr string
	// RelayURL, if set, adds an HTTP directory relay backend
	// (spec.md §4.8) alongside the built-in DHT backend.
	RelayURL string
	// PingTimeout bounds connpool's liveness check on a cached
	// connection. Zero uses connpool's own default.
	PingTimeout time.Duration
	// InitialBackoff and MaxBackoff tune the per-peer connection
	// backoff schedule (spec.md §4.9.3). Zero leaves connpool's own
	// defaults.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client owns every subsystem a single running Rostra node needs: the
// store, the derived social index, the connection pool, directory
// publishing, the RPC server, and the background sync tasks. It is
// the thing a host process (cmd/rostra-node, a test, an embedder)
// opens once and closes on shutdown (spec.md §6).
type Client struct {
	store     *store.Store
	pool      *connpool.Pool
	resolver  *directory.Resolver
	publisher *directory.Publisher
	server    *rpc.Server
	tasks     *sync.Tasks
	secret    identity.Secret
	ticket    rpc.Ticket
}

// Open wires together and starts one Rostra node: it opens the store,
// installs the derived social index, starts the RPC server, builds
// the connection pool and directory publisher, and launches the
// background sync tasks. The returned Client is ready to serve
// traffic; callers must call Close on shutdown.
func Open(opts Options) (*Client, error) {
	self := opts.Secret.Public()

	st, err := store.Open(opts.DataDir, self)
	if err != nil {
		return nil, fmt.Errorf("client: open store: %w", err)
	}
	st.SetDerivedIndexUpdater(social.New())

	server, err := rpc.Listen(opts.ListenAddr, opts.Secret, st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("client: start rpc server: %w", err)
	}

	backends := []directory.Backend{directory.NewDHT(self)}
	if opts.RelayURL != "" {
		backends = append(backends, directory.NewRelay(opts.RelayURL))
	}
	resolver := directory.NewResolver(backends...)
	publisher := directory.NewPublisher(opts.Secret, resolver)

	pool := sync.NewPool(opts.Secret, resolver, opts.PingTimeout, opts.InitialBackoff, opts.MaxBackoff)

	advertiseAddr := opts.AdvertiseAddr
	if advertiseAddr == "" {
		advertiseAddr = server.Addr()
	}
	ticket := rpc.Ticket{Id: self, Addr: advertiseAddr}

	tasks := sync.New(st, pool, publisher, ticket)

	c := &Client{
		store:     st,
		pool:      pool,
		resolver:  resolver,
		publisher: publisher,
		server:    server,
		tasks:     tasks,
		secret:    opts.Secret,
		ticket:    ticket,
	}

	ctx := context.Background()
	tasks.Start(ctx)
	go func() {
		if err := server.Serve(ctx); err != nil {
			log.WithComponent("client").Error().Err(err).Msg("rpc server exited")
		}
	}()

	return c, nil
}

// Close tears the node down: stops the sync tasks, stops accepting
// new RPC connections, and closes the store. Order matters — the
// tasks and server must stop touching the store before it closes.
func (c *Client) Close() error {
	c.tasks.Stop()
	if err := c.server.Close(); err != nil {
		log.WithComponent("client").Warn().Err(err).Msg("closing rpc server")
	}
	return c.store.Close()
}

// Self returns the local node's identity.
func (c *Client) Self() identity.Id { return c.store.Self() }

// Store exposes the underlying store for read-only queries (feed
// listing, profile lookup, reply/reaction counts) that don't belong
// on this façade.
func (c *Client) Store() *store.Store { return c.store }

// SelfHead returns the local identity's self-head watch, for callers
// that want to observe the node's own DAG growing.
func (c *Client) SelfHead() *store.Watch[*event.ShortEventId] { return c.store.SelfHead() }

// publish builds, signs, and stores a new self-authored event whose
// content is the encoding of payload, chaining it onto the node's
// current self head (spec.md §4.2). The content is processed into the
// derived index immediately rather than left to the content-fetch
// loop, since it's already local.
func (c *Client) publish(kind event.Kind, payload any, flags event.Flags) (event.Id, error) {
	bytes, err := content.EncodePayload(payload)
	if err != nil {
		return event.Id{}, fmt.Errorf("client: encode content: %w", err)
	}

	var parentPrev *event.ShortEventId
	if head := c.store.SelfHead().Get(); head != nil {
		h := *head
		parentPrev = &h
	}
	var parentAux *event.ShortEventId
	if aux, found, err := c.store.RandomSelfEvent(); err == nil && found {
		a := aux
		parentAux = &a
	}

	ts := event.Timestamp(time.Now().Unix())
	header, err := event.Build(c.Self(), kind, parentPrev, parentAux, ts, flags, bytes)
	if err != nil {
		return event.Id{}, fmt.Errorf("client: build event: %w", err)
	}

	signed := event.SignBy(header, c.secret)
	verified, err := event.VerifyReceived(signed)
	if err != nil {
		return event.Id{}, fmt.Errorf("client: verify own event: %w", err)
	}

	if _, err := c.store.InsertEvent(verified); err != nil {
		return event.Id{}, fmt.Errorf("client: insert event: %w", err)
	}

	if len(bytes) > 0 {
		vc, err := event.VerifyContent(verified, bytes)
		if err != nil {
			return event.Id{}, fmt.Errorf("client: verify own content: %w", err)
		}
		if err := c.store.ProcessEventContent(vc); err != nil {
			return event.Id{}, fmt.Errorf("client: process own content: %w", err)
		}
	}

	return verified.Id, nil
}

// Post publishes a social post (spec.md §5.2).
func (c *Client) Post(post content.SocialPost) (event.Id, error) {
	return c.publish(event.KindSocialPost, post, 0)
}

// PostShoutbox publishes a singleton ephemeral shoutbox update
// (spec.md §5.6): the Singleton flag lets the store prune the
// previous shoutbox content once this one supersedes it.
func (c *Client) PostShoutbox(sb content.Shoutbox) (event.Id, error) {
	return c.publish(event.KindShoutbox, sb, event.FlagSingleton)
}

// UpdateProfile publishes a singleton profile update (spec.md §5.3).
func (c *Client) UpdateProfile(profile content.ProfileUpdate) (event.Id, error) {
	return c.publish(event.KindSocialProfileUpdate, profile, event.FlagSingleton)
}

// Follow asserts a FOLLOW edge to followee (spec.md §5.4). A later
// Follow or Unfollow with a strictly greater timestamp wins under the
// store's last-writer-wins rule.
func (c *Client) Follow(followee identity.Id) (event.Id, error) {
	return c.publish(event.KindFollow, content.FollowEdge{Followee: followee}, 0)
}

// Unfollow asserts an UNFOLLOW edge to followee (spec.md §5.4).
func (c *Client) Unfollow(followee identity.Id) (event.Id, error) {
	return c.publish(event.KindUnfollow, content.FollowEdge{Followee: followee}, 0)
}

// PublishEvent republishes the node's current directory record (its
// connection ticket and self head) immediately, rather than waiting
// for the periodic publish task (spec.md §4.7.1).
func (c *Client) PublishEvent(ctx context.Context) error {
	return c.publisher.Publish(ctx, directory.Record{
		Ticket:    c.ticket.String(),
		Head:      c.store.SelfHead().Get(),
		Timestamp: time.Now(),
	})
}

package rpc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
	"github.com/dpc/rostra/pkg/store"
	"github.com/dpc/rostra/pkg/wire"
)

// fakeBackend is a minimal in-memory Backend for exercising the wire
// protocol without a real bbolt-backed store.
type fakeBackend struct {
	mu        sync.Mutex
	heads     map[identity.Id]event.ShortEventId
	events    map[identity.Id]map[event.ShortEventId]event.Signed
	content   map[event.ContentHash][]byte
	followees *store.Watch[map[identity.Id]event.Timestamp]
	followers *store.Watch[map[identity.Id]event.Timestamp]
	broker    *store.Broker[store.HeadUpdate]
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		heads:     map[identity.Id]event.ShortEventId{},
		events:    map[identity.Id]map[event.ShortEventId]event.Signed{},
		content:   map[event.ContentHash][]byte{},
		followees: store.NewWatch(map[identity.Id]event.Timestamp{}),
		followers: store.NewWatch(map[identity.Id]event.Timestamp{}),
		broker:    store.NewBroker[store.HeadUpdate](16),
	}
}

func (b *fakeBackend) AnyHead(author identity.Id) (event.ShortEventId, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.heads[author]
	return h, ok, nil
}

func (b *fakeBackend) GetEvent(author identity.Id, id event.ShortEventId) (event.Signed, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.events[author]
	if !ok {
		return event.Signed{}, false, nil
	}
	s, ok := m[id]
	return s, ok, nil
}

func (b *fakeBackend) GetContent(hash event.ContentHash) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.content[hash]
	if !ok {
		return nil, wire.ErrFrameTooLarge // any error value; not inspected by callers here
	}
	return c, nil
}

func (b *fakeBackend) InsertEvent(verified event.Verified) (store.InsertResult, error) {
	b.mu.Lock()
	author := verified.Header.Author
	if b.events[author] == nil {
		b.events[author] = map[event.ShortEventId]event.Signed{}
	}
	if _, already := b.events[author][verified.Id.Short()]; already {
		b.mu.Unlock()
		return store.InsertResult{AlreadyPresent: true}, nil
	}
	b.events[author][verified.Id.Short()] = verified.Signed
	b.heads[author] = verified.Id.Short()
	b.mu.Unlock()

	b.broker.Publish(store.HeadUpdate{Author: author, Head: verified.Id.Short()})
	return store.InsertResult{}, nil
}

func (b *fakeBackend) ProcessEventContent(vc event.VerifiedContent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.content[vc.Event.Header.ContentHash] = vc.Bytes
	return nil
}

func (b *fakeBackend) SubscribeNewHeads() (<-chan store.HeadUpdate, func()) {
	return b.broker.Subscribe()
}

func (b *fakeBackend) SelfFollowees() *store.Watch[map[identity.Id]event.Timestamp] { return b.followees }
func (b *fakeBackend) SelfFollowers() *store.Watch[map[identity.Id]event.Timestamp] { return b.followers }

func newTestServer(t *testing.T) (*Server, identity.Secret, *fakeBackend) {
	t.Helper()
	secret, err := identity.Generate()
	require.NoError(t, err)
	backend := newFakeBackend()
	srv, err := Listen("127.0.0.1:0", secret, backend)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Serve(ctx) }()

	return srv, secret, backend
}

func dialTestClient(t *testing.T, srv *Server, server identity.Secret) *Client {
	t.Helper()
	client, err := identity.Generate()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, client, Ticket{Id: server.Public(), Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPing(t *testing.T) {
	srv, secret, _ := newTestServer(t)
	c := dialTestClient(t, srv, secret)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Ping(ctx))
}

func TestGetHeadAbsent(t *testing.T) {
	srv, secret, _ := newTestServer(t)
	c := dialTestClient(t, srv, secret)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	author, err := identity.Generate()
	require.NoError(t, err)

	head, err := c.GetHead(ctx, author.Public())
	require.NoError(t, err)
	require.Nil(t, head)
}

func TestFeedEventThenGetEvent(t *testing.T) {
	srv, secret, _ := newTestServer(t)
	c := dialTestClient(t, srv, secret)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	author, err := identity.Generate()
	require.NoError(t, err)

	payload := []byte("hello network")
	h, err := event.Build(author.Public(), event.KindSocialPost, nil, nil, event.Timestamp(time.Now().Unix()), 0, payload)
	require.NoError(t, err)
	signed := event.SignBy(h, author)

	require.NoError(t, c.FeedEvent(ctx, signed, payload))

	got, found, err := c.GetEvent(ctx, author.Public(), signed.Id.Short())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, signed.Header, got.Header)
	require.Equal(t, signed.Id, got.Id)

	head, err := c.GetHead(ctx, author.Public())
	require.NoError(t, err)
	require.NotNil(t, head)
	require.Equal(t, signed.Id.Short(), *head)
}

func TestFeedEventIsIdempotent(t *testing.T) {
	srv, secret, _ := newTestServer(t)
	c := dialTestClient(t, srv, secret)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	author, err := identity.Generate()
	require.NoError(t, err)
	h, err := event.Build(author.Public(), event.KindSocialPost, nil, nil, event.Timestamp(1), 0, nil)
	require.NoError(t, err)
	signed := event.SignBy(h, author)

	require.NoError(t, c.FeedEvent(ctx, signed, nil))
	err = c.FeedEvent(ctx, signed, nil)
	var wireErr *wire.Error
	require.ErrorAs(t, err, &wireErr)
	require.Equal(t, wire.CodeAlreadyHave, wireErr.Code)
}

func TestFeedEventRejectsBadSignature(t *testing.T) {
	srv, secret, _ := newTestServer(t)
	c := dialTestClient(t, srv, secret)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	author, err := identity.Generate()
	require.NoError(t, err)
	h, err := event.Build(author.Public(), event.KindSocialPost, nil, nil, event.Timestamp(1), 0, nil)
	require.NoError(t, err)
	signed := event.SignBy(h, author)
	signed.Sig[0] ^= 0xFF

	err = c.FeedEvent(ctx, signed, nil)
	var wireErr *wire.Error
	require.ErrorAs(t, err, &wireErr)
	require.Equal(t, wire.CodeIdMismatch, wireErr.Code)
}

func TestGetEventContentRoundTrip(t *testing.T) {
	srv, secret, _ := newTestServer(t)
	c := dialTestClient(t, srv, secret)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	author, err := identity.Generate()
	require.NoError(t, err)
	payload := []byte("a social post with some content")
	h, err := event.Build(author.Public(), event.KindSocialPost, nil, nil, event.Timestamp(1), 0, payload)
	require.NoError(t, err)
	signed := event.SignBy(h, author)
	require.NoError(t, c.FeedEvent(ctx, signed, payload))

	verified, err := event.VerifyReceived(signed)
	require.NoError(t, err)

	vc, found, err := c.GetEventContent(ctx, verified)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, payload, vc.Bytes)
}

func TestWaitHeadUpdateUnblocksOnFeed(t *testing.T) {
	srv, secret, _ := newTestServer(t)
	c := dialTestClient(t, srv, secret)

	author, err := identity.Generate()
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()

	resultCh := make(chan event.ShortEventId, 1)
	errCh := make(chan error, 1)
	go func() {
		head, err := c.WaitHeadUpdate(waitCtx, author.Public(), event.ShortEventId{})
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- head
	}()

	time.Sleep(100 * time.Millisecond)

	feedCtx, feedCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer feedCancel()
	h, err := event.Build(author.Public(), event.KindSocialPost, nil, nil, event.Timestamp(1), 0, nil)
	require.NoError(t, err)
	signed := event.SignBy(h, author)
	require.NoError(t, c.FeedEvent(feedCtx, signed, nil))

	select {
	case head := <-resultCh:
		require.Equal(t, signed.Id.Short(), head)
	case err := <-errCh:
		t.Fatalf("WaitHeadUpdate failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for head update")
	}
}

func TestWaitNewHeadsStreamsFollowerUpdates(t *testing.T) {
	srv, secret, _ := newTestServer(t)
	c := dialTestClient(t, srv, secret)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates, stop, err := c.WaitNewHeads(ctx, Followers)
	require.NoError(t, err)
	defer stop()

	author, err := identity.Generate()
	require.NoError(t, err)
	h, err := event.Build(author.Public(), event.KindSocialPost, nil, nil, event.Timestamp(1), 0, nil)
	require.NoError(t, err)
	signed := event.SignBy(h, author)

	feedCtx, feedCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer feedCancel()
	require.NoError(t, c.FeedEvent(feedCtx, signed, nil))

	select {
	case upd := <-updates:
		require.Equal(t, author.Public(), upd.Author)
		require.Equal(t, signed.Id.Short(), upd.NewHead)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for new-heads stream update")
	}
}

func TestTicketRoundTrip(t *testing.T) {
	secret, err := identity.Generate()
	require.NoError(t, err)
	tk := Ticket{Id: secret.Public(), Addr: "203.0.113.1:4433"}

	parsed, err := ParseTicket(tk.String())
	require.NoError(t, err)
	require.Equal(t, tk, parsed)
}

package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dpc/rostra/pkg/connpool"
	"github.com/dpc/rostra/pkg/content"
	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
	"github.com/dpc/rostra/pkg/rpc"
	"github.com/dpc/rostra/pkg/store"
)

func openTestStore(t *testing.T, self identity.Id) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rostra.db")
	s, err := store.Open(path, self)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// servePeer starts a real RPC server backed by backingStore and returns
// a *connpool.Pool that resolves every identity straight to it --
// enough to exercise dialPeer/candidatePeers against a live transport
// without a real directory.
func servePeer(t *testing.T, nodeSecret identity.Secret, backingStore *store.Store) (*rpc.Server, *connpool.Pool) {
	t.Helper()
	srv, err := rpc.Listen("127.0.0.1:0", nodeSecret, backingStore)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Serve(ctx) }()

	clientSecret, err := identity.Generate()
	require.NoError(t, err)

	dial := func(ctx context.Context, ticket string) (connpool.Conn, error) {
		tk, err := rpc.ParseTicket(ticket)
		if err != nil {
			return nil, err
		}
		return rpc.Dial(ctx, clientSecret, tk)
	}
	resolve := func(ctx context.Context, id identity.Id) (connpool.Resolution, error) {
		return connpool.Resolution{Ticket: rpc.Ticket{Id: nodeSecret.Public(), Addr: srv.Addr()}.String()}, nil
	}
	return srv, connpool.New(dial, resolve, 5*time.Second, 0, 0)
}

func feedEvent(t *testing.T, st *store.Store, secret identity.Secret, parent *event.ShortEventId, ts event.Timestamp, payload []byte) event.Signed {
	t.Helper()
	h, err := event.Build(secret.Public(), event.KindSocialPost, parent, parent, ts, 0, payload)
	require.NoError(t, err)
	signed := event.SignBy(h, secret)
	verified, err := event.VerifyReceived(signed)
	require.NoError(t, err)
	_, err = st.InsertEvent(verified)
	require.NoError(t, err)
	if len(payload) > 0 {
		vc, err := event.VerifyContent(verified, payload)
		require.NoError(t, err)
		require.NoError(t, st.ProcessEventContent(vc))
	}
	return signed
}

func TestCandidatePeersIncludesAuthorSelfAndFollowers(t *testing.T) {
	self := mustId(t)
	localStore := openTestStore(t, self)

	author := mustId(t)
	followerSecret, err := identity.Generate()
	require.NoError(t, err)
	feedFollow(t, localStore, followerSecret, author, 1, false)

	peers := candidatePeers(localStore, author)
	require.Contains(t, peers, author)
	require.Contains(t, peers, self)
	require.Contains(t, peers, followerSecret.Public())
}

func mustId(t *testing.T) identity.Id {
	t.Helper()
	s, err := identity.Generate()
	require.NoError(t, err)
	return s.Public()
}

// feedFollow inserts a signed FOLLOW/UNFOLLOW event from follower
// targeting followee and processes its content, the same path a real
// FEED_EVENT would take, so the follow-graph tables update exactly as
// production code would update them.
func feedFollow(t *testing.T, st *store.Store, follower identity.Secret, followee identity.Id, ts event.Timestamp, unfollow bool) {
	t.Helper()
	kind := event.KindFollow
	if unfollow {
		kind = event.KindUnfollow
	}
	payload, err := content.EncodePayload(content.FollowEdge{Followee: followee})
	require.NoError(t, err)
	h, err := event.Build(follower.Public(), kind, nil, nil, ts, 0, payload)
	require.NoError(t, err)
	signed := event.SignBy(h, follower)
	verified, err := event.VerifyReceived(signed)
	require.NoError(t, err)
	_, err = st.InsertEvent(verified)
	require.NoError(t, err)
	vc, err := event.VerifyContent(verified, payload)
	require.NoError(t, err)
	require.NoError(t, st.ProcessEventContent(vc))
}

func TestDownloadEventsFromChildFetchesAncestorChain(t *testing.T) {
	remoteSecret, err := identity.Generate()
	require.NoError(t, err)
	remoteStore := openTestStore(t, remoteSecret.Public())

	root := feedEvent(t, remoteStore, remoteSecret, nil, 1, []byte("root post"))
	rootId := root.Id.Short()
	child := feedEvent(t, remoteStore, remoteSecret, &rootId, 2, []byte("child post"))

	_, pool := servePeer(t, remoteSecret, remoteStore)

	localStore := openTestStore(t, mustId(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	candidates := []identity.Id{remoteSecret.Public()}
	persisted := downloadEventsFromChild(ctx, pool, localStore, remoteSecret.Public(), child.Id.Short(), candidates)
	require.True(t, persisted)

	_, found, err := localStore.GetEvent(remoteSecret.Public(), root.Id.Short())
	require.NoError(t, err)
	require.True(t, found)

	_, found, err = localStore.GetEvent(remoteSecret.Public(), child.Id.Short())
	require.NoError(t, err)
	require.True(t, found)
}

func TestContentFetchLoopDrainsDueQueue(t *testing.T) {
	remoteSecret, err := identity.Generate()
	require.NoError(t, err)
	remoteStore := openTestStore(t, remoteSecret.Public())
	posted := feedEvent(t, remoteStore, remoteSecret, nil, 1, []byte("has content"))

	_, pool := servePeer(t, remoteSecret, remoteStore)

	localStore := openTestStore(t, mustId(t))
	verified, err := event.VerifyReceived(posted)
	require.NoError(t, err)
	_, err = localStore.InsertEvent(verified)
	require.NoError(t, err)

	wants, err := localStore.WantsContent(remoteSecret.Public(), posted.Id.Short())
	require.NoError(t, err)
	require.True(t, wants)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	drainContentQueue(ctx, localStore, pool)

	got, err := localStore.GetContent(posted.Header.ContentHash)
	require.NoError(t, err)
	require.Equal(t, []byte("has content"), got)
}

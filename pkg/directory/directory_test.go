package directory

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	secret, err := identity.Generate()
	require.NoError(t, err)

	var head event.ShortEventId
	copy(head[:], []byte("0123456789abcdef"))
	rec := Record{Ticket: "quic://127.0.0.1:4433", Head: &head}

	sp, err := Sign(secret, rec, time.Unix(1700000000, 0))
	require.NoError(t, err)
	assert.Equal(t, secret.Public(), sp.Author)

	got, err := Verify(sp)
	require.NoError(t, err)
	assert.Equal(t, rec.Ticket, got.Ticket)
	require.NotNil(t, got.Head)
	assert.Equal(t, head, *got.Head)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	secret, err := identity.Generate()
	require.NoError(t, err)

	sp, err := Sign(secret, Record{Ticket: "quic://peer"}, time.Now())
	require.NoError(t, err)
	sp.Signature[0] ^= 0xFF

	_, err = Verify(sp)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestDHTPublishResolve(t *testing.T) {
	secret, err := identity.Generate()
	require.NoError(t, err)

	sp, err := Sign(secret, Record{Ticket: "quic://1.2.3.4:1"}, time.Now())
	require.NoError(t, err)

	d := NewDHT(secret.Public())
	require.NoError(t, d.Publish(context.Background(), sp))

	got, err := d.Resolve(context.Background(), secret.Public())
	require.NoError(t, err)
	assert.Equal(t, sp.Signature, got.Signature)
}

func TestDHTResolveMissingReturnsNotFound(t *testing.T) {
	secret, err := identity.Generate()
	require.NoError(t, err)

	d := NewDHT(secret.Public())
	_, err = d.Resolve(context.Background(), secret.Public())
	assert.ErrorIs(t, err, ErrNotFound)
}

// memRelay is an httptest-backed stand-in for a pkarr-style relay.
func memRelay(t *testing.T) *Relay {
	t.Helper()
	var mu sync.Mutex
	store := map[string][]byte{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			store[r.URL.Path] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			body, ok := store[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(body)
		}
	}))
	t.Cleanup(srv.Close)
	return NewRelay(srv.URL)
}

func TestRelayPublishResolveRoundTrip(t *testing.T) {
	secret, err := identity.Generate()
	require.NoError(t, err)
	sp, err := Sign(secret, Record{Ticket: "quic://relay-peer"}, time.Now())
	require.NoError(t, err)

	relay := memRelay(t)
	require.NoError(t, relay.Publish(context.Background(), sp))

	got, err := relay.Resolve(context.Background(), secret.Public())
	require.NoError(t, err)
	assert.Equal(t, sp.Signature, got.Signature)
}

func TestRelayResolveMissingReturnsNotFound(t *testing.T) {
	secret, err := identity.Generate()
	require.NoError(t, err)
	relay := memRelay(t)

	_, err = relay.Resolve(context.Background(), secret.Public())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolverRacesBackendsAndReturnsFirstSuccess(t *testing.T) {
	secret, err := identity.Generate()
	require.NoError(t, err)
	sp, err := Sign(secret, Record{Ticket: "quic://winner"}, time.Now())
	require.NoError(t, err)

	d := NewDHT(secret.Public())
	require.NoError(t, d.Publish(context.Background(), sp))
	relay := memRelay(t) // left empty: this backend will miss

	resolver := NewResolver(d, relay)
	rec, err := resolver.Resolve(context.Background(), secret.Public())
	require.NoError(t, err)
	assert.Equal(t, "quic://winner", rec.Ticket)
}

func TestResolverReturnsNotFoundWhenAllBackendsMiss(t *testing.T) {
	secret, err := identity.Generate()
	require.NoError(t, err)

	resolver := NewResolver(NewDHT(secret.Public()), memRelay(t))
	_, err = resolver.Resolve(context.Background(), secret.Public())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPublisherPublishesThroughResolver(t *testing.T) {
	secret, err := identity.Generate()
	require.NoError(t, err)

	d := NewDHT(secret.Public())
	resolver := NewResolver(d)
	pub := NewPublisher(secret, resolver)

	require.NoError(t, pub.Publish(context.Background(), Record{Ticket: "quic://self"}))

	rec, err := resolver.Resolve(context.Background(), secret.Public())
	require.NoError(t, err)
	assert.Equal(t, "quic://self", rec.Ticket)
}

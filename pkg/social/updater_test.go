package social

import (
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpc/rostra/pkg/content"
	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
)

func openTestDB(t *testing.T) *bolt.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "social.db")
	db, err := bolt.Open(path, 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Update(EnsureBuckets))
	return db
}

func verifiedPost(t *testing.T, author identity.Id, id event.ShortEventId, ts event.Timestamp, payload content.SocialPost) event.VerifiedContent {
	t.Helper()
	encoded, err := content.EncodePayload(payload)
	require.NoError(t, err)
	h := event.Header{Author: author, Kind: event.KindSocialPost, Timestamp: ts, ContentLen: uint32(len(encoded))}

	var full event.Id
	copy(full[:], id[:])
	return event.VerifiedContent{
		Event: event.Verified{Signed: event.Signed{Header: h, Id: full}},
		Bytes: encoded,
	}
}

func TestInsertPostWithReplyBumpsCount(t *testing.T) {
	db := openTestDB(t)
	u := New()

	author, err := identity.Generate()
	require.NoError(t, err)
	parentAuthor := author.Public()
	var parentId event.ShortEventId
	copy(parentId[:], []byte("parent-post-id-1"))

	var childId event.ShortEventId
	copy(childId[:], []byte("child-reply-id-01"))

	vc := verifiedPost(t, parentAuthor, childId, 100, content.SocialPost{
		Text:    "nice post",
		ReplyTo: &event.ExternalId{Author: parentAuthor, Event: parentId},
	})
	require.NoError(t, db.Update(func(tx *bolt.Tx) error { return u.Insert(tx, vc) }))

	var count uint32
	require.NoError(t, db.View(func(tx *bolt.Tx) error {
		count = ReplyCount(tx, parentAuthor, parentId)
		return nil
	}))
	assert.Equal(t, uint32(1), count)

	require.NoError(t, db.Update(func(tx *bolt.Tx) error { return u.Revert(tx, vc) }))
	require.NoError(t, db.View(func(tx *bolt.Tx) error {
		count = ReplyCount(tx, parentAuthor, parentId)
		return nil
	}))
	assert.Equal(t, uint32(0), count)
}

func TestProfileUpdateLastWriterWins(t *testing.T) {
	db := openTestDB(t)
	u := New()

	secret, err := identity.Generate()
	require.NoError(t, err)
	author := secret.Public()

	older := event.VerifiedContent{
		Event: event.Verified{Signed: event.Signed{Header: event.Header{Author: author, Kind: event.KindSocialProfileUpdate, Timestamp: 10}}},
		Bytes: []byte("older"),
	}
	newer := event.VerifiedContent{
		Event: event.Verified{Signed: event.Signed{Header: event.Header{Author: author, Kind: event.KindSocialProfileUpdate, Timestamp: 20}}},
		Bytes: []byte("newer"),
	}

	require.NoError(t, db.Update(func(tx *bolt.Tx) error { return u.Insert(tx, newer) }))
	require.NoError(t, db.Update(func(tx *bolt.Tx) error { return u.Insert(tx, older) }))

	var got []byte
	require.NoError(t, db.View(func(tx *bolt.Tx) error {
		v, ok := Profile(tx, author)
		require.True(t, ok)
		got = v
		return nil
	}))
	assert.Equal(t, []byte("newer"), got)
}

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
)

func openTestStore(t *testing.T, self identity.Id) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rostra.db")
	s, err := Open(path, self)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustSecret(t *testing.T) identity.Secret {
	t.Helper()
	s, err := identity.Generate()
	require.NoError(t, err)
	return s
}

func buildSigned(t *testing.T, secret identity.Secret, kind event.Kind, parentPrev, parentAux *event.ShortEventId, ts event.Timestamp, flags event.Flags, content []byte) event.Signed {
	t.Helper()
	h, err := event.Build(secret.Public(), kind, parentPrev, parentAux, ts, flags, content)
	require.NoError(t, err)
	return event.SignBy(h, secret)
}

func TestInsertEventCreatesHead(t *testing.T) {
	secret := mustSecret(t)
	s := openTestStore(t, secret.Public())

	signed := buildSigned(t, secret, event.KindNodeAnnouncement, nil, nil, 1, 0, nil)
	verified, err := event.VerifyReceived(signed)
	require.NoError(t, err)

	res, err := s.InsertEvent(verified)
	require.NoError(t, err)
	assert.False(t, res.AlreadyPresent)
	assert.False(t, res.WasMissing)

	heads, err := s.Heads(secret.Public())
	require.NoError(t, err)
	assert.Equal(t, []event.ShortEventId{verified.Id.Short()}, heads)
}

func TestInsertEventIsIdempotent(t *testing.T) {
	secret := mustSecret(t)
	s := openTestStore(t, secret.Public())

	signed := buildSigned(t, secret, event.KindNodeAnnouncement, nil, nil, 1, 0, nil)
	verified, err := event.VerifyReceived(signed)
	require.NoError(t, err)

	_, err = s.InsertEvent(verified)
	require.NoError(t, err)
	res2, err := s.InsertEvent(verified)
	require.NoError(t, err)
	assert.True(t, res2.AlreadyPresent)
}

func TestInsertEventChildRemovesParentFromHeads(t *testing.T) {
	secret := mustSecret(t)
	s := openTestStore(t, secret.Public())

	e1 := buildSigned(t, secret, event.KindSocialPost, nil, nil, 1, 0, []byte("hello"))
	v1, err := event.VerifyReceived(e1)
	require.NoError(t, err)
	_, err = s.InsertEvent(v1)
	require.NoError(t, err)

	parent := v1.Id.Short()
	e2 := buildSigned(t, secret, event.KindSocialPost, &parent, nil, 2, 0, []byte("world"))
	v2, err := event.VerifyReceived(e2)
	require.NoError(t, err)
	_, err = s.InsertEvent(v2)
	require.NoError(t, err)

	heads, err := s.Heads(secret.Public())
	require.NoError(t, err)
	assert.Equal(t, []event.ShortEventId{v2.Id.Short()}, heads)
}

func TestInsertEventRecordsMissingParent(t *testing.T) {
	secret := mustSecret(t)
	s := openTestStore(t, secret.Public())

	var unknownParent event.ShortEventId
	copy(unknownParent[:], []byte("unknown-parent-1"))

	e := buildSigned(t, secret, event.KindSocialPost, &unknownParent, nil, 1, 0, []byte("hi"))
	v, err := event.VerifyReceived(e)
	require.NoError(t, err)

	res, err := s.InsertEvent(v)
	require.NoError(t, err)
	require.Len(t, res.MissingParents, 1)
	assert.Equal(t, unknownParent, res.MissingParents[0])

	missing, err := s.IsMissing(secret.Public(), unknownParent)
	require.NoError(t, err)
	assert.True(t, missing)
}

func TestInsertEventFillsMissingGap(t *testing.T) {
	secret := mustSecret(t)
	s := openTestStore(t, secret.Public())

	parentHeader, err := event.Build(secret.Public(), event.KindSocialPost, nil, nil, 1, 0, []byte("parent"))
	require.NoError(t, err)
	parentId := parentHeader.ComputeId().Short()

	child := buildSigned(t, secret, event.KindSocialPost, &parentId, nil, 2, 0, []byte("child"))
	vChild, err := event.VerifyReceived(child)
	require.NoError(t, err)
	_, err = s.InsertEvent(vChild)
	require.NoError(t, err)

	missing, err := s.IsMissing(secret.Public(), parentId)
	require.NoError(t, err)
	assert.True(t, missing)

	parentSigned := event.SignBy(parentHeader, secret)
	vParent, err := event.VerifyReceived(parentSigned)
	require.NoError(t, err)
	res, err := s.InsertEvent(vParent)
	require.NoError(t, err)
	assert.True(t, res.WasMissing)

	missing, err = s.IsMissing(secret.Public(), parentId)
	require.NoError(t, err)
	assert.False(t, missing)

	heads, err := s.Heads(secret.Public())
	require.NoError(t, err)
	assert.Equal(t, []event.ShortEventId{vChild.Id.Short()}, heads)
}

func TestProcessEventContentMarksPresentAndBroadcasts(t *testing.T) {
	secret := mustSecret(t)
	s := openTestStore(t, secret.Public())

	contentBytes := []byte("hello content")
	e := buildSigned(t, secret, event.KindSocialPost, nil, nil, 1, 0, contentBytes)
	v, err := event.VerifyReceived(e)
	require.NoError(t, err)
	_, err = s.InsertEvent(v)
	require.NoError(t, err)

	sub, cancel := s.SubscribeNewContent()
	defer cancel()

	vc, err := event.VerifyContent(v, contentBytes)
	require.NoError(t, err)
	require.NoError(t, s.ProcessEventContent(vc))

	select {
	case got := <-sub:
		assert.Equal(t, contentBytes, got.Bytes)
	default:
		t.Fatal("expected new_content notification")
	}

	wants, err := s.WantsContent(secret.Public(), v.Id.Short())
	require.NoError(t, err)
	assert.False(t, wants)
}

func TestFollowEdgeLastWriterWins(t *testing.T) {
	secret := mustSecret(t)
	s := openTestStore(t, secret.Public())

	other := mustSecret(t).Public()

	res, err := applyFollowEdgeTx(t, s, secret.Public(), other, 10, false)
	require.NoError(t, err)
	assert.True(t, res)

	// Older unfollow must not win.
	res, err = applyFollowEdgeTx(t, s, secret.Public(), other, 5, true)
	require.NoError(t, err)
	assert.False(t, res)

	followees := s.SelfFollowees().Get()
	assert.Contains(t, followees, other)

	res, err = applyFollowEdgeTx(t, s, secret.Public(), other, 20, true)
	require.NoError(t, err)
	assert.True(t, res)

	followees = s.SelfFollowees().Get()
	assert.NotContains(t, followees, other)
}

func TestInsertEventSingletonReplacesAndDeletesPrevious(t *testing.T) {
	secret := mustSecret(t)
	s := openTestStore(t, secret.Public())

	first := buildSigned(t, secret, event.KindShoutbox, nil, nil, 1, event.FlagSingleton, []byte("hi"))
	vFirst, err := event.VerifyReceived(first)
	require.NoError(t, err)
	_, err = s.InsertEvent(vFirst)
	require.NoError(t, err)
	vcFirst, err := event.VerifyContent(vFirst, []byte("hi"))
	require.NoError(t, err)
	require.NoError(t, s.ProcessEventContent(vcFirst))

	firstId := vFirst.Id.Short()
	second := buildSigned(t, secret, event.KindShoutbox, &firstId, nil, 2, event.FlagSingleton, []byte("bye"))
	vSecond, err := event.VerifyReceived(second)
	require.NoError(t, err)
	res, err := s.InsertEvent(vSecond)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), res.RevertedBytes)

	var state ContentState
	err = s.ReadWith(func(tx *bolt.Tx) error {
		state, _, _ = getContentState(tx, secret.Public(), firstId)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ContentStateDeleted, state)
}

func TestInsertEventSingletonIgnoresOlderOutOfOrderArrival(t *testing.T) {
	secret := mustSecret(t)
	s := openTestStore(t, secret.Public())

	newer := buildSigned(t, secret, event.KindShoutbox, nil, nil, 10, event.FlagSingleton, []byte("new"))
	vNewer, err := event.VerifyReceived(newer)
	require.NoError(t, err)
	_, err = s.InsertEvent(vNewer)
	require.NoError(t, err)
	vcNewer, err := event.VerifyContent(vNewer, []byte("new"))
	require.NoError(t, err)
	require.NoError(t, s.ProcessEventContent(vcNewer))

	// An older singleton event for the same author, arriving late
	// (e.g. from a lagging peer), must not displace the newer one.
	older := buildSigned(t, secret, event.KindShoutbox, nil, nil, 1, event.FlagSingleton, []byte("old"))
	vOlder, err := event.VerifyReceived(older)
	require.NoError(t, err)
	res, err := s.InsertEvent(vOlder)
	require.NoError(t, err)
	assert.Nil(t, res.RevertedBytes)

	var state ContentState
	err = s.ReadWith(func(tx *bolt.Tx) error {
		state, _, _ = getContentState(tx, secret.Public(), vNewer.Id.Short())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ContentStatePresent, state)
}

func TestInsertEventPrunesOversizedContent(t *testing.T) {
	secret := mustSecret(t)
	s := openTestStore(t, secret.Public())

	oversized := make([]byte, event.MaxContentLen+1)
	header, err := event.Build(secret.Public(), event.KindSocialPost, nil, nil, 1, 0, oversized)
	require.ErrorIs(t, err, event.ErrContentTooLarge)
	signed := event.SignBy(header, secret)
	verified, err := event.VerifyReceived(signed)
	require.NoError(t, err)

	_, err = s.InsertEvent(verified)
	require.NoError(t, err)

	var state ContentState
	err = s.ReadWith(func(tx *bolt.Tx) error {
		state, _, _ = getContentState(tx, secret.Public(), verified.Id.Short())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ContentStatePruned, state)

	due, err := s.DueContentFetches(10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestProcessEventContentMarksInvalidOnBadPayload(t *testing.T) {
	secret := mustSecret(t)
	s := openTestStore(t, secret.Public())

	badBytes := []byte{0xff, 0xff, 0xff, 0xff}
	e := buildSigned(t, secret, event.KindSocialPost, nil, nil, 1, 0, badBytes)
	v, err := event.VerifyReceived(e)
	require.NoError(t, err)
	_, err = s.InsertEvent(v)
	require.NoError(t, err)

	vc, err := event.VerifyContent(v, badBytes)
	require.NoError(t, err)
	require.NoError(t, s.ProcessEventContent(vc))

	var state ContentState
	err = s.ReadWith(func(tx *bolt.Tx) error {
		state, _, _ = getContentState(tx, secret.Public(), v.Id.Short())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ContentStateInvalid, state)

	wants, err := s.WantsContent(secret.Public(), v.Id.Short())
	require.NoError(t, err)
	assert.False(t, wants)
}

func applyFollowEdgeTx(t *testing.T, s *Store, author, followee identity.Id, ts event.Timestamp, unfollow bool) (bool, error) {
	t.Helper()
	var changed bool
	err := s.WriteWith(func(tx *Tx) error {
		var err error
		changed, err = applyFollowEdge(tx.bolt, author, followee, ts, unfollow)
		if err != nil || !changed {
			return err
		}
		s.scheduleFollowGraphRefresh(tx, author, followee)
		return nil
	})
	return changed, err
}

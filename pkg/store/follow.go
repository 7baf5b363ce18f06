package store

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
)

func edgeKey(a, b identity.Id) []byte {
	key := make([]byte, identity.IdSize*2)
	copy(key, a[:])
	copy(key[identity.IdSize:], b[:])
	return key
}

func putTimestamp(bucket *bolt.Bucket, key []byte, ts event.Timestamp) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(ts))
	return bucket.Put(key, buf)
}

func getTimestamp(bucket *bolt.Bucket, key []byte) (event.Timestamp, bool) {
	data := bucket.Get(key)
	if data == nil {
		return 0, false
	}
	return event.Timestamp(binary.BigEndian.Uint64(data)), true
}

// currentEdge returns the timestamp and direction of the latest
// recorded FOLLOW/UNFOLLOW assertion between author and followee, if
// any.
func currentEdge(tx *bolt.Tx, author, followee identity.Id) (ts event.Timestamp, following, found bool) {
	key := edgeKey(author, followee)
	if ts, ok := getTimestamp(tx.Bucket(bucketIdsFollowees), key); ok {
		return ts, true, true
	}
	if ts, ok := getTimestamp(tx.Bucket(bucketIdsUnfollowed), key); ok {
		return ts, false, true
	}
	return 0, false, false
}

// applyFollowEdge applies the last-writer-wins rule of spec.md §3.5:
// a new edit wins only if its timestamp strictly dominates the
// stored one. It reports whether the edge actually changed.
func applyFollowEdge(tx *bolt.Tx, author, followee identity.Id, ts event.Timestamp, unfollow bool) (bool, error) {
	curTs, curFollowing, found := currentEdge(tx, author, followee)
	if found && ts <= curTs {
		return false, nil
	}
	if found {
		if err := clearEdge(tx, author, followee, curFollowing); err != nil {
			return false, err
		}
	}
	key := edgeKey(author, followee)
	if unfollow {
		if err := putTimestamp(tx.Bucket(bucketIdsUnfollowed), key, ts); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := putTimestamp(tx.Bucket(bucketIdsFollowees), key, ts); err != nil {
		return false, err
	}
	if err := putTimestamp(tx.Bucket(bucketIdsFollowers), edgeKey(followee, author), ts); err != nil {
		return false, err
	}
	return true, nil
}

// revertFollowEdge undoes a follow/unfollow assertion, but only if it
// is still the currently winning assertion for that edge — an edit
// that was already superseded under LWW has nothing left to revert.
func revertFollowEdge(tx *bolt.Tx, author, followee identity.Id, ts event.Timestamp, unfollow bool) error {
	curTs, curFollowing, found := currentEdge(tx, author, followee)
	if !found || curTs != ts || curFollowing == unfollow {
		return nil
	}
	return clearEdge(tx, author, followee, curFollowing)
}

func clearEdge(tx *bolt.Tx, author, followee identity.Id, wasFollowing bool) error {
	key := edgeKey(author, followee)
	if wasFollowing {
		if err := tx.Bucket(bucketIdsFollowees).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(bucketIdsFollowers).Delete(edgeKey(followee, author))
	}
	return tx.Bucket(bucketIdsUnfollowed).Delete(key)
}

// followeesOf returns every identity author currently follows.
func followeesOf(tx *bolt.Tx, author identity.Id) map[identity.Id]event.Timestamp {
	out := map[identity.Id]event.Timestamp{}
	cur := tx.Bucket(bucketIdsFollowees).Cursor()
	prefix := author[:]
	for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
		var followee identity.Id
		copy(followee[:], k[identity.IdSize:])
		out[followee] = event.Timestamp(binary.BigEndian.Uint64(v))
	}
	return out
}

// followersOf returns every identity that currently follows target.
func followersOf(tx *bolt.Tx, target identity.Id) map[identity.Id]event.Timestamp {
	out := map[identity.Id]event.Timestamp{}
	cur := tx.Bucket(bucketIdsFollowers).Cursor()
	prefix := target[:]
	for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
		var author identity.Id
		copy(author[:], k[identity.IdSize:])
		out[author] = event.Timestamp(binary.BigEndian.Uint64(v))
	}
	return out
}

// FollowersOf returns every identity currently following target,
// used by the new-head fetcher to build a candidate peer set for an
// arbitrary author, not just self (spec.md §4.7.4).
func (s *Store) FollowersOf(target identity.Id) (map[identity.Id]event.Timestamp, error) {
	var out map[identity.Id]event.Timestamp
	err := s.ReadWith(func(tx *bolt.Tx) error {
		out = followersOf(tx, target)
		return nil
	})
	return out, err
}

func (s *Store) loadFollowGraph() error {
	return s.ReadWith(func(tx *bolt.Tx) error {
		s.selfFollowees.Set(followeesOf(tx, s.self))
		s.selfFollowers.Set(followersOf(tx, s.self))
		s.wot.Set(recomputeWot(tx, s.self))
		return nil
	})
}

// recomputeWot rebuilds the web-of-trust snapshot from the follow
// graph tables: self's direct followees, plus everyone those
// followees in turn follow (spec.md §4.4.3).
func recomputeWot(tx *bolt.Tx, self identity.Id) *WotData {
	direct := map[identity.Id]struct{}{}
	for id := range followeesOf(tx, self) {
		direct[id] = struct{}{}
	}
	extended := map[identity.Id]struct{}{}
	for id := range direct {
		for hop := range followeesOf(tx, id) {
			if hop == self {
				continue
			}
			if _, ok := direct[hop]; ok {
				continue
			}
			extended[hop] = struct{}{}
		}
	}
	return &WotData{Direct: direct, Extended: extended}
}

// applyFollow dispatches a verified FOLLOW/UNFOLLOW event's content
// into the follow-graph tables and, if anything changed, schedules a
// post-commit refresh of the follower/followee/WoT watches.
func (s *Store) applyFollow(tx *Tx, vc event.VerifiedContent, followee identity.Id, unfollow bool) error {
	author := vc.Event.Header.Author
	changed, err := applyFollowEdge(tx.bolt, author, followee, vc.Event.Header.Timestamp, unfollow)
	if err != nil || !changed {
		return err
	}
	s.scheduleFollowGraphRefresh(tx, author, followee)
	return nil
}

func (s *Store) revertFollow(tx *Tx, vc event.VerifiedContent, followee identity.Id, unfollow bool) error {
	author := vc.Event.Header.Author
	if err := revertFollowEdge(tx.bolt, author, followee, vc.Event.Header.Timestamp, unfollow); err != nil {
		return err
	}
	s.scheduleFollowGraphRefresh(tx, author, followee)
	return nil
}

func (s *Store) scheduleFollowGraphRefresh(tx *Tx, author, followee identity.Id) {
	tx.OnCommit(func() {
		_ = s.ReadWith(func(btx *bolt.Tx) error {
			if author == s.self || followee == s.self {
				s.selfFollowees.Set(followeesOf(btx, s.self))
				s.selfFollowers.Set(followersOf(btx, s.self))
			}
			s.wot.Set(recomputeWot(btx, s.self))
			return nil
		})
	})
}

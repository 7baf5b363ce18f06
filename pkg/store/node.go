package store

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
)

// NodeAnnouncementCap is the maximum number of transport-node
// announcements retained per identity (spec.md §3.6); multi-device
// identities publish from more than one node id over time, and only
// the most recent ones stay resolvable.
const NodeAnnouncementCap = 8

func nodeKey(author identity.Id, ts event.Timestamp) []byte {
	key := make([]byte, identity.IdSize+8)
	copy(key, author[:])
	binary.BigEndian.PutUint64(key[identity.IdSize:], uint64(ts))
	return key
}

// applyNodeAnnouncement inserts a (author, transport_node_id)
// announcement and trims the author's table back to
// NodeAnnouncementCap entries, oldest first.
func applyNodeAnnouncement(tx *bolt.Tx, author identity.Id, ts event.Timestamp, transportNodeId []byte) error {
	b := tx.Bucket(bucketIdsNodes)
	if err := b.Put(nodeKey(author, ts), transportNodeId); err != nil {
		return err
	}

	cur := b.Cursor()
	prefix := author[:]
	var keys [][]byte
	for k, _ := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = cur.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for len(keys) > NodeAnnouncementCap {
		if err := b.Delete(keys[0]); err != nil {
			return err
		}
		keys = keys[1:]
	}
	return nil
}

// NodeIdsFor returns every transport node id currently announced for
// author, most recent last.
func (s *Store) NodeIdsFor(author identity.Id) ([][]byte, error) {
	var out [][]byte
	err := s.ReadWith(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketIdsNodes).Cursor()
		prefix := author[:]
		for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
			out = append(out, append([]byte(nil), v...))
		}
		return nil
	})
	return out, err
}

package store

import (
	"encoding/binary"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
)

// authorShortKey is the (IdentityId, ShortEventId) composite key used
// by every per-author table.
func authorShortKey(author identity.Id, id event.ShortEventId) []byte {
	key := make([]byte, identity.IdSize+event.ShortEventIdSize)
	copy(key, author[:])
	copy(key[identity.IdSize:], id[:])
	return key
}

func splitAuthorShortKey(key []byte) (identity.Id, event.ShortEventId) {
	var author identity.Id
	var id event.ShortEventId
	copy(author[:], key[:identity.IdSize])
	copy(id[:], key[identity.IdSize:])
	return author, id
}

// byTimeKey orders events by (author, timestamp, id) so a per-author
// range scan visits events in chronological order.
func byTimeKey(author identity.Id, ts event.Timestamp, id event.ShortEventId) []byte {
	key := make([]byte, identity.IdSize+8+event.ShortEventIdSize)
	copy(key, author[:])
	binary.BigEndian.PutUint64(key[identity.IdSize:], uint64(ts))
	copy(key[identity.IdSize+8:], id[:])
	return key
}

// priorityKey orders the content-fetch queue by (next_attempt_time,
// author, id) so the earliest-scheduled entry always sorts first.
func priorityKey(next event.Timestamp, author identity.Id, id event.ShortEventId) []byte {
	key := make([]byte, 8+identity.IdSize+event.ShortEventIdSize)
	binary.BigEndian.PutUint64(key, uint64(next))
	copy(key[8:], author[:])
	copy(key[8+identity.IdSize:], id[:])
	return key
}

// singletonAuxKeySize is the width of aux_key in the (author, kind,
// aux_key) singleton dedup key (spec.md §3.6, §8 invariant 7). Every
// singleton kind implemented here (profile updates, shoutbox) keys on
// kind alone, so aux_key is always the zero value; the field is kept
// so a future kind needing finer-grained dedup (e.g. media, keyed on
// its own content hash) only has to stop zero-filling it.
const singletonAuxKeySize = 16

// singletonKey is the composite key of the per-kind singleton index.
func singletonKey(author identity.Id, kind event.Kind) []byte {
	key := make([]byte, identity.IdSize+2+singletonAuxKeySize)
	copy(key, author[:])
	binary.BigEndian.PutUint16(key[identity.IdSize:], uint16(kind))
	return key
}

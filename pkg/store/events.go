package store

import (
	"crypto/ed25519"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
)

func encodeEventRecord(signed event.Signed) []byte {
	header := signed.Header.Encode()
	buf := make([]byte, len(header)+len(signed.Sig))
	copy(buf, header)
	copy(buf[len(header):], signed.Sig)
	return buf
}

func decodeEventRecord(buf []byte) (event.Signed, error) {
	const headerLen = 32 + 2 + 2 + 8 + 1 + event.ShortEventIdSize + 1 + event.ShortEventIdSize + 4 + 32
	if len(buf) != headerLen+ed25519.SignatureSize {
		return event.Signed{}, fmt.Errorf("store: malformed event record: got %d bytes", len(buf))
	}
	header, err := event.Decode(buf[:headerLen])
	if err != nil {
		return event.Signed{}, err
	}
	sig := make([]byte, ed25519.SignatureSize)
	copy(sig, buf[headerLen:])
	return event.Signed{Header: header, Id: header.ComputeId(), Sig: sig}, nil
}

// GetEvent looks up a stored event by author and short id.
func (s *Store) GetEvent(author identity.Id, id event.ShortEventId) (event.Signed, bool, error) {
	var signed event.Signed
	var found bool
	err := s.ReadWith(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEvents).Get(authorShortKey(author, id))
		if data == nil {
			return nil
		}
		var err error
		signed, err = decodeEventRecord(data)
		found = err == nil
		return err
	})
	return signed, found, err
}

// IsMissing reports whether (author, id) is recorded as a missing
// parent.
func (s *Store) IsMissing(author identity.Id, id event.ShortEventId) (bool, error) {
	var missing bool
	err := s.ReadWith(func(tx *bolt.Tx) error {
		missing = tx.Bucket(bucketEventsMissing).Get(authorShortKey(author, id)) != nil
		return nil
	})
	return missing, err
}

// Heads returns every current head short-id for author.
func (s *Store) Heads(author identity.Id) ([]event.ShortEventId, error) {
	var heads []event.ShortEventId
	err := s.ReadWith(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketEventsHeads).Cursor()
		prefix := author[:]
		for k, _ := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = cur.Next() {
			_, id := splitAuthorShortKey(k)
			heads = append(heads, id)
		}
		return nil
	})
	return heads, err
}

// AnyHead returns an arbitrary current head for author, as served by
// GET_HEAD.
func (s *Store) AnyHead(author identity.Id) (event.ShortEventId, bool, error) {
	heads, err := s.Heads(author)
	if err != nil || len(heads) == 0 {
		return event.ShortEventId{}, false, err
	}
	return heads[0], true, nil
}

// RandomSelfEvent returns an arbitrary locally-authored event id, used
// to pick parent_aux for new events (spec.md §3.4). It has no
// particular distribution guarantee beyond "some self event that
// exists" — see DESIGN.md for the Open Question this resolves.
func (s *Store) RandomSelfEvent() (event.ShortEventId, bool, error) {
	var id event.ShortEventId
	var found bool
	err := s.ReadWith(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketEventsSelf).Cursor()
		k, _ := cur.First()
		if k == nil {
			return nil
		}
		copy(id[:], k)
		found = true
		return nil
	})
	return id, found, err
}

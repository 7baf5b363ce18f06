package store

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
	"github.com/dpc/rostra/pkg/metrics"
)

// InsertResult reports the effects of InsertEvent (spec.md §4.4.1).
type InsertResult struct {
	AlreadyPresent bool
	WasMissing     bool
	IsDeleted      bool
	DeletedParent  *event.ShortEventId
	RevertedBytes  []byte
	MissingParents []event.ShortEventId
}

// InsertEvent runs insert_event_tx: idempotently stores a verified
// event header, maintaining the head set, the missing-parent set, and
// (when the incoming event's delete_parent_aux_content flag targets
// an already-stored parent) the parent's content-state transition to
// Deleted.
func (s *Store) InsertEvent(verified event.Verified) (InsertResult, error) {
	author := verified.Header.Author
	id := verified.Id.Short()

	timer := metrics.NewTimer()
	var result InsertResult
	err := s.WriteWith(func(tx *Tx) error {
		b := tx.bolt
		key := authorShortKey(author, id)

		if b.Bucket(bucketEvents).Get(key) != nil {
			result = InsertResult{AlreadyPresent: true}
			return nil
		}

		if err := b.Bucket(bucketIdentities).Put(author[:], nil); err != nil {
			return err
		}

		missingBucket := b.Bucket(bucketEventsMissing)
		if raw := missingBucket.Get(key); raw != nil {
			result.WasMissing = true
			if len(raw) > 0 {
				var by event.ShortEventId
				copy(by[:], raw)
				result.IsDeleted = true
				result.DeletedParent = &by
			}
			if err := missingBucket.Delete(key); err != nil {
				return err
			}
		} else {
			if err := b.Bucket(bucketEventsHeads).Put(key, nil); err != nil {
				return err
			}
		}

		for _, parent := range verified.Header.EffectiveParents() {
			parentKey := authorShortKey(author, parent)
			isDeleteTarget := verified.Header.Flags.DeletesParentAuxContent() &&
				verified.Header.ParentAux != nil && parent == *verified.Header.ParentAux

			var parentRecord []byte
			if raw := b.Bucket(bucketEvents).Get(parentKey); raw != nil {
				parentRecord = append([]byte(nil), raw...)
			}
			if parentRecord == nil {
				var deletedBy []byte
				if isDeleteTarget {
					deletedBy = id[:]
				}
				if err := missingBucket.Put(parentKey, deletedBy); err != nil {
					return err
				}
				result.MissingParents = append(result.MissingParents, parent)
				continue
			}

			if err := b.Bucket(bucketEventsHeads).Delete(parentKey); err != nil {
				return err
			}

			if isDeleteTarget {
				bytes, err := s.deleteParentContent(tx, author, parent, parentRecord, id)
				if err != nil {
					return err
				}
				result.RevertedBytes = bytes
			}
		}

		if err := b.Bucket(bucketEvents).Put(key, encodeEventRecord(verified.Signed)); err != nil {
			return err
		}
		if err := b.Bucket(bucketEventsByTime).Put(byTimeKey(author, verified.Header.Timestamp, id), nil); err != nil {
			return err
		}
		if author == s.self {
			if err := b.Bucket(bucketEventsSelf).Put(id[:], nil); err != nil {
				return err
			}
		}

		if verified.Header.Flags.IsSingleton() {
			reverted, err := s.replaceSingleton(tx, author, verified.Header.Kind, id, verified.Header.Timestamp)
			if err != nil {
				return err
			}
			if reverted != nil {
				result.RevertedBytes = reverted
			}
		}
		if verified.Header.ContentLen > 0 {
			if err := seedContentFetch(b, author, id, verified.Header.ContentLen); err != nil {
				return err
			}
		}

		isGenuineHead := !result.WasMissing
		if isGenuineHead {
			tx.OnCommit(func() {
				if author == s.self {
					idCopy := id
					s.selfHead.Set(&idCopy)
				}
				s.newHeads.Publish(HeadUpdate{Author: author, Head: id})
			})
		}
		if len(result.MissingParents) > 0 {
			tx.OnCommit(func() { s.notifyMissingAuthor(author) })
		}
		return nil
	})
	timer.ObserveDuration(metrics.StoreCommitDuration)
	if err != nil {
		metrics.EventsRejectedTotal.WithLabelValues("storage_error").Inc()
	} else if !result.AlreadyPresent {
		metrics.EventsInsertedTotal.WithLabelValues(fmt.Sprintf("%d", verified.Header.Kind)).Inc()
	}
	return result, err
}

// deleteParentContent flips the parent's content state to Deleted,
// releasing its content-store reference and clearing any pending
// fetch. If the content had actually arrived and a derived-index
// updater is set, it reverts that content's effects via dispatchRevert.
// It returns the pre-delete bytes, or nil if the content never arrived
// (spec.md §3.7).
func (s *Store) deleteParentContent(tx *Tx, author identity.Id, parent event.ShortEventId, parentRecord []byte, deleter event.ShortEventId) ([]byte, error) {
	b := tx.bolt
	state, _, _ := getContentState(b, author, parent)
	if state == ContentStateDeleted {
		return nil, nil
	}

	parentSigned, err := decodeEventRecord(parentRecord)
	if err != nil {
		return nil, err
	}

	var bytes []byte
	if state == ContentStatePresent {
		bytes, err = getContentBytes(b, parentSigned.Header.ContentHash)
		if err != nil {
			return nil, err
		}
		if err := releaseContent(b, parentSigned.Header.ContentHash); err != nil {
			return nil, err
		}
	}
	if err := clearContentMissing(b, author, parent); err != nil {
		return nil, err
	}
	deleterCopy := deleter
	if err := putContentState(b, author, parent, ContentStateDeleted, &deleterCopy); err != nil {
		return nil, err
	}

	if bytes != nil && s.social != nil {
		vc := event.VerifiedContent{
			Event: event.Verified{Signed: parentSigned},
			Bytes: bytes,
		}
		if err := s.dispatchRevert(tx, vc); err != nil {
			return nil, err
		}
	}
	return bytes, nil
}

// replaceSingleton enforces spec.md §3.6/§8 invariant 7: the
// (author, kind, aux_key) singleton table holds at most one event.
// If id's timestamp is not older than whatever currently occupies the
// slot, the previous occupant is content-deleted (same as a
// delete_parent_aux_content tombstone) and id takes its place. An
// older, out-of-order arrival leaves the current occupant untouched.
func (s *Store) replaceSingleton(tx *Tx, author identity.Id, kind event.Kind, id event.ShortEventId, ts event.Timestamp) ([]byte, error) {
	b := tx.bolt
	sb := b.Bucket(bucketEventsSingleton)
	key := singletonKey(author, kind)

	prevRaw := sb.Get(key)
	if prevRaw != nil {
		prevTs := event.Timestamp(binary.BigEndian.Uint64(prevRaw[:8]))
		var prevId event.ShortEventId
		copy(prevId[:], prevRaw[8:])
		if ts < prevTs || prevId == id {
			return nil, nil
		}
		var bytes []byte
		if raw := b.Bucket(bucketEvents).Get(authorShortKey(author, prevId)); raw != nil {
			prevRecord := append([]byte(nil), raw...)
			var err error
			bytes, err = s.deleteParentContent(tx, author, prevId, prevRecord, id)
			if err != nil {
				return nil, err
			}
		}
		if err := putSingleton(sb, key, id, ts); err != nil {
			return nil, err
		}
		return bytes, nil
	}

	return nil, putSingleton(sb, key, id, ts)
}

func putSingleton(sb *bolt.Bucket, key []byte, id event.ShortEventId, ts event.Timestamp) error {
	buf := make([]byte, 8+event.ShortEventIdSize)
	binary.BigEndian.PutUint64(buf, uint64(ts))
	copy(buf[8:], id[:])
	return sb.Put(key, buf)
}

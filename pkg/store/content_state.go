package store

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
)

func getContentState(tx *bolt.Tx, author identity.Id, id event.ShortEventId) (ContentState, *event.ShortEventId, bool) {
	data := tx.Bucket(bucketEventsContentState).Get(authorShortKey(author, id))
	if data == nil {
		return ContentStateNone, nil, false
	}
	state := ContentState(data[0])
	if data[1] == 0 {
		return state, nil, true
	}
	var by event.ShortEventId
	copy(by[:], data[2:])
	return state, &by, true
}

func putContentState(tx *bolt.Tx, author identity.Id, id event.ShortEventId, state ContentState, deletedBy *event.ShortEventId) error {
	buf := make([]byte, 2+event.ShortEventIdSize)
	buf[0] = byte(state)
	if deletedBy != nil {
		buf[1] = 1
		copy(buf[2:], deletedBy[:])
	}
	return tx.Bucket(bucketEventsContentState).Put(authorShortKey(author, id), buf)
}

// scheduleContentFetch enqueues (author, id) onto the content-fetch
// priority queue for nextAttempt, replacing any existing entry for
// the same event.
func scheduleContentFetch(tx *bolt.Tx, author identity.Id, id event.ShortEventId, nextAttempt event.Timestamp) error {
	if err := clearContentMissing(tx, author, id); err != nil {
		return err
	}
	idxKey := authorShortKey(author, id)
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nextAttempt))
	if err := tx.Bucket(bucketContentMissingIdx).Put(idxKey, buf); err != nil {
		return err
	}
	return tx.Bucket(bucketContentMissingPQ).Put(priorityKey(nextAttempt, author, id), nil)
}

// clearContentMissing removes any pending content-fetch queue entry
// for (author, id) — called once the content arrives or the event
// becomes terminally Deleted/Invalid.
func clearContentMissing(tx *bolt.Tx, author identity.Id, id event.ShortEventId) error {
	idxKey := authorShortKey(author, id)
	idx := tx.Bucket(bucketContentMissingIdx)
	existing := idx.Get(idxKey)
	if existing == nil {
		return nil
	}
	next := event.Timestamp(binary.BigEndian.Uint64(existing))
	if err := tx.Bucket(bucketContentMissingPQ).Delete(priorityKey(next, author, id)); err != nil {
		return err
	}
	return idx.Delete(idxKey)
}

// seedContentFetch is called once, at header-insert time, for a newly
// stored event whose content has not arrived yet. Content strictly
// above MaxContentLen is never fetched or stored — its state is set
// to Pruned immediately instead, so it never enters the content-fetch
// queue and is not requested from peers again (spec.md §3.2, §8
// boundary property). Otherwise the event is enqueued for immediate
// attempt by the content-fetch loop (spec.md §4.7.7).
func seedContentFetch(tx *bolt.Tx, author identity.Id, id event.ShortEventId, contentLen uint32) error {
	if contentLen > event.MaxContentLen {
		return putContentState(tx, author, id, ContentStatePruned, nil)
	}
	now := event.Timestamp(time.Now().Unix())
	return scheduleContentFetch(tx, author, id, now)
}

// ContentMissingEntry is one scheduled entry in the content-fetch
// priority queue.
type ContentMissingEntry struct {
	Author      identity.Id
	Id          event.ShortEventId
	NextAttempt event.Timestamp
}

// DueContentFetches returns up to limit entries from the content-fetch
// queue in earliest-scheduled-first order (spec.md §4.7.7).
func (s *Store) DueContentFetches(limit int) ([]ContentMissingEntry, error) {
	var out []ContentMissingEntry
	err := s.ReadWith(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketContentMissingPQ).Cursor()
		for k, _ := cur.First(); k != nil && len(out) < limit; k, _ = cur.Next() {
			next := event.Timestamp(binary.BigEndian.Uint64(k[:8]))
			author, id := splitAuthorShortKey(k[8:])
			out = append(out, ContentMissingEntry{Author: author, Id: id, NextAttempt: next})
		}
		return nil
	})
	return out, err
}

// RecordFailedContentFetch re-schedules (author, id) at nextAttempt
// after a fetch attempt failed. The back-off curve itself is the
// caller's decision (spec.md §4.7.7).
func (s *Store) RecordFailedContentFetch(author identity.Id, id event.ShortEventId, nextAttempt event.Timestamp) error {
	return s.WriteWith(func(tx *Tx) error {
		return scheduleContentFetch(tx.bolt, author, id, nextAttempt)
	})
}

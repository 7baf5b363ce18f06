package store

import (
	"errors"

	bolt "go.etcd.io/bbolt"

	"github.com/dpc/rostra/pkg/content"
	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
)

func getContentBytes(tx *bolt.Tx, hash event.ContentHash) ([]byte, error) {
	return content.Get(tx, hash)
}

func releaseContent(tx *bolt.Tx, hash event.ContentHash) error {
	return content.Release(tx, hash)
}

// GetContent returns the resident blob for hash, as served by
// GET_EVENT_CONTENT once WantsContent (or its inverse, "already has
// it") has been checked.
func (s *Store) GetContent(hash event.ContentHash) ([]byte, error) {
	var out []byte
	err := s.ReadWith(func(tx *bolt.Tx) error {
		var err error
		out, err = content.Get(tx, hash)
		return err
	})
	return out, err
}

// ProcessEventContent runs process_event_content_tx: stores content
// bytes already verified against the event's header, updates the
// refcount and content-state table, and runs the derived-index
// updater in insert mode. Preconditions: the event itself is already
// stored via InsertEvent (spec.md §4.4.2).
//
// A payload that fails to CBOR-decode during dispatch is still stored
// and cleared from the content-fetch queue — only its content state
// ends up Invalid instead of Present, and the derived-index dispatch is
// skipped, rather than the whole transaction rolling back and the
// peer being asked for the same unparseable bytes forever (spec.md
// §3.2). Dispatch decodes FOLLOW/UNFOLLOW and node-announcement
// payloads itself; other kinds go to the derived-index updater, which
// in package social decodes social posts only. Payloads it does not
// decode, and every payload of those kinds when no updater is set, are
// marked Present without being checked.
func (s *Store) ProcessEventContent(vc event.VerifiedContent) error {
	return s.WriteWith(func(tx *Tx) error {
		author := vc.Event.Header.Author
		id := vc.Event.Id.Short()

		state, _, _ := getContentState(tx.bolt, author, id)
		if state == ContentStateDeleted {
			// A deleter already arrived before the content did; the
			// transition to Deleted is terminal (spec.md §3.5).
			return nil
		}

		if _, err := content.Put(tx.bolt, vc.Event.Header.ContentHash, vc.Bytes); err != nil {
			return err
		}
		if err := clearContentMissing(tx.bolt, author, id); err != nil {
			return err
		}

		if err := s.dispatchInsert(tx, vc); err != nil {
			if !errors.Is(err, content.ErrInvalidPayload) {
				return err
			}
			return putContentState(tx.bolt, author, id, ContentStateInvalid, nil)
		}

		if err := putContentState(tx.bolt, author, id, ContentStatePresent, nil); err != nil {
			return err
		}

		tx.OnCommit(func() { s.newContent.Publish(vc) })
		return nil
	})
}

// WantsContent reports whether (author, id) is stored header-only and
// still needs its content fetched — the condition download_events_
// from_child uses to decide whether to issue GET_EVENT_CONTENT
// (spec.md §4.7.6).
func (s *Store) WantsContent(author identity.Id, id event.ShortEventId) (bool, error) {
	signed, found, err := s.GetEvent(author, id)
	if err != nil || !found || signed.Header.ContentLen == 0 {
		return false, err
	}
	var wants bool
	err = s.ReadWith(func(tx *bolt.Tx) error {
		state, _, _ := getContentState(tx, author, id)
		wants = state == ContentStateNone
		return nil
	})
	return wants, err
}

func (s *Store) dispatchInsert(tx *Tx, vc event.VerifiedContent) error {
	author := vc.Event.Header.Author
	switch vc.Event.Header.Kind {
	case event.KindFollow, event.KindUnfollow:
		edge, err := content.DecodeFollowEdge(vc.Bytes)
		if err != nil {
			return err
		}
		return s.applyFollow(tx, vc, edge.Followee, vc.Event.Header.Kind == event.KindUnfollow)
	case event.KindNodeAnnouncement:
		ann, err := content.DecodeNodeAnnouncement(vc.Bytes)
		if err != nil {
			return err
		}
		return applyNodeAnnouncement(tx.bolt, author, vc.Event.Header.Timestamp, ann.TransportNodeId)
	default:
		if s.social == nil {
			return nil
		}
		return s.social.Insert(tx.bolt, vc)
	}
}

func (s *Store) dispatchRevert(tx *Tx, vc event.VerifiedContent) error {
	switch vc.Event.Header.Kind {
	case event.KindFollow, event.KindUnfollow:
		edge, err := content.DecodeFollowEdge(vc.Bytes)
		if err != nil {
			return err
		}
		return s.revertFollow(tx, vc, edge.Followee, vc.Event.Header.Kind == event.KindUnfollow)
	case event.KindNodeAnnouncement:
		// Node announcements have no revert effect beyond the cap
		// trim that already happened on insert.
		return nil
	default:
		if s.social == nil {
			return nil
		}
		return s.social.Revert(tx.bolt, vc)
	}
}

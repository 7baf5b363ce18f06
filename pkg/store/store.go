package store

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
	"github.com/dpc/rostra/pkg/log"
)

// ContentState is the lifecycle state of an event's content pointer
// (spec.md §3.4). Present implies the blob is resident in the content
// store; Deleted is terminal.
type ContentState byte

const (
	ContentStateNone ContentState = iota
	ContentStatePresent
	ContentStateDeleted
	ContentStatePruned
	ContentStateInvalid
)

// HeadUpdate is published on the new_heads broadcast whenever any
// identity's head set gains a genuinely new head.
type HeadUpdate struct {
	Author identity.Id
	Head   event.ShortEventId
}

// Store is the single transactional embedded store fronting every
// per-author DAG table (spec.md §4.4).
type Store struct {
	db   *bolt.DB
	self identity.Id

	selfHead      *Watch[*event.ShortEventId]
	selfFollowees *Watch[map[identity.Id]event.Timestamp]
	selfFollowers *Watch[map[identity.Id]event.Timestamp]
	wot           *Watch[*WotData]

	newContent     *Broker[event.VerifiedContent]
	newHeads       *Broker[HeadUpdate]
	idsWithMissing chan identity.Id

	social DerivedIndexUpdater
}

// Open opens (creating if absent) a bbolt-backed store at path for
// the given local identity.
func Open(path string, self identity.Id) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.Update(ensureBuckets); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ensure buckets: %w", err)
	}

	s := &Store{
		db:            db,
		self:          self,
		selfHead:      NewWatch[*event.ShortEventId](nil),
		selfFollowees: NewWatch(map[identity.Id]event.Timestamp{}),
		selfFollowers: NewWatch(map[identity.Id]event.Timestamp{}),
		wot:           NewWatch[*WotData](&WotData{}),
		newContent:    NewBroker[event.VerifiedContent](64),
		newHeads:      NewBroker[HeadUpdate](64),
		idsWithMissing: make(chan identity.Id, 256),
	}
	if err := s.loadFollowGraph(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadSelfHead(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Self returns the local identity this store was opened for.
func (s *Store) Self() identity.Id { return s.self }

// Tx is a write transaction with deferred post-commit hooks. Hooks
// run exactly once, in registration order, after the transaction is
// durable (spec.md §4.4); they must never block.
type Tx struct {
	bolt  *bolt.Tx
	hooks []func()
}

// OnCommit registers fn to run once this transaction commits.
func (t *Tx) OnCommit(fn func()) { t.hooks = append(t.hooks, fn) }

// ReadWith runs f against a read-only snapshot transaction.
func (s *Store) ReadWith(f func(tx *bolt.Tx) error) error {
	return s.db.View(f)
}

// WriteWith runs f against a write transaction and, on successful
// commit, fires every hook f registered via Tx.OnCommit.
func (s *Store) WriteWith(f func(tx *Tx) error) error {
	wtx := &Tx{}
	err := s.db.Update(func(btx *bolt.Tx) error {
		wtx.bolt = btx
		return f(wtx)
	})
	if err != nil {
		return err
	}
	for _, hook := range wtx.hooks {
		hook()
	}
	return nil
}

// SubscribeNewContent subscribes to the new_content broadcast.
func (s *Store) SubscribeNewContent() (<-chan event.VerifiedContent, func()) {
	return s.newContent.Subscribe()
}

// SubscribeNewHeads subscribes to the new_heads broadcast.
func (s *Store) SubscribeNewHeads() (<-chan HeadUpdate, func()) {
	return s.newHeads.Subscribe()
}

// IdsWithMissingEvents returns the receive side of the
// ids_with_missing_events channel: identities for which an incoming
// event referenced a parent we don't yet have.
func (s *Store) IdsWithMissingEvents() <-chan identity.Id { return s.idsWithMissing }

func (s *Store) notifyMissingAuthor(author identity.Id) {
	select {
	case s.idsWithMissing <- author:
	default:
		log.WithComponent("store").Warn().
			Str("author", author.String()).
			Msg("ids_with_missing_events channel full, dropping notification")
	}
}

// SelfHead returns the local identity's self-head watch.
func (s *Store) SelfHead() *Watch[*event.ShortEventId] { return s.selfHead }

// SelfFollowees returns the local identity's followee-set watch.
func (s *Store) SelfFollowees() *Watch[map[identity.Id]event.Timestamp] { return s.selfFollowees }

// SelfFollowers returns the local identity's follower-set watch.
func (s *Store) SelfFollowers() *Watch[map[identity.Id]event.Timestamp] { return s.selfFollowers }

// Wot returns the web-of-trust snapshot watch, recomputed whenever the
// local follow graph changes (spec.md §4.4.3).
func (s *Store) Wot() *Watch[*WotData] { return s.wot }

func (s *Store) loadSelfHead() error {
	return s.ReadWith(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketEventsHeads).Cursor()
		prefix := s.self[:]
		var found *event.ShortEventId
		for k, _ := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = cur.Next() {
			_, id := splitAuthorShortKey(k)
			idCopy := id
			found = &idCopy
			break
		}
		s.selfHead.Set(found)
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

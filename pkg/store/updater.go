package store

import (
	bolt "go.etcd.io/bbolt"

	"github.com/dpc/rostra/pkg/event"
)

// DerivedIndexUpdater is the symmetric insert/revert pair the derived
// social indices (posts, replies, reactions, profiles, shoutbox)
// implement against the same write transaction the store is
// committing (spec.md §4.5). It is injected rather than imported so
// that package social can depend on package store without a cycle.
type DerivedIndexUpdater interface {
	Insert(tx *bolt.Tx, vc event.VerifiedContent) error
	Revert(tx *bolt.Tx, vc event.VerifiedContent) error
}

// SetDerivedIndexUpdater wires the social derived-index updater in.
// Called once during client construction.
func (s *Store) SetDerivedIndexUpdater(u DerivedIndexUpdater) { s.social = u }

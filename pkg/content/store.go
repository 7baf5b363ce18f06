package content

import (
	"encoding/binary"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/dpc/rostra/pkg/event"
)

var (
	bucketBlobs     = []byte("content_blobs")
	bucketRefcounts = []byte("content_refcounts")
)

// ErrNotFound is returned by Get when no blob is stored under a hash.
var ErrNotFound = errors.New("content: blob not found")

// EnsureBuckets creates the buckets this package needs. Callers open it
// once against the shared database at startup, alongside the event
// store's own bucket setup.
func EnsureBuckets(tx *bolt.Tx) error {
	for _, b := range [][]byte{bucketBlobs, bucketRefcounts} {
		if _, err := tx.CreateBucketIfNotExists(b); err != nil {
			return fmt.Errorf("content: create bucket %s: %w", b, err)
		}
	}
	return nil
}

// Put inserts bytes under hash if absent, or bumps its reference count
// if already present. It reports whether the blob was newly stored —
// callers use that to decide whether to run the derived-index updater
// in insert mode (spec.md §4.3).
func Put(tx *bolt.Tx, hash event.ContentHash, bytes []byte) (isNew bool, err error) {
	blobs := tx.Bucket(bucketBlobs)
	refs := tx.Bucket(bucketRefcounts)

	rc := getRefcount(refs, hash)
	if rc == 0 {
		if err := blobs.Put(hash[:], bytes); err != nil {
			return false, fmt.Errorf("content: put blob: %w", err)
		}
		isNew = true
	}
	return isNew, putRefcount(refs, hash, rc+1)
}

// Get returns the bytes stored under hash, or ErrNotFound.
func Get(tx *bolt.Tx, hash event.ContentHash) ([]byte, error) {
	blobs := tx.Bucket(bucketBlobs)
	data := blobs.Get(hash[:])
	if data == nil {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Release decrements hash's reference count, deleting the blob once it
// reaches zero.
func Release(tx *bolt.Tx, hash event.ContentHash) error {
	refs := tx.Bucket(bucketRefcounts)
	rc := getRefcount(refs, hash)
	if rc == 0 {
		return nil
	}
	rc--
	if rc == 0 {
		if err := refs.Delete(hash[:]); err != nil {
			return fmt.Errorf("content: delete refcount: %w", err)
		}
		return tx.Bucket(bucketBlobs).Delete(hash[:])
	}
	return putRefcount(refs, hash, rc)
}

func getRefcount(refs *bolt.Bucket, hash event.ContentHash) uint32 {
	data := refs.Get(hash[:])
	if data == nil {
		return 0
	}
	return binary.BigEndian.Uint32(data)
}

func putRefcount(refs *bolt.Bucket, hash event.ContentHash, rc uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, rc)
	if err := refs.Put(hash[:], buf); err != nil {
		return fmt.Errorf("content: put refcount: %w", err)
	}
	return nil
}

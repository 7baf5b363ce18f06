package store

import (
	"bytes"

	bolt "go.etcd.io/bbolt"
)

// PaginateForward walks bucketName's keys with the given prefix in
// ascending order starting at cursor (or the start of prefix when
// cursor is nil), calling decode for each key/value pair. decode may
// return ok=false to filter an item out without consuming the page's
// limit budget, so callers always get a full page despite
// post-filtering (spec.md §4.4.4).
func PaginateForward[T any](tx *bolt.Tx, bucketName, prefix, cursor []byte, limit int, decode func(k, v []byte) (T, bool)) (items []T, next []byte) {
	b := tx.Bucket(bucketName)
	c := b.Cursor()

	start := prefix
	if cursor != nil {
		start = cursor
	}
	for k, v := c.Seek(start); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		item, ok := decode(k, v)
		if !ok {
			continue
		}
		items = append(items, item)
		if len(items) == limit {
			if nk, _ := c.Next(); nk != nil && hasPrefix(nk, prefix) {
				next = append([]byte(nil), nk...)
			}
			return items, next
		}
	}
	return items, nil
}

// PaginateReverse walks bucketName's keys with the given prefix in
// descending order, starting at cursor (or the end of prefix when
// cursor is nil). Used both for plain reverse pagination and, when
// prefix is restricted to a single partition (e.g. every reaction row
// under one post's key prefix), for partition-restricted reverse
// pagination (spec.md §4.4.4).
func PaginateReverse[T any](tx *bolt.Tx, bucketName, prefix, cursor []byte, limit int, decode func(k, v []byte) (T, bool)) (items []T, next []byte) {
	b := tx.Bucket(bucketName)
	c := b.Cursor()

	var k, v []byte
	if cursor != nil {
		k, v = c.Seek(cursor)
		if !bytes.Equal(k, cursor) {
			k, v = c.Prev()
		}
	} else if upper := prefixUpperBound(prefix); upper != nil {
		if k, v = c.Seek(upper); k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
	} else {
		k, v = c.Last()
	}

	for k != nil && hasPrefix(k, prefix) {
		item, ok := decode(k, v)
		if ok {
			items = append(items, item)
			if len(items) == limit {
				if pk, _ := c.Prev(); pk != nil && hasPrefix(pk, prefix) {
					next = append([]byte(nil), pk...)
				}
				return items, next
			}
		}
		k, v = c.Prev()
	}
	return items, nil
}

// prefixUpperBound returns the lexicographically smallest key that is
// greater than every key sharing prefix, or nil if prefix is all
// 0xFF bytes (no such bound exists within the keyspace).
func prefixUpperBound(prefix []byte) []byte {
	up := append([]byte(nil), prefix...)
	for i := len(up) - 1; i >= 0; i-- {
		if up[i] != 0xFF {
			up[i]++
			return up[:i+1]
		}
	}
	return nil
}

package identity

import "lukechampine.com/blake3"

// Hash computes the 32-byte BLAKE3 digest of data. It backs both the
// event-id computation in package event and the content-hash in
// package content (spec.md §3.1, §3.2).
func Hash(data []byte) [32]byte {
	return blake3.Sum256(data)
}

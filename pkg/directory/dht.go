package directory

import (
	"context"
	"crypto/sha256"
	"math/big"
	"sort"
	"sync"

	"github.com/dpc/rostra/pkg/identity"
)

// nodeID names a peer or identity participating in the DHT table by
// its raw key bytes.
type nodeID string

func hash160(data []byte) [20]byte {
	sum := sha256.Sum256(data)
	var h [20]byte
	copy(h[:], sum[:20])
	return h
}

// DHT is a minimal in-memory Kademlia-style table: 160 XOR-distance
// buckets for peer tracking, plus a flat key/value store for the
// signed packets themselves. It is the first of the two resolvers
// raced by Resolver (spec.md §4.8).
type DHT struct {
	self    nodeID
	buckets [160][]nodeID
	store   map[[20]byte][]byte
	mu      sync.RWMutex
}

// NewDHT creates a table rooted at self.
func NewDHT(self identity.Id) *DHT {
	return &DHT{
		self:  nodeID(self.Bytes()),
		store: make(map[[20]byte][]byte),
	}
}

// AddPeer records a peer id seen via any successful RPC, so future
// lookups have more candidates to route through.
func (d *DHT) AddPeer(id identity.Id) {
	n := nodeID(id.Bytes())
	if n == d.self {
		return
	}
	idx := d.bucketIndex(n)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.buckets[idx] {
		if p == n {
			return
		}
	}
	d.buckets[idx] = append(d.buckets[idx], n)
}

// Publish stores a signed packet under the publishing identity's key.
func (d *DHT) Publish(_ context.Context, sp SignedPacket) error {
	key := hash160(sp.Author.Bytes())
	encoded, err := encodeSignedPacket(sp)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.store[key] = encoded
	d.mu.Unlock()
	return nil
}

// Resolve returns the packet last published under id, if this table
// has ever seen one (spec.md §4.8 — a DHT miss is not an error in
// itself, only a signal to try the next backend).
func (d *DHT) Resolve(_ context.Context, id identity.Id) (SignedPacket, error) {
	key := hash160(id.Bytes())
	d.mu.RLock()
	raw, ok := d.store[key]
	d.mu.RUnlock()
	if !ok {
		return SignedPacket{}, ErrNotFound
	}
	return decodeSignedPacket(raw)
}

// nearest returns up to count peer ids closest to target by XOR
// distance. Nothing in this package calls it.
func (d *DHT) nearest(target identity.Id, count int) []nodeID {
	n := nodeID(target.Bytes())
	idx := d.bucketIndex(n)
	d.mu.RLock()
	defer d.mu.RUnlock()
	peers := make([]nodeID, 0, count)
	for i := idx; i < len(d.buckets) && len(peers) < count; i++ {
		peers = append(peers, d.buckets[i]...)
	}
	sort.Slice(peers, func(i, j int) bool {
		return d.distance(peers[i], n).Cmp(d.distance(peers[j], n)) < 0
	})
	if len(peers) > count {
		peers = peers[:count]
	}
	return peers
}

func (d *DHT) bucketIndex(n nodeID) int {
	diff := xor160(hash160([]byte(d.self)), hash160([]byte(n)))
	bn := new(big.Int).SetBytes(diff[:])
	if bn.Sign() == 0 {
		return 159
	}
	return 159 - bn.BitLen() + 1
}

func (d *DHT) distance(a nodeID, b nodeID) *big.Int {
	diff := xor160(hash160([]byte(a)), hash160([]byte(b)))
	return new(big.Int).SetBytes(diff[:])
}

func xor160(a, b [20]byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

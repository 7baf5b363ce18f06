package event

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dpc/rostra/pkg/identity"
)

// ShortEventIdSize is the byte length of the primary key used for
// events in every store table (spec.md §3.1).
const ShortEventIdSize = 16

// MaxContentLen is the implementation-level content size ceiling.
// Content strictly larger than this is never stored (spec.md §3.2).
const MaxContentLen = 1_000_000

// ShortEventId is the truncated BLAKE3 event id used as the primary
// key for events of a single author (first-collision resistance
// against the author themselves is all that is required, since only
// they could be harmed by a collision).
type ShortEventId [ShortEventIdSize]byte

func (s ShortEventId) String() string { return identity.Id(padTo32(s)).Short().String() }

func padTo32(s ShortEventId) [32]byte {
	var out [32]byte
	copy(out[:], s[:])
	return out
}

// Id is the full 32-byte BLAKE3 hash of an event's canonical header
// encoding (spec.md §3.1, §3.3).
type Id [32]byte

// Short returns the primary-key-sized prefix of the full event id.
func (id Id) Short() ShortEventId {
	var s ShortEventId
	copy(s[:], id[:ShortEventIdSize])
	return s
}

func (id Id) String() string { return identity.Id(id).String() }

// ContentHash is the BLAKE3 digest of an event's content blob. The
// all-zero value is the sentinel for "no content" (spec.md §3.1).
type ContentHash [32]byte

// IsZero reports whether this is the "no content" sentinel.
func (h ContentHash) IsZero() bool { return h == ContentHash{} }

// Timestamp is unsigned seconds since the Unix epoch (spec.md §3.1).
type Timestamp uint64

// ExternalId references an event authored by a (possibly different)
// identity, as used inside content payloads (e.g. a reply-to or
// reaction target) — spec.md §3.1.
type ExternalId struct {
	Author identity.Id
	Event  ShortEventId
}

// Kind is the event-kind discriminant (spec.md §3.6).
type Kind uint16

const (
	KindSocialPost         Kind = 1
	KindSocialProfileUpdate Kind = 2
	KindSocialMedia        Kind = 3
	KindFollow             Kind = 4
	KindUnfollow           Kind = 5
	KindNodeAnnouncement   Kind = 6
	KindShoutbox           Kind = 7
)

// Flags are the per-event bit flags (spec.md §3.3).
type Flags uint16

const (
	// FlagDeleteParentAuxContent marks this event as a tombstone for
	// the content of its parent_aux event.
	FlagDeleteParentAuxContent Flags = 1 << 0
	// FlagSingleton marks this event's (kind, aux_key) as
	// deduplicated: the store keeps only the newest by timestamp.
	FlagSingleton Flags = 1 << 1
)

func (f Flags) DeletesParentAuxContent() bool { return f&FlagDeleteParentAuxContent != 0 }
func (f Flags) IsSingleton() bool             { return f&FlagSingleton != 0 }

// Header is the fixed-layout, canonically-encodable event record of
// spec.md §3.3. It never carries content bytes.
type Header struct {
	Author      identity.Id
	Kind        Kind
	Flags       Flags
	Timestamp   Timestamp
	ParentPrev  *ShortEventId
	ParentAux   *ShortEventId
	ContentLen  uint32
	ContentHash ContentHash
}

// ErrContentTooLarge is returned by Build, together with the complete
// header, when content exceeds MaxContentLen. The store marks such an
// event's content Pruned when it is inserted; package client's publish
// path returns the error instead of publishing (spec.md §3.2).
var ErrContentTooLarge = errors.New("event: content exceeds MAX_CONTENT_LEN")

// Build assembles a Header for the given content, computing
// content_len and content_hash. It does not reject oversized content
// — callers decide whether to store it or mark it Pruned — but it
// still reports ErrContentTooLarge so the caller can make that choice
// without re-measuring len(content).
func Build(author identity.Id, kind Kind, parentPrev, parentAux *ShortEventId, ts Timestamp, flags Flags, content []byte) (Header, error) {
	h := Header{
		Author:     author,
		Kind:       kind,
		Flags:      flags,
		Timestamp:  ts,
		ParentPrev: parentPrev,
		ParentAux:  parentAux,
	}
	if len(content) == 0 {
		return h, nil
	}
	h.ContentLen = uint32(len(content))
	h.ContentHash = ContentHash(identity.Hash(content))
	if len(content) > MaxContentLen {
		return h, ErrContentTooLarge
	}
	return h, nil
}

// encodedLen is the byte length of the canonical header encoding:
// author(32) kind(2) flags(2) timestamp(8) parent_prev(1+16)
// parent_aux(1+16) content_len(4) content_hash(32).
const encodedLen = 32 + 2 + 2 + 8 + 1 + ShortEventIdSize + 1 + ShortEventIdSize + 4 + 32

// Encode renders the header's canonical fixed-layout byte encoding.
// This is the input to BLAKE3 for the event id (spec.md §3.3) and is
// also the header part of the event record package store persists.
func (h Header) Encode() []byte {
	buf := make([]byte, 0, encodedLen)
	buf = append(buf, h.Author[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(h.Kind))
	buf = binary.BigEndian.AppendUint16(buf, uint16(h.Flags))
	buf = binary.BigEndian.AppendUint64(buf, uint64(h.Timestamp))
	buf = appendOptionalShortId(buf, h.ParentPrev)
	buf = appendOptionalShortId(buf, h.ParentAux)
	buf = binary.BigEndian.AppendUint32(buf, h.ContentLen)
	buf = append(buf, h.ContentHash[:]...)
	return buf
}

func appendOptionalShortId(buf []byte, id *ShortEventId) []byte {
	if id == nil {
		buf = append(buf, 0)
		var zero [ShortEventIdSize]byte
		return append(buf, zero[:]...)
	}
	buf = append(buf, 1)
	return append(buf, id[:]...)
}

// Decode parses the canonical fixed-layout encoding produced by Encode.
func Decode(buf []byte) (Header, error) {
	if len(buf) != encodedLen {
		return Header{}, fmt.Errorf("event: malformed header encoding: want %d bytes, got %d", encodedLen, len(buf))
	}
	var h Header
	copy(h.Author[:], buf[0:32])
	off := 32
	h.Kind = Kind(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	h.Flags = Flags(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	h.Timestamp = Timestamp(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	h.ParentPrev, off = readOptionalShortId(buf, off)
	h.ParentAux, off = readOptionalShortId(buf, off)
	h.ContentLen = binary.BigEndian.Uint32(buf[off:])
	off += 4
	copy(h.ContentHash[:], buf[off:off+32])
	return h, nil
}

func readOptionalShortId(buf []byte, off int) (*ShortEventId, int) {
	present := buf[off]
	off++
	var id ShortEventId
	copy(id[:], buf[off:off+ShortEventIdSize])
	off += ShortEventIdSize
	if present == 0 {
		return nil, off
	}
	return &id, off
}

// ComputeId returns the BLAKE3 hash of the header's canonical
// encoding — the EventId (spec.md §3.3).
func (h Header) ComputeId() Id {
	return Id(identity.Hash(h.Encode()))
}

// EffectiveParents returns the distinct set of parent pointers for DAG
// traversal. spec.md §4.2 collapses parent_prev == parent_aux to a
// single parent for traversal purposes while still preserving both
// fields on the wire.
func (h Header) EffectiveParents() []ShortEventId {
	var out []ShortEventId
	if h.ParentPrev != nil {
		out = append(out, *h.ParentPrev)
	}
	if h.ParentAux != nil && (h.ParentPrev == nil || *h.ParentAux != *h.ParentPrev) {
		out = append(out, *h.ParentAux)
	}
	return out
}

// Signed is a Header plus its author's signature and cached id.
type Signed struct {
	Header Header
	Id     Id
	Sig    []byte
}

// SignBy signs h's computed event id with secret, producing a Signed
// event ready to be stored locally or sent to a peer (spec.md §4.2).
func SignBy(h Header, secret identity.Secret) Signed {
	id := h.ComputeId()
	return Signed{
		Header: h,
		Id:     id,
		Sig:    secret.Sign(id),
	}
}

// Verified is a Signed event whose invariants (signature, content-len
// vs content-hash consistency) have already been checked.
type Verified struct {
	Signed
}

// ErrContentLenHashMismatch is returned when content_len == 0 does not
// agree with content_hash being the zero sentinel, or vice versa
// (spec.md §3.3 invariant 2).
var ErrContentLenHashMismatch = errors.New("event: content_len/content_hash mismatch")

// VerifyReceived checks the structural invariants of spec.md §3.3
// (signature validity, content_len/content_hash consistency) and
// returns a Verified event. Parent-presence (invariant 3) is checked
// by the store, which alone knows what has been received.
func VerifyReceived(s Signed) (Verified, error) {
	if s.Header.ComputeId() != s.Id {
		return Verified{}, fmt.Errorf("event: id does not match header encoding")
	}
	if err := identity.Verify(s.Header.Author, [32]byte(s.Id), s.Sig); err != nil {
		return Verified{}, err
	}
	hasLen := s.Header.ContentLen != 0
	hasHash := !s.Header.ContentHash.IsZero()
	if hasLen != hasHash {
		return Verified{}, ErrContentLenHashMismatch
	}
	return Verified{s}, nil
}

// VerifiedContent is a Verified event's content bytes, checked against
// the header's content_len and content_hash (spec.md §4.2).
type VerifiedContent struct {
	Event Verified
	Bytes []byte
}

// ErrContentMismatch is returned by VerifyContent when bytes does not
// match the event's declared length or hash.
var ErrContentMismatch = errors.New("event: content does not match header")

// VerifyContent checks that bytes is exactly the content the event
// header commits to.
func VerifyContent(ev Verified, bytes []byte) (VerifiedContent, error) {
	if uint32(len(bytes)) != ev.Header.ContentLen {
		return VerifiedContent{}, ErrContentMismatch
	}
	if identity.Hash(bytes) != [32]byte(ev.Header.ContentHash) {
		return VerifiedContent{}, ErrContentMismatch
	}
	return VerifiedContent{Event: ev, Bytes: bytes}, nil
}

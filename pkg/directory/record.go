package directory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/miekg/dns"
	"github.com/tv42/zbase32"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
)

// recordTTL is applied to every TXT record this package writes.
const recordTTL = 180

// ErrInvalidRecord is returned when a resolved packet fails to parse
// or its signature does not check out (spec.md §7 Directory errors).
var ErrInvalidRecord = errors.New("directory: invalid record")

// ErrNotFound is returned when no backend produced a record for an
// identity within the resolve deadline.
var ErrNotFound = errors.New("directory: not found")

// Record is the decoded content of one identity's directory entry.
// Either field may be zero-valued; absence is permitted (spec.md
// §6.1).
type Record struct {
	Ticket    string
	Head      *event.ShortEventId
	Timestamp time.Time
}

// txtName is the DNS question name a record is published/resolved
// under: the identity id in its zbase32 printable form, dotted under
// a fixed pseudo-TLD so the packet looks like an ordinary zone to any
// code that only understands DNS wire format.
func txtName(id identity.Id) string {
	return dns.Fqdn(id.String() + ".rostra")
}

// buildPacket renders a Record as a DNS message carrying the two
// rostra-* TXT subrecords (spec.md §6.1), timestamped with now so a
// resolver can reject stale copies.
func buildPacket(id identity.Id, rec Record, now time.Time) *dns.Msg {
	name := txtName(id)
	msg := new(dns.Msg)
	msg.Id = uint16(now.Unix())
	msg.Response = true
	msg.Authoritative = true

	if rec.Ticket != "" {
		msg.Answer = append(msg.Answer, &dns.TXT{
			Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: recordTTL},
			Txt: []string{"rostra-p2p=" + rec.Ticket},
		})
	}
	if rec.Head != nil {
		msg.Answer = append(msg.Answer, &dns.TXT{
			Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: recordTTL},
			Txt: []string{"rostra-head=" + rec.Head.String()},
		})
	}
	return msg
}

// SignedPacket is what actually gets stored/transmitted: a DNS
// message in wire format, signed by the publishing identity so a
// resolver backend (DHT node, relay) cannot forge or tamper with the
// record it forwards.
type SignedPacket struct {
	Author    identity.Id `cbor:"author"`
	Packet    []byte      `cbor:"packet"`
	Signature []byte      `cbor:"sig"`
	Timestamp uint64      `cbor:"ts"`
}

func encodeSignedPacket(sp SignedPacket) ([]byte, error) {
	b, err := cbor.Marshal(sp)
	if err != nil {
		return nil, fmt.Errorf("directory: encode packet: %w", err)
	}
	return b, nil
}

func decodeSignedPacket(b []byte) (SignedPacket, error) {
	var sp SignedPacket
	if err := cbor.Unmarshal(b, &sp); err != nil {
		return SignedPacket{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return sp, nil
}

// Sign builds and signs a directory packet for rec, as of now.
func Sign(secret identity.Secret, rec Record, now time.Time) (SignedPacket, error) {
	msg := buildPacket(secret.Public(), rec, now)
	wire, err := msg.Pack()
	if err != nil {
		return SignedPacket{}, fmt.Errorf("directory: pack record: %w", err)
	}
	digest := identity.Hash(signedBytes(wire, uint64(now.Unix())))
	return SignedPacket{
		Author:    secret.Public(),
		Packet:    wire,
		Signature: secret.Sign(digest),
		Timestamp: uint64(now.Unix()),
	}, nil
}

// Verify checks sp's signature and decodes its packet into a Record.
func Verify(sp SignedPacket) (Record, error) {
	digest := identity.Hash(signedBytes(sp.Packet, sp.Timestamp))
	if err := identity.Verify(sp.Author, digest, sp.Signature); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(sp.Packet); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	var rec Record
	rec.Timestamp = time.Unix(int64(sp.Timestamp), 0)
	for _, rr := range msg.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok || len(txt.Txt) == 0 {
			continue
		}
		line := txt.Txt[0]
		switch {
		case hasKey(line, "rostra-p2p"):
			rec.Ticket = valueOf(line)
		case hasKey(line, "rostra-head"):
			if raw, err := zbase32.DecodeString(valueOf(line)); err == nil && len(raw) == event.ShortEventIdSize {
				var h event.ShortEventId
				copy(h[:], raw)
				rec.Head = &h
			}
		}
	}
	return rec, nil
}

func signedBytes(wire []byte, ts uint64) []byte {
	buf := make([]byte, 8+len(wire))
	binary.BigEndian.PutUint64(buf, ts)
	copy(buf[8:], wire)
	return buf
}

func hasKey(line, key string) bool {
	return len(line) > len(key) && line[:len(key)] == key && line[len(key)] == '='
}

func valueOf(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] == '=' {
			return line[i+1:]
		}
	}
	return ""
}

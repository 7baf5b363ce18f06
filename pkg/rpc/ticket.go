package rpc

import (
	"fmt"
	"strings"

	"github.com/dpc/rostra/pkg/identity"
)

// Ticket is the printable transport-level connection ticket a
// directory record advertises under `rostra-p2p` (spec.md §4.8): the
// identity to pin the TLS handshake to, and the QUIC address to dial.
type Ticket struct {
	Id   identity.Id
	Addr string
}

// String renders t as "<zbase32-id>@<addr>".
func (t Ticket) String() string {
	return fmt.Sprintf("%s@%s", t.Id, t.Addr)
}

// ParseTicket parses a ticket previously produced by Ticket.String.
func ParseTicket(s string) (Ticket, error) {
	idPart, addr, ok := strings.Cut(s, "@")
	if !ok || addr == "" {
		return Ticket{}, fmt.Errorf("rpc: malformed ticket %q", s)
	}
	id, err := identity.IdFromString(idPart)
	if err != nil {
		return Ticket{}, fmt.Errorf("rpc: malformed ticket %q: %w", s, err)
	}
	return Ticket{Id: id, Addr: addr}, nil
}

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
)

// RpcId identifies which reconciliation RPC a stream carries.
type RpcId uint16

const (
	RpcPing RpcId = iota + 1
	RpcGetHead
	RpcWaitHeadUpdate
	RpcGetEvent
	RpcGetEventContent
	RpcFeedEvent
	RpcWaitFolloweesNewHeads
	RpcWaitFollowersNewHeads
)

// MaxRequestLen and MaxResponseLen bound a single RPC frame body
// (spec.md §4.6); they do not bound a subsequent verified content
// stream, which is instead bounded by the event's own content_len.
const (
	MaxRequestLen  = 4 * 1024
	MaxResponseLen = 32 * 1024 * 1024
)

// ReturnCode is the server's 1-byte status prefix on every response.
type ReturnCode byte

const (
	CodeOK ReturnCode = iota
	CodeNotFound
	CodeDoesNotNeed
	CodeAlreadyHave
	CodeIdMismatch
	CodeTooLarge
	CodeInternal
)

// Error wraps a non-OK ReturnCode so callers can type-switch on it.
type Error struct{ Code ReturnCode }

func (e *Error) Error() string { return fmt.Sprintf("wire: rpc error code %d", e.Code) }

// ErrFrameTooLarge is returned by ReadFrame when the declared length
// exceeds the caller-supplied limit.
var ErrFrameTooLarge = errors.New("wire: frame exceeds size limit")

// WriteRpcId writes the 2-byte big-endian RPC discriminant that opens
// every client-initiated stream.
func WriteRpcId(w io.Writer, id RpcId) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(id))
	_, err := w.Write(buf[:])
	return err
}

// ReadRpcId reads the 2-byte RPC discriminant a client opened a stream
// with.
func ReadRpcId(r io.Reader) (RpcId, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return RpcId(binary.BigEndian.Uint16(buf[:])), nil
}

// WriteFrame writes a 4-byte big-endian length prefix followed by
// body.
func WriteFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads a length-prefixed frame, rejecting one that declares
// a length over maxLen.
func ReadFrame(r io.Reader, maxLen int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > maxLen {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteReturnCode writes the server's 1-byte status prefix.
func WriteReturnCode(w io.Writer, code ReturnCode) error {
	_, err := w.Write([]byte{byte(code)})
	return err
}

// ReadReturnCode reads the server's 1-byte status prefix.
func ReadReturnCode(r io.Reader) (ReturnCode, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return ReturnCode(buf[0]), nil
}

// Encode CBOR-encodes an RPC request or response body.
func Encode(v any) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return b, nil
}

// Decode CBOR-decodes an RPC request or response body into v.
func Decode(b []byte, v any) error {
	if err := cbor.Unmarshal(b, v); err != nil {
		return fmt.Errorf("wire: decode: %w", err)
	}
	return nil
}

// PingRequest is the PING request body.
type PingRequest struct {
	Nonce uint64 `cbor:"nonce"`
}

// PingResponse echoes the nonce it was sent.
type PingResponse struct {
	Nonce uint64 `cbor:"nonce"`
}

// GetHeadRequest is the GET_HEAD request body.
type GetHeadRequest struct {
	Author identity.Id `cbor:"author"`
}

// GetHeadResponse carries one of the author's current heads, if any.
type GetHeadResponse struct {
	Head *event.ShortEventId `cbor:"head,omitempty"`
}

// WaitHeadUpdateRequest is the WAIT_HEAD_UPDATE request body.
type WaitHeadUpdateRequest struct {
	Author    identity.Id        `cbor:"author"`
	KnownHead event.ShortEventId `cbor:"known_head"`
}

// WaitHeadUpdateResponse carries the first head observed to differ
// from KnownHead.
type WaitHeadUpdateResponse struct {
	NewHead event.ShortEventId `cbor:"new_head"`
}

// GetEventRequest is the GET_EVENT request body. Author disambiguates
// the short id, since a peer may relay events from any author, not
// only the one it was dialed for.
type GetEventRequest struct {
	Author identity.Id        `cbor:"author"`
	Id     event.ShortEventId `cbor:"id"`
}

// GetEventResponse carries the signed event header, if known. Content
// is never inlined here — see GET_EVENT_CONTENT.
type GetEventResponse struct {
	Header *event.Header `cbor:"header,omitempty"`
	Id     event.Id      `cbor:"id,omitempty"`
	Sig    []byte        `cbor:"sig,omitempty"`
}

// GetEventContentRequest is the GET_EVENT_CONTENT request body.
type GetEventContentRequest struct {
	Author identity.Id        `cbor:"author"`
	Id     event.ShortEventId `cbor:"id"`
}

// GetEventContentResponse announces whether a verified byte stream
// follows on the same stream.
type GetEventContentResponse struct {
	Present bool `cbor:"present"`
}

// FeedEventRequest is the FEED_EVENT request body: a signed event
// header, followed on success by an inbound verified content stream.
type FeedEventRequest struct {
	Header event.Header `cbor:"header"`
	Id     event.Id     `cbor:"id"`
	Sig    []byte       `cbor:"sig"`
}

// WaitNewHeadsRequest opens either the followee or the follower
// long-poll stream (§4.7.2, §4.7.3); it carries no parameters, the
// set being implicit in which identity's store answers the call.
type WaitNewHeadsRequest struct{}

// WaitNewHeadsUpdate carries one update yielded on a WAIT_FOLLOWEES_
// NEW_HEADS / WAIT_FOLLOWERS_NEW_HEADS stream: the stream is
// long-lived and keeps emitting frames for as long as it stays open.
type WaitNewHeadsUpdate struct {
	Author  identity.Id        `cbor:"author"`
	NewHead event.ShortEventId `cbor:"new_head"`
}

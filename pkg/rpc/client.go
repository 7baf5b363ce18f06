package rpc

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
	"github.com/dpc/rostra/pkg/wire"
)

// Client is one QUIC connection to a peer, opening a fresh stream per
// RPC (spec.md §4.6). It satisfies package connpool's Conn interface.
type Client struct {
	conn quic.Connection
	peer identity.Id
}

// Dial opens a pinned connection to ticket using secret's node
// certificate.
func Dial(ctx context.Context, secret identity.Secret, ticket Ticket) (*Client, error) {
	tlsConf, err := clientTLSConfig(secret, ticket.Id)
	if err != nil {
		return nil, err
	}
	conn, err := quic.DialAddr(ctx, ticket.Addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", ticket.Addr, err)
	}
	return &Client{conn: conn, peer: ticket.Id}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.CloseWithError(0, "closed")
}

func (c *Client) openStream(ctx context.Context, id wire.RpcId, req any) (quic.Stream, error) {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("rpc: open stream: %w", err)
	}
	if err := wire.WriteRpcId(stream, id); err != nil {
		return nil, err
	}
	body, err := wire.Encode(req)
	if err != nil {
		return nil, err
	}
	if err := wire.WriteFrame(stream, body); err != nil {
		return nil, err
	}
	return stream, nil
}

func readResponse[T any](stream quic.Stream) (T, error) {
	var resp T
	code, err := wire.ReadReturnCode(stream)
	if err != nil {
		return resp, err
	}
	body, err := wire.ReadFrame(stream, wire.MaxResponseLen)
	if err != nil {
		return resp, err
	}
	if code != wire.CodeOK {
		return resp, &wire.Error{Code: code}
	}
	if len(body) == 0 {
		return resp, nil
	}
	if err := wire.Decode(body, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Ping checks liveness with a random nonce, satisfying connpool.Conn.
func (c *Client) Ping(ctx context.Context) error {
	var nonceBuf [8]byte
	if _, err := rand.Read(nonceBuf[:]); err != nil {
		return err
	}
	nonce := binary.BigEndian.Uint64(nonceBuf[:])

	stream, err := c.openStream(ctx, wire.RpcPing, wire.PingRequest{Nonce: nonce})
	if err != nil {
		return err
	}
	defer stream.Close()

	resp, err := readResponse[wire.PingResponse](stream)
	if err != nil {
		return err
	}
	if resp.Nonce != nonce {
		return fmt.Errorf("rpc: ping nonce mismatch")
	}
	return nil
}

// GetHead fetches one current head for author, if any.
func (c *Client) GetHead(ctx context.Context, author identity.Id) (*event.ShortEventId, error) {
	stream, err := c.openStream(ctx, wire.RpcGetHead, wire.GetHeadRequest{Author: author})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	resp, err := readResponse[wire.GetHeadResponse](stream)
	if err != nil {
		return nil, err
	}
	return resp.Head, nil
}

// WaitHeadUpdate blocks (bounded only by ctx) until the peer reports a
// head for author different from known (spec.md §4.6).
func (c *Client) WaitHeadUpdate(ctx context.Context, author identity.Id, known event.ShortEventId) (event.ShortEventId, error) {
	stream, err := c.openStream(ctx, wire.RpcWaitHeadUpdate, wire.WaitHeadUpdateRequest{Author: author, KnownHead: known})
	if err != nil {
		return event.ShortEventId{}, err
	}
	defer stream.Close()

	resp, err := readResponse[wire.WaitHeadUpdateResponse](stream)
	if err != nil {
		return event.ShortEventId{}, err
	}
	return resp.NewHead, nil
}

// GetEvent fetches a signed event header by (author, id).
func (c *Client) GetEvent(ctx context.Context, author identity.Id, id event.ShortEventId) (event.Signed, bool, error) {
	stream, err := c.openStream(ctx, wire.RpcGetEvent, wire.GetEventRequest{Author: author, Id: id})
	if err != nil {
		return event.Signed{}, false, err
	}
	defer stream.Close()

	resp, err := readResponse[wire.GetEventResponse](stream)
	if err != nil {
		if wireErr, ok := err.(*wire.Error); ok && wireErr.Code == wire.CodeNotFound {
			return event.Signed{}, false, nil
		}
		return event.Signed{}, false, err
	}
	if resp.Header == nil {
		return event.Signed{}, false, nil
	}
	return event.Signed{Header: *resp.Header, Id: resp.Id, Sig: resp.Sig}, true, nil
}

// GetEventContent fetches and verifies ev's content bytes, if the peer
// has them (spec.md §4.6, §4.7.6).
func (c *Client) GetEventContent(ctx context.Context, ev event.Verified) (event.VerifiedContent, bool, error) {
	author := ev.Header.Author
	stream, err := c.openStream(ctx, wire.RpcGetEventContent, wire.GetEventContentRequest{Author: author, Id: ev.Id.Short()})
	if err != nil {
		return event.VerifiedContent{}, false, err
	}
	defer stream.Close()

	code, err := wire.ReadReturnCode(stream)
	if err != nil {
		return event.VerifiedContent{}, false, err
	}
	body, err := wire.ReadFrame(stream, wire.MaxResponseLen)
	if err != nil {
		return event.VerifiedContent{}, false, err
	}
	if code != wire.CodeOK {
		return event.VerifiedContent{}, false, nil
	}
	var resp wire.GetEventContentResponse
	if err := wire.Decode(body, &resp); err != nil {
		return event.VerifiedContent{}, false, err
	}
	if !resp.Present {
		return event.VerifiedContent{}, false, nil
	}

	raw := make([]byte, ev.Header.ContentLen)
	if _, err := io.ReadFull(stream, raw); err != nil {
		return event.VerifiedContent{}, false, err
	}
	vc, err := event.VerifyContent(ev, raw)
	if err != nil {
		return event.VerifiedContent{}, false, err
	}
	return vc, true, nil
}

// FeedEvent pushes a signed event (and its content, if any) to the
// peer (spec.md §4.6, §4.7.3).
func (c *Client) FeedEvent(ctx context.Context, signed event.Signed, content []byte) error {
	stream, err := c.openStream(ctx, wire.RpcFeedEvent, wire.FeedEventRequest{
		Header: signed.Header,
		Id:     signed.Id,
		Sig:    signed.Sig,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	code, err := wire.ReadReturnCode(stream)
	if err != nil {
		return err
	}
	if _, err := wire.ReadFrame(stream, wire.MaxResponseLen); err != nil {
		return err
	}
	if code != wire.CodeOK {
		return &wire.Error{Code: code}
	}
	if len(content) == 0 {
		return nil
	}
	_, err = stream.Write(content)
	return err
}

// NewHeadsKind selects which long-poll stream WaitNewHeads opens.
type NewHeadsKind int

const (
	// Followees polls RPC_WAIT_FOLLOWEES_NEW_HEADS.
	Followees NewHeadsKind = iota
	// Followers polls RPC_WAIT_FOLLOWERS_NEW_HEADS.
	Followers
)

// WaitNewHeads opens the long-lived followee/follower new-heads stream
// (spec.md §4.7.2, §4.7.3). The returned channel is closed, and the
// underlying stream released, once ctx is cancelled or the caller
// invokes the returned cancel func.
func (c *Client) WaitNewHeads(ctx context.Context, kind NewHeadsKind) (<-chan wire.WaitNewHeadsUpdate, func(), error) {
	rpcId := wire.RpcWaitFolloweesNewHeads
	if kind == Followers {
		rpcId = wire.RpcWaitFollowersNewHeads
	}

	stream, err := c.openStream(ctx, rpcId, wire.WaitNewHeadsRequest{})
	if err != nil {
		return nil, nil, err
	}
	if _, err := wire.ReadReturnCode(stream); err != nil {
		stream.Close()
		return nil, nil, err
	}

	out := make(chan wire.WaitNewHeadsUpdate)
	streamCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-streamCtx.Done()
		stream.CancelRead(0)
	}()
	go func() {
		defer close(out)
		defer stream.Close()
		defer cancel()
		for {
			body, err := wire.ReadFrame(stream, wire.MaxResponseLen)
			if err != nil {
				return
			}
			var upd wire.WaitNewHeadsUpdate
			if err := wire.Decode(body, &upd); err != nil {
				return
			}
			select {
			case out <- upd:
			case <-streamCtx.Done():
				return
			}
		}
	}()

	return out, cancel, nil
}

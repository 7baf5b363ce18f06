package rpc

import (
	"context"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"

	"github.com/dpc/rostra/pkg/event"
	"github.com/dpc/rostra/pkg/identity"
	"github.com/dpc/rostra/pkg/log"
	"github.com/dpc/rostra/pkg/metrics"
	"github.com/dpc/rostra/pkg/store"
	"github.com/dpc/rostra/pkg/wire"
)

// rpcName renders an RpcId for metric labels.
func rpcName(id wire.RpcId) string {
	switch id {
	case wire.RpcPing:
		return "ping"
	case wire.RpcGetHead:
		return "get_head"
	case wire.RpcWaitHeadUpdate:
		return "wait_head_update"
	case wire.RpcGetEvent:
		return "get_event"
	case wire.RpcGetEventContent:
		return "get_event_content"
	case wire.RpcFeedEvent:
		return "feed_event"
	case wire.RpcWaitFolloweesNewHeads:
		return "wait_followees_new_heads"
	case wire.RpcWaitFollowersNewHeads:
		return "wait_followers_new_heads"
	default:
		return "unknown"
	}
}

// Backend is the store surface the RPC server answers requests
// against. *store.Store satisfies it; tests can supply a fake.
type Backend interface {
	AnyHead(author identity.Id) (event.ShortEventId, bool, error)
	GetEvent(author identity.Id, id event.ShortEventId) (event.Signed, bool, error)
	GetContent(hash event.ContentHash) ([]byte, error)
	InsertEvent(verified event.Verified) (store.InsertResult, error)
	ProcessEventContent(vc event.VerifiedContent) error
	SubscribeNewHeads() (<-chan store.HeadUpdate, func())
	SelfFollowees() *store.Watch[map[identity.Id]event.Timestamp]
	SelfFollowers() *store.Watch[map[identity.Id]event.Timestamp]
}

// Server answers reconciliation RPCs over a QUIC listener (spec.md §4.6).
type Server struct {
	backend  Backend
	secret   identity.Secret
	listener *quic.Listener
}

// Listen starts a Server bound to addr using secret's node certificate.
func Listen(addr string, secret identity.Secret, backend Backend) (*Server, error) {
	tlsConf, err := serverTLSConfig(secret)
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	return &Server{backend: backend, secret: secret, listener: ln}, nil
}

// Addr returns the bound local address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Close stops accepting new connections.
func (s *Server) Close() error { return s.listener.Close() }

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rpc: accept: %w", err)
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn quic.Connection) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.serveStream(ctx, stream)
	}
}

func (s *Server) serveStream(ctx context.Context, stream quic.Stream) {
	defer stream.Close()

	rpcId, err := wire.ReadRpcId(stream)
	if err != nil {
		return
	}

	timer := metrics.NewTimer()
	name := rpcName(rpcId)
	defer func() {
		timer.ObserveDurationVec(metrics.RPCRequestDuration, name)
		metrics.RPCRequestsTotal.WithLabelValues(name).Inc()
	}()

	switch rpcId {
	case wire.RpcPing:
		s.handlePing(stream)
	case wire.RpcGetHead:
		s.handleGetHead(stream)
	case wire.RpcWaitHeadUpdate:
		s.handleWaitHeadUpdate(ctx, stream)
	case wire.RpcGetEvent:
		s.handleGetEvent(stream)
	case wire.RpcGetEventContent:
		s.handleGetEventContent(stream)
	case wire.RpcFeedEvent:
		s.handleFeedEvent(stream)
	case wire.RpcWaitFolloweesNewHeads:
		s.handleWaitNewHeads(ctx, stream, s.backend.SelfFollowees())
	case wire.RpcWaitFollowersNewHeads:
		// A follower peer long-polling us wants anything new we've
		// seen, not just our own followees — pass a nil filter.
		s.handleWaitNewHeads(ctx, stream, nil)
	default:
		log.Logger.Debug().Str("component", "rpc").Uint16("rpc_id", uint16(rpcId)).Msg("unknown rpc id")
	}
}

func readRequest[T any](stream quic.Stream) (T, error) {
	var req T
	body, err := wire.ReadFrame(stream, wire.MaxRequestLen)
	if err != nil {
		return req, err
	}
	if err := wire.Decode(body, &req); err != nil {
		return req, err
	}
	return req, nil
}

func writeResponse(stream quic.Stream, code wire.ReturnCode, v any) error {
	if err := wire.WriteReturnCode(stream, code); err != nil {
		return err
	}
	if v == nil {
		return wire.WriteFrame(stream, nil)
	}
	body, err := wire.Encode(v)
	if err != nil {
		return err
	}
	return wire.WriteFrame(stream, body)
}

func (s *Server) handlePing(stream quic.Stream) {
	req, err := readRequest[wire.PingRequest](stream)
	if err != nil {
		return
	}
	_ = writeResponse(stream, wire.CodeOK, wire.PingResponse{Nonce: req.Nonce})
}

func (s *Server) handleGetHead(stream quic.Stream) {
	req, err := readRequest[wire.GetHeadRequest](stream)
	if err != nil {
		return
	}
	head, ok, err := s.backend.AnyHead(req.Author)
	if err != nil {
		_ = writeResponse(stream, wire.CodeInternal, nil)
		return
	}
	resp := wire.GetHeadResponse{}
	if ok {
		resp.Head = &head
	}
	_ = writeResponse(stream, wire.CodeOK, resp)
}

func (s *Server) handleWaitHeadUpdate(ctx context.Context, stream quic.Stream) {
	req, err := readRequest[wire.WaitHeadUpdateRequest](stream)
	if err != nil {
		return
	}
	newHead, err := s.waitHeadUpdate(ctx, stream.Context(), req.Author, req.KnownHead)
	if err != nil {
		_ = writeResponse(stream, wire.CodeInternal, nil)
		return
	}
	_ = writeResponse(stream, wire.CodeOK, wire.WaitHeadUpdateResponse{NewHead: newHead})
}

// waitHeadUpdate blocks until author's head differs from known,
// responding immediately if it already does (spec.md §4.6). streamCtx
// is cancelled when the client drops the stream, which releases the
// broadcast subscription (spec.md's cancellation requirement).
func (s *Server) waitHeadUpdate(ctx, streamCtx context.Context, author identity.Id, known event.ShortEventId) (event.ShortEventId, error) {
	if cur, ok, err := s.backend.AnyHead(author); err == nil && ok && cur != known {
		return cur, nil
	}

	ch, cancel := s.backend.SubscribeNewHeads()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return event.ShortEventId{}, ctx.Err()
		case <-streamCtx.Done():
			return event.ShortEventId{}, streamCtx.Err()
		case upd := <-ch:
			if upd.Author == author && upd.Head != known {
				return upd.Head, nil
			}
		}
	}
}

func (s *Server) handleGetEvent(stream quic.Stream) {
	req, err := readRequest[wire.GetEventRequest](stream)
	if err != nil {
		return
	}
	signed, found, err := s.backend.GetEvent(req.Author, req.Id)
	if err != nil {
		_ = writeResponse(stream, wire.CodeInternal, nil)
		return
	}
	if !found {
		_ = writeResponse(stream, wire.CodeNotFound, nil)
		return
	}
	_ = writeResponse(stream, wire.CodeOK, wire.GetEventResponse{
		Header: &signed.Header,
		Id:     signed.Id,
		Sig:    signed.Sig,
	})
}

func (s *Server) handleGetEventContent(stream quic.Stream) {
	req, err := readRequest[wire.GetEventContentRequest](stream)
	if err != nil {
		return
	}
	signed, found, err := s.backend.GetEvent(req.Author, req.Id)
	if err != nil || !found {
		_ = writeResponse(stream, wire.CodeNotFound, nil)
		return
	}
	bytes, err := s.backend.GetContent(signed.Header.ContentHash)
	if err != nil {
		_ = writeResponse(stream, wire.CodeNotFound, wire.GetEventContentResponse{Present: false})
		return
	}
	if err := writeResponse(stream, wire.CodeOK, wire.GetEventContentResponse{Present: true}); err != nil {
		return
	}
	_, _ = stream.Write(bytes)
}

func (s *Server) handleFeedEvent(stream quic.Stream) {
	req, err := readRequest[wire.FeedEventRequest](stream)
	if err != nil {
		return
	}
	signed := event.Signed{Header: req.Header, Id: req.Id, Sig: req.Sig}
	verified, err := event.VerifyReceived(signed)
	if err != nil {
		_ = writeResponse(stream, wire.CodeIdMismatch, nil)
		return
	}

	result, err := s.backend.InsertEvent(verified)
	if err != nil {
		_ = writeResponse(stream, wire.CodeInternal, nil)
		return
	}
	if result.AlreadyPresent {
		_ = writeResponse(stream, wire.CodeAlreadyHave, nil)
		return
	}
	if err := writeResponse(stream, wire.CodeOK, nil); err != nil {
		return
	}

	if req.Header.ContentLen == 0 {
		return
	}
	if req.Header.ContentLen > event.MaxContentLen {
		// InsertEvent already pruned this event's content state; don't
		// let a peer-controlled length field drive an allocation up to
		// 4 GiB. The stream closes without us reading the body.
		return
	}
	content := make([]byte, req.Header.ContentLen)
	if _, err := io.ReadFull(stream, content); err != nil {
		return
	}
	vc, err := event.VerifyContent(verified, content)
	if err != nil {
		return
	}
	_ = s.backend.ProcessEventContent(vc)
}

func (s *Server) handleWaitNewHeads(ctx context.Context, stream quic.Stream, filter *store.Watch[map[identity.Id]event.Timestamp]) {
	if _, err := readRequest[wire.WaitNewHeadsRequest](stream); err != nil {
		return
	}
	if err := wire.WriteReturnCode(stream, wire.CodeOK); err != nil {
		return
	}

	ch, cancel := s.backend.SubscribeNewHeads()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stream.Context().Done():
			return
		case upd := <-ch:
			if filter != nil {
				if _, ok := filter.Get()[upd.Author]; !ok {
					continue
				}
			}
			body, err := wire.Encode(wire.WaitNewHeadsUpdate{Author: upd.Author, NewHead: upd.Head})
			if err != nil {
				continue
			}
			if err := wire.WriteFrame(stream, body); err != nil {
				return
			}
		}
	}
}

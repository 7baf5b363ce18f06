/*
Package rpc implements the reconciliation protocol's client and
server halves over QUIC: PING, GET_HEAD, WAIT_HEAD_UPDATE, GET_EVENT,
GET_EVENT_CONTENT, FEED_EVENT, and the two new-heads long-poll streams
(spec.md §4.6).

The transport's authentication is the identity itself: every endpoint
presents a self-signed TLS certificate derived from its Ed25519 node
key (see tls.go), and a dialing client pins the certificate to the
specific identity it meant to connect to rather than trusting a
certificate authority. ALPN is fixed to ROSTRA_P2P_V0_ALPN so a QUIC
listener serving other protocols on the same port never mistakes a
reconciliation stream for its own.

Each RPC opens a fresh bidirectional stream and follows the framing in
package wire; this package only adds the QUIC transport, the
request/response dispatch loop, and the verified-content streaming
step content-carrying RPCs need.
*/
package rpc

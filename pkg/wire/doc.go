/*
Package wire defines the reconciliation RPC's request/response types
and the frame codec shared by the client and server halves in package
rpc: a request opens with a 2-byte RpcId and a response with a 1-byte
ReturnCode, each followed by a 4-byte big-endian length prefix and a
CBOR body (fxamacker/cbor's default encoding, not its canonical mode).
Content that follows a FEED_EVENT request or a GET_EVENT_CONTENT
response is sent as raw bytes with no frame; its length is the event
header's content_len.

Request and response sizes are bounded (MaxRequestLen, MaxResponseLen)
so a misbehaving peer cannot force an unbounded read buffer.
*/
package wire

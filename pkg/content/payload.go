package content

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/dpc/rostra/pkg/event"
)

// ErrInvalidPayload wraps any CBOR decode failure from the Decode*
// functions below, so callers that need to distinguish "payload
// doesn't parse" from a storage error can match it with errors.Is
// (spec.md §3.2: invalid content is stored and marked Invalid, not
// rejected outright).
var ErrInvalidPayload = errors.New("content: invalid payload")

// SocialPost is the payload of a SOCIAL_POST event: a plain post, a
// reply (ReplyTo set) or a reaction (ReactTo set) — spec.md §3.6.
type SocialPost struct {
	Text     string            `cbor:"text"`
	ReplyTo  *event.ExternalId `cbor:"reply_to,omitempty"`
	ReactTo  *event.ExternalId `cbor:"react_to,omitempty"`
	Reaction string            `cbor:"reaction,omitempty"`
}

// ProfileUpdate is the payload of a SOCIAL_PROFILE_UPDATE event.
type ProfileUpdate struct {
	DisplayName string             `cbor:"display_name"`
	Bio         string             `cbor:"bio"`
	Avatar      *event.ContentHash `cbor:"avatar,omitempty"`
}

// Media is the payload of a SOCIAL_MEDIA event: the blob's own content
// hash is its addressing key, so the payload only carries metadata.
type Media struct {
	MimeType string `cbor:"mime_type"`
}

// FollowEdge is the payload of a FOLLOW or UNFOLLOW event.
type FollowEdge struct {
	Followee identity32 `cbor:"followee"`
}

// identity32 avoids importing package identity's full API surface in
// CBOR payloads; it round-trips as a fixed 32-byte array.
type identity32 = [32]byte

// NodeAnnouncement is the payload of a NODE_ANNOUNCEMENT event: the
// transport-level node id this identity currently publishes under.
type NodeAnnouncement struct {
	TransportNodeId []byte `cbor:"transport_node_id"`
}

// Shoutbox is the payload of a SHOUTBOX event.
type Shoutbox struct {
	Text string `cbor:"text"`
}

// EncodePayload CBOR-encodes any of the payload types above.
func EncodePayload(v any) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("content: encode payload: %w", err)
	}
	return b, nil
}

// DecodeSocialPost decodes a SOCIAL_POST payload.
func DecodeSocialPost(b []byte) (SocialPost, error) {
	var v SocialPost
	err := cbor.Unmarshal(b, &v)
	return v, wrapDecodeErr(err)
}

// DecodeProfileUpdate decodes a SOCIAL_PROFILE_UPDATE payload.
func DecodeProfileUpdate(b []byte) (ProfileUpdate, error) {
	var v ProfileUpdate
	err := cbor.Unmarshal(b, &v)
	return v, wrapDecodeErr(err)
}

// DecodeMedia decodes a SOCIAL_MEDIA payload.
func DecodeMedia(b []byte) (Media, error) {
	var v Media
	err := cbor.Unmarshal(b, &v)
	return v, wrapDecodeErr(err)
}

// DecodeFollowEdge decodes a FOLLOW/UNFOLLOW payload.
func DecodeFollowEdge(b []byte) (FollowEdge, error) {
	var v FollowEdge
	err := cbor.Unmarshal(b, &v)
	return v, wrapDecodeErr(err)
}

// DecodeNodeAnnouncement decodes a NODE_ANNOUNCEMENT payload.
func DecodeNodeAnnouncement(b []byte) (NodeAnnouncement, error) {
	var v NodeAnnouncement
	err := cbor.Unmarshal(b, &v)
	return v, wrapDecodeErr(err)
}

// DecodeShoutbox decodes a SHOUTBOX payload.
func DecodeShoutbox(b []byte) (Shoutbox, error) {
	var v Shoutbox
	err := cbor.Unmarshal(b, &v)
	return v, wrapDecodeErr(err)
}

func wrapDecodeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("content: decode payload: %w: %w", ErrInvalidPayload, err)
}

package directory

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dpc/rostra/pkg/identity"
)

// Relay publishes and resolves signed packets against an HTTP relay —
// the second of the two backends Resolver races (spec.md §4.8). The
// wire format is a single base64 body behind GET/PUT on
// <base>/<zbase32-id>, mirroring a pkarr-style relay.
type Relay struct {
	base   string
	client *http.Client
}

// NewRelay builds a Relay client against baseURL.
func NewRelay(baseURL string) *Relay {
	return &Relay{
		base: baseURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (r *Relay) urlFor(id identity.Id) string {
	return fmt.Sprintf("%s/%s", r.base, url.PathEscape(id.String()))
}

// Publish PUTs the encoded packet to the relay under the author's id.
func (r *Relay) Publish(ctx context.Context, sp SignedPacket) error {
	encoded, err := encodeSignedPacket(sp)
	if err != nil {
		return err
	}
	body := base64.StdEncoding.EncodeToString(encoded)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.urlFor(sp.Author), bytes.NewReader([]byte(body)))
	if err != nil {
		return fmt.Errorf("directory: build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("directory: relay publish: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("directory: relay publish: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Resolve GETs and decodes id's packet from the relay.
func (r *Relay) Resolve(ctx context.Context, id identity.Id) (SignedPacket, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.urlFor(id), nil)
	if err != nil {
		return SignedPacket{}, fmt.Errorf("directory: build relay request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return SignedPacket{}, fmt.Errorf("directory: relay resolve: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return SignedPacket{}, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SignedPacket{}, fmt.Errorf("directory: relay resolve: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return SignedPacket{}, fmt.Errorf("directory: read relay body: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		return SignedPacket{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return decodeSignedPacket(raw)
}

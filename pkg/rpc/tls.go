package rpc

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/dpc/rostra/pkg/identity"
)

// ALPN is the fixed protocol id every Rostra QUIC connection
// negotiates (spec.md §6.2).
const ALPN = "ROSTRA_P2P_V0_ALPN"

// ErrPeerIdentityMismatch is returned by a pinned certificate verifier
// when the presented leaf certificate's key does not match the
// identity the caller meant to reach.
var ErrPeerIdentityMismatch = errors.New("rpc: peer identity mismatch")

// nodeCertificate builds a self-signed TLS certificate whose subject
// public key *is* the node's Ed25519 identity key, so a peer that
// already knows the identity id can authenticate the connection
// without any certificate authority (spec.md §4.6 — "each endpoint's
// transport public key corresponds one-to-one with a node").
func nodeCertificate(secret identity.Secret) (tls.Certificate, error) {
	signer := secret.Signer()

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: secret.Public().String()},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("rpc: create node certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  signer,
	}, nil
}

// serverTLSConfig accepts any client certificate that parses; the
// server does not check which identity a client presents. Events fed
// to it carry their own signatures, which handleFeedEvent verifies.
func serverTLSConfig(secret identity.Secret) (*tls.Config, error) {
	cert, err := nodeCertificate(secret)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		ClientAuth:            tls.RequireAnyClientCert,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: acceptAnyPeer,
		NextProtos:            []string{ALPN},
		MinVersion:            tls.VersionTLS13,
	}, nil
}

// clientTLSConfig pins the handshake to expected: the only certificate
// this client will accept is the one whose public key is expected's
// Ed25519 key.
func clientTLSConfig(secret identity.Secret, expected identity.Id) (*tls.Config, error) {
	cert, err := nodeCertificate(secret)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: pinnedVerifier(expected),
		NextProtos:            []string{ALPN},
		MinVersion:            tls.VersionTLS13,
	}, nil
}

func acceptAnyPeer(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return errors.New("rpc: no client certificate presented")
	}
	_, err := x509.ParseCertificate(rawCerts[0])
	return err
}

func pinnedVerifier(expected identity.Id) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("rpc: no server certificate presented")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("rpc: parse peer certificate: %w", err)
		}
		pub, ok := cert.PublicKey.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("rpc: peer certificate key is not ed25519")
		}
		id, err := identity.IdFromBytes(pub)
		if err != nil {
			return err
		}
		if id != expected {
			return fmt.Errorf("%w: got %s, want %s", ErrPeerIdentityMismatch, id, expected)
		}
		return nil
	}
}

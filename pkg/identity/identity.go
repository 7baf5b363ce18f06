package identity

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tv42/zbase32"
	"github.com/tyler-smith/go-bip39"
)

// IdSize is the byte length of an IdentityId (an Ed25519 public key).
const IdSize = ed25519.PublicKeySize // 32

// ShortIdSize is the byte length of the truncated identity id used
// wherever the full id is unambiguous from context (spec.md §3.1).
const ShortIdSize = 16

// ErrSignatureInvalid is returned whenever a signature fails to verify.
// Verification failures are always a terminal rejection of the event
// that carried them (spec.md §7).
var ErrSignatureInvalid = errors.New("identity: signature invalid")

// ErrMalformedId is returned when a printable or wire encoding does not
// decode to a well-formed id of the expected length.
var ErrMalformedId = errors.New("identity: malformed id")

// Id is the 32-byte Ed25519 public key that names an identity.
type Id [IdSize]byte

// ShortId is the 16-byte prefix of an Id, used as a convenience
// display form and as a map key where the full id is known from
// context.
type ShortId [ShortIdSize]byte

// Short returns the first ShortIdSize bytes of the identity id.
func (id Id) Short() ShortId {
	var s ShortId
	copy(s[:], id[:ShortIdSize])
	return s
}

// String renders the id in zbase32, Rostra's canonical printable form.
func (id Id) String() string {
	return zbase32.EncodeToString(id[:])
}

func (s ShortId) String() string {
	return zbase32.EncodeToString(s[:])
}

// Bytes returns the id's big-endian byte representation.
func (id Id) Bytes() []byte { return id[:] }

// IdFromBytes parses a raw 32-byte identity id.
func IdFromBytes(b []byte) (Id, error) {
	var id Id
	if len(b) != IdSize {
		return id, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedId, IdSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// IdFromString parses a zbase32-encoded identity id.
func IdFromString(s string) (Id, error) {
	raw, err := zbase32.DecodeString(s)
	if err != nil {
		return Id{}, fmt.Errorf("%w: %v", ErrMalformedId, err)
	}
	return IdFromBytes(raw)
}

// IdFromHex parses a hex-encoded identity id (used by CBOR/debug paths
// that prefer a fixed, case-insensitive alphabet over zbase32).
func IdFromHex(s string) (Id, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Id{}, fmt.Errorf("%w: %v", ErrMalformedId, err)
	}
	return IdFromBytes(raw)
}

// Secret is an Ed25519 private key together with its cached public
// identity. It is never serialized directly — only through its BIP-39
// mnemonic form, so a user handling it on disk sees words, not bytes.
type Secret struct {
	priv ed25519.PrivateKey
	id   Id
}

// Generate creates a fresh identity secret from a CSPRNG.
func Generate() (Secret, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Secret{}, fmt.Errorf("identity: generate key: %w", err)
	}
	var id Id
	copy(id[:], pub)
	return Secret{priv: priv, id: id}, nil
}

// Public returns the identity id this secret signs for.
func (s Secret) Public() Id { return s.id }

// Sign signs an already-computed event id (the hash, not raw event
// bytes — see package event). The signature covers only the 32-byte
// digest, matching spec.md §3.3.
func (s Secret) Sign(digest [32]byte) []byte {
	return ed25519.Sign(s.priv, digest[:])
}

// Signer exposes the secret's Ed25519 key as a crypto.Signer, for
// callers (e.g. package rpc's node certificates) that hand a key to a
// stdlib API expecting that interface rather than a raw digest.
func (s Secret) Signer() crypto.Signer { return s.priv }

// Verify checks that sig is a valid Ed25519 signature by id over
// digest.
func Verify(id Id, digest [32]byte, sig []byte) error {
	if !ed25519.Verify(ed25519.PublicKey(id[:]), digest[:], sig) {
		return ErrSignatureInvalid
	}
	return nil
}

// Mnemonic returns the BIP-39 mnemonic encoding of the secret key seed.
func (s Secret) Mnemonic() (string, error) {
	seed := s.priv.Seed()
	return bip39.NewMnemonic(seed)
}

// SecretFromMnemonic reconstructs a secret from its BIP-39 words.
func SecretFromMnemonic(mnemonic string) (Secret, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return Secret{}, fmt.Errorf("%w: invalid mnemonic", ErrMalformedId)
	}
	// go-bip39 mnemonics normally encode entropy for a BIP-32 seed
	// derivation; Rostra instead treats the entropy itself as the
	// Ed25519 seed, so only a 24-word mnemonic (32 bytes of entropy)
	// maps to the required seed; shorter mnemonics such as 12 words
	// (16 bytes of entropy) are rejected.
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return Secret{}, fmt.Errorf("%w: %v", ErrMalformedId, err)
	}
	if len(entropy) != ed25519.SeedSize {
		return Secret{}, fmt.Errorf("%w: mnemonic must encode %d bytes of entropy (24 words), got %d",
			ErrMalformedId, ed25519.SeedSize, len(entropy))
	}
	priv := ed25519.NewKeyFromSeed(entropy)
	var id Id
	copy(id[:], priv.Public().(ed25519.PublicKey))
	return Secret{priv: priv, id: id}, nil
}

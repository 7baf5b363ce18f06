package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSignVerify(t *testing.T) {
	secret, err := Generate()
	require.NoError(t, err)

	digest := Hash([]byte("hello world"))
	sig := secret.Sign(digest)

	assert.NoError(t, Verify(secret.Public(), digest, sig))
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	digest := Hash([]byte("payload"))
	sig := a.Sign(digest)

	assert.ErrorIs(t, Verify(b.Public(), digest, sig), ErrSignatureInvalid)
}

func TestVerifyRejectsTamperedDigest(t *testing.T) {
	secret, err := Generate()
	require.NoError(t, err)

	digest := Hash([]byte("payload"))
	sig := secret.Sign(digest)

	tampered := Hash([]byte("payload!"))
	assert.ErrorIs(t, Verify(secret.Public(), tampered, sig), ErrSignatureInvalid)
}

func TestIdStringRoundTrip(t *testing.T) {
	secret, err := Generate()
	require.NoError(t, err)

	id := secret.Public()
	encoded := id.String()

	decoded, err := IdFromString(encoded)
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
}

func TestShortIdIsPrefix(t *testing.T) {
	secret, err := Generate()
	require.NoError(t, err)

	id := secret.Public()
	short := id.Short()
	assert.Equal(t, id[:ShortIdSize], short[:])
}

func TestIdFromBytesRejectsWrongLength(t *testing.T) {
	_, err := IdFromBytes(make([]byte, 10))
	assert.ErrorIs(t, err, ErrMalformedId)
}

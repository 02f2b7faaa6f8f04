package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentitySignVerifyRoundTrip(t *testing.T) {
	did, err := ParseDID("did:icn:signer")
	require.NoError(t, err)
	id, pub, err := NewIdentity(did)
	require.NoError(t, err)

	resolver := NewMemoryKeyResolver()
	resolver.Register(did, pub)

	msg := []byte("receipt bytes")
	sig := id.Sign(msg)
	require.NoError(t, Verify(resolver, did, msg, sig))

	require.ErrorIs(t, Verify(resolver, did, []byte("tampered"), sig), ErrInvalidSignature)
}

func TestVerifyUnknownDIDFails(t *testing.T) {
	did, err := ParseDID("did:icn:stranger")
	require.NoError(t, err)
	resolver := NewMemoryKeyResolver()
	err = Verify(resolver, did, []byte("msg"), []byte("sig"))
	require.ErrorIs(t, err, ErrNotFound)
}

package core

// identity.go – DID resolution and signing over Ed25519 only: the
// Byzantine attestation variant only needs threshold *counting* of
// individual attestations, not signature aggregation, so no BLS or
// post-quantum scheme has a call site here (see DESIGN.md).

import (
	"crypto/ed25519"
	"fmt"
	"sync"
)

// KeyResolver resolves a DID to its current Ed25519 verification key. A
// production embedding layer backs this with an on-chain or federated
// registry; the in-memory implementation below is what tests and the CLI
// shim use.
type KeyResolver interface {
	Resolve(did DID) (ed25519.PublicKey, error)
}

// MemoryKeyResolver is a KeyResolver backed by an in-memory map, guarded by
// an RWMutex.
type MemoryKeyResolver struct {
	mu sync.RWMutex
	keys map[DID]ed25519.PublicKey
}

// NewMemoryKeyResolver returns an empty resolver.
func NewMemoryKeyResolver() *MemoryKeyResolver {
	return &MemoryKeyResolver{keys: make(map[DID]ed25519.PublicKey)}
}

// Register binds did to pub, overwriting any previous binding (key
// rotation is out of scope for this core; the embedding layer decides
// rotation policy).
func (r *MemoryKeyResolver) Register(did DID, pub ed25519.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[did] = pub
}

// Resolve implements KeyResolver.
func (r *MemoryKeyResolver) Resolve(did DID) (ed25519.PublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pub, ok := r.keys[did]
	if !ok {
		return nil, fmt.Errorf("%w: no key registered for %s", ErrNotFound, did)
	}
	return pub, nil
}

// Identity wraps a private signing key together with the DID it signs on
// behalf of, the object every component that produces signed artifacts
// (votes, receipts, proposals) is constructed with.
type Identity struct {
	DID DID
	private ed25519.PrivateKey
}

// NewIdentity generates a fresh Ed25519 keypair for did and returns the
// Identity plus its public key, for registration with a KeyResolver.
func NewIdentity(did DID) (Identity, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return Identity{}, nil, fmt.Errorf("%w: generate key: %v", ErrInternal, err)
	}
	return Identity{DID: did, private: priv}, pub, nil
}

// Sign signs msg and returns the Ed25519 signature.
func (id Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.private, msg)
}

// Verify checks sig over msg against the verification key resolved for
// signer via resolver.
func Verify(resolver KeyResolver, signer DID, msg, sig []byte) error {
	pub, err := resolver.Resolve(signer)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, msg, sig) {
		return fmt.Errorf("%w: signature from %s does not verify", ErrInvalidSignature, signer)
	}
	return nil
}

package crypto

import (
	"crypto/rand"
	"errors"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ed25519"
)

// PublicKeySize is the length in bytes of a PublicKey.
const PublicKeySize = ed25519.PublicKeySize

// PublicKey identifies a transaction author or validator.
type PublicKey [PublicKeySize]byte

// PrivateKey signs payloads on behalf of a PublicKey.
type PrivateKey struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

// Signature is a detached Ed25519-like signature over a payload.
type Signature [ed25519.SignatureSize]byte

// GenerateKey creates a fresh keypair, for use in tests and genesis tooling.
func GenerateKey() (PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PrivateKey{}, err
	}
	var pk PublicKey
	copy(pk[:], pub)
	return PrivateKey{priv: priv, pub: pk}, nil
}

// PrivateKeyFromSeed derives a keypair deterministically from a 32-byte
// seed, for fixtures that need a stable, reproducible key across test runs
// (GenerateKey's randomness would make such fixtures flaky).
func PrivateKeyFromSeed(seed []byte) PrivateKey {
	priv := ed25519.NewKeyFromSeed(seed)
	var pk PublicKey
	copy(pk[:], priv.Public().(ed25519.PublicKey))
	return PrivateKey{priv: priv, pub: pk}
}

// Public returns the public half of the keypair.
func (k PrivateKey) Public() PublicKey {
	return k.pub
}

// Sign produces a detached signature over payload.
func (k PrivateKey) Sign(payload []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.priv, payload))
	return sig
}

// Verify checks that sig is a valid signature by pub over payload. Signature
// verification is a pure function of the payload bytes and the key, per
// spec.md §3 — the dispatcher never trusts an unverified transaction.
func Verify(pub PublicKey, payload []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), payload, sig[:])
}

// String renders the public key as base58, the teacher's convention for
// human-facing key display (never used in hashed/wire bytes).
func (p PublicKey) String() string {
	return base58.Encode(p[:])
}

// ErrInvalidPublicKey is returned by PublicKeyFromBase58 on malformed input.
var ErrInvalidPublicKey = errors.New("crypto: invalid public key")

// PublicKeyFromBase58 parses the display form produced by PublicKey.String.
func PublicKeyFromBase58(s string) (PublicKey, error) {
	b, err := base58.Decode(s)
	if err != nil || len(b) != PublicKeySize {
		return PublicKey{}, ErrInvalidPublicKey
	}
	var pk PublicKey
	copy(pk[:], b)
	return pk, nil
}

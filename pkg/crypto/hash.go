// Package crypto wraps the signature scheme and hashing primitives shared by
// the dispatcher and its services.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashSize is the length in bytes of a Hash.
const HashSize = 32

// Hash is a 32-byte digest, the unit every ObjectHash and transaction id is
// expressed in.
type Hash [HashSize]byte

// String renders the hash as lowercase hex, matching the teacher's
// util.Uint256 String() convention.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero sentinel hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Sum computes the canonical hash of b.
func Sum(b []byte) Hash {
	return sha256.Sum256(b)
}

// SumTagged computes a domain-separated hash, used to keep distinct
// Merkleized collections (proof-lists vs proof-maps) from colliding on
// identical underlying bytes.
func SumTagged(tag byte, b []byte) Hash {
	h := sha256.New()
	h.Write([]byte{tag})
	h.Write(b)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HashFromBytes copies b (which must be HashSize long) into a Hash.
func HashFromBytes(b []byte) Hash {
	var h Hash
	copy(h[:], b)
	return h
}

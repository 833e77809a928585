// Package merkle implements the authenticated, Merkleized collections every
// schema in this module is built on: an append/overwrite-able proof-list and
// a keyed proof-map, each exposing a deterministic ObjectHash.
//
// Unlike the teacher's pkg/core/mpt (a full Patricia trie shared by every
// contract), spec.md's collections are simpler per-entity structures — an
// append-only list of hashes, a flat map keyed by a byte-string key — so the
// Merkle construction here is a plain binary hash tree / sorted-leaf root
// rather than a trie. See DESIGN.md for why no pack library fits this
// narrower shape.
package merkle

// Codec tells a List or Map how to turn a value of type T into canonical
// bytes and back. Canonical here means the same byte-for-byte encoding spec.md
// §6 requires for hash-affecting state.
type Codec[T any] struct {
	Encode func(T) []byte
	Decode func([]byte) T
}

package merkle

import (
	"sort"

	"github.com/nspcc-dev/dispatchernode/pkg/crypto"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

// Map is a Merkleized key-value index backed by a Store, keyed by raw
// bytes (a public key, an artifact id encoding, a config hash...).
type Map[T any] struct {
	store  storage.Store
	prefix []byte
	codec  Codec[T]
}

// NewMap opens a Map rooted at prefix within store.
func NewMap[T any](store storage.Store, prefix []byte, codec Codec[T]) *Map[T] {
	return &Map[T]{store: store, prefix: prefix, codec: codec}
}

func (m *Map[T]) key(k []byte) []byte {
	return append(append([]byte{}, m.prefix...), k...)
}

// Get returns the value stored at k and whether it was present.
func (m *Map[T]) Get(k []byte) (T, bool) {
	var zero T
	v, err := m.store.Get(m.key(k))
	if err != nil {
		return zero, false
	}
	return m.codec.Decode(v), true
}

// Put stores value at k, overwriting any previous entry.
func (m *Map[T]) Put(k []byte, value T) {
	_ = m.store.Put(m.key(k), m.codec.Encode(value))
}

// Delete removes k, if present.
func (m *Map[T]) Delete(k []byte) {
	_ = m.store.Delete(m.key(k))
}

// Iterate calls f for every entry in ascending key order, stopping early if
// f returns false.
func (m *Map[T]) Iterate(f func(k []byte, v T) bool) {
	m.store.Seek(storage.SeekRange{Prefix: m.prefix}, func(k, v []byte) bool {
		suffix := k[len(m.prefix):]
		return f(suffix, m.codec.Decode(v))
	})
}

// ObjectHash computes the deterministic Merkle root of the map's current
// contents: leaves are hash(key||value) over keys in ascending
// lexicographic order, so the root never depends on insertion order.
func (m *Map[T]) ObjectHash() crypto.Hash {
	type entry struct {
		k []byte
		v []byte
	}
	var entries []entry
	m.store.Seek(storage.SeekRange{Prefix: m.prefix}, func(k, v []byte) bool {
		suffix := append([]byte{}, k[len(m.prefix):]...)
		entries = append(entries, entry{k: suffix, v: append([]byte{}, v...)})
		return true
	})
	sort.Slice(entries, func(i, j int) bool {
		return string(entries[i].k) < string(entries[j].k)
	})
	if len(entries) == 0 {
		return crypto.SumTagged('M', nil)
	}
	leaves := make([]crypto.Hash, len(entries))
	for i, e := range entries {
		buf := make([]byte, 0, len(e.k)+len(e.v))
		buf = append(buf, e.k...)
		buf = append(buf, e.v...)
		leaves[i] = crypto.SumTagged('m', buf)
	}
	return merkleRoot(leaves)
}

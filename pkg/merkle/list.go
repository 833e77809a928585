package merkle

import (
	"encoding/binary"

	"github.com/nspcc-dev/dispatchernode/pkg/crypto"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

const (
	listTagLen   byte = 0x00
	listTagItems byte = 0x01
)

// List is a Merkleized, index-addressable sequence backed by a Store. It
// supports both append (wallet_history, config_hash_by_ordinal) and
// pre-size-then-overwrite-by-index (votes_by_config_hash) access patterns.
type List[T any] struct {
	store  storage.Store
	prefix []byte
	codec  Codec[T]
}

// NewList opens a List rooted at prefix within store.
func NewList[T any](store storage.Store, prefix []byte, codec Codec[T]) *List[T] {
	return &List[T]{store: store, prefix: prefix, codec: codec}
}

func (l *List[T]) lenKey() []byte {
	return append(append([]byte{}, l.prefix...), listTagLen)
}

func (l *List[T]) itemKey(i uint64) []byte {
	k := append(append([]byte{}, l.prefix...), listTagItems)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], i)
	return append(k, idx[:]...)
}

// Len returns the number of elements in the list (including sentinel slots
// from PreSize).
func (l *List[T]) Len() uint64 {
	v, err := l.store.Get(l.lenKey())
	if err != nil || len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func (l *List[T]) setLen(n uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	_ = l.store.Put(l.lenKey(), b[:])
}

// Get returns the element at index i. It panics if i is out of range, since
// an out-of-range list access from trusted schema code indicates a
// consistency bug (spec.md §7 kind 3), not a recoverable precondition.
func (l *List[T]) Get(i uint64) T {
	if i >= l.Len() {
		panic("merkle: list index out of range")
	}
	v, err := l.store.Get(l.itemKey(i))
	if err != nil {
		panic("merkle: list element missing for index within length: " + err.Error())
	}
	return l.codec.Decode(v)
}

// Append adds value to the tail of the list and returns its new length.
func (l *List[T]) Append(value T) uint64 {
	n := l.Len()
	_ = l.store.Put(l.itemKey(n), l.codec.Encode(value))
	l.setLen(n + 1)
	return n + 1
}

// PreSize grows the list to exactly n elements, filling every new slot with
// sentinel. It is a no-op if the list is already at least n long. Used to
// pre-size votes_by_config_hash to len(prev_cfg.validators) with the
// zero-vote sentinel at every index (spec.md §3).
func (l *List[T]) PreSize(n uint64, sentinel T) {
	cur := l.Len()
	for i := cur; i < n; i++ {
		_ = l.store.Put(l.itemKey(i), l.codec.Encode(sentinel))
	}
	if n > cur {
		l.setLen(n)
	}
}

// Set overwrites the element at index i in place. It panics if i is out of
// range (the caller must PreSize first).
func (l *List[T]) Set(i uint64, value T) {
	if i >= l.Len() {
		panic("merkle: list Set index out of range")
	}
	_ = l.store.Put(l.itemKey(i), l.codec.Encode(value))
}

// ObjectHash computes the deterministic Merkle root of the list's current
// contents. It depends only on the appended/overwritten values, never on the
// order elements happened to be read (spec.md §8 round-trip law).
func (l *List[T]) ObjectHash() crypto.Hash {
	n := l.Len()
	if n == 0 {
		return crypto.SumTagged('L', nil)
	}
	leaves := make([]crypto.Hash, n)
	for i := uint64(0); i < n; i++ {
		v, err := l.store.Get(l.itemKey(i))
		if err != nil {
			panic("merkle: list element missing for index within length: " + err.Error())
		}
		leaves[i] = crypto.SumTagged('l', v)
	}
	return merkleRoot(leaves)
}

// merkleRoot folds leaves pairwise into a single root hash, duplicating the
// last node of an odd-length level (the teacher's MPT and most Merkle-list
// implementations share this convention).
func merkleRoot(leaves []crypto.Hash) crypto.Hash {
	level := leaves
	for len(level) > 1 {
		next := make([]crypto.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}

func hashPair(a, b crypto.Hash) crypto.Hash {
	buf := make([]byte, 0, 2*crypto.HashSize)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return crypto.SumTagged('n', buf)
}

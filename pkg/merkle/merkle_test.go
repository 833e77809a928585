package merkle_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nspcc-dev/dispatchernode/pkg/merkle"
	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

var uint64Codec = merkle.Codec[uint64]{
	Encode: func(v uint64) []byte {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		return b[:]
	},
	Decode: func(b []byte) uint64 {
		if len(b) != 8 {
			return 0
		}
		return binary.BigEndian.Uint64(b)
	},
}

func TestListAppendAndGet(t *testing.T) {
	store := storage.NewMemoryStore()
	l := merkle.NewList[uint64](store, []byte{0x10}, uint64Codec)
	l.Append(1)
	l.Append(2)
	l.Append(3)
	require.Equal(t, uint64(3), l.Len())
	require.Equal(t, uint64(1), l.Get(0))
	require.Equal(t, uint64(3), l.Get(2))
}

func TestListObjectHashChangesOnAppend(t *testing.T) {
	store := storage.NewMemoryStore()
	l := merkle.NewList[uint64](store, []byte{0x10}, uint64Codec)
	before := l.ObjectHash()
	l.Append(42)
	after := l.ObjectHash()
	require.NotEqual(t, before, after)
}

func TestListPreSizeThenSet(t *testing.T) {
	store := storage.NewMemoryStore()
	l := merkle.NewList[uint64](store, []byte{0x11}, uint64Codec)
	l.PreSize(3, 0)
	require.Equal(t, uint64(3), l.Len())
	l.Set(1, 99)
	require.Equal(t, uint64(99), l.Get(1))
	require.Equal(t, uint64(0), l.Get(0))
}

func TestMapPutGetIterate(t *testing.T) {
	store := storage.NewMemoryStore()
	m := merkle.NewMap[uint64](store, []byte{0x20}, uint64Codec)
	m.Put([]byte("b"), 2)
	m.Put([]byte("a"), 1)
	m.Put([]byte("c"), 3)

	v, ok := m.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, uint64(1), v)

	var keys []string
	m.Iterate(func(k []byte, v uint64) bool {
		keys = append(keys, string(k))
		return true
	})
	require.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestMapObjectHashIsOrderIndependent(t *testing.T) {
	storeA := storage.NewMemoryStore()
	mA := merkle.NewMap[uint64](storeA, []byte{0x21}, uint64Codec)
	mA.Put([]byte("a"), 1)
	mA.Put([]byte("b"), 2)

	storeB := storage.NewMemoryStore()
	mB := merkle.NewMap[uint64](storeB, []byte{0x21}, uint64Codec)
	mB.Put([]byte("b"), 2)
	mB.Put([]byte("a"), 1)

	require.Equal(t, mA.ObjectHash(), mB.ObjectHash())
}

func TestMapDelete(t *testing.T) {
	store := storage.NewMemoryStore()
	m := merkle.NewMap[uint64](store, []byte{0x22}, uint64Codec)
	m.Put([]byte("a"), 1)
	m.Delete([]byte("a"))
	_, ok := m.Get([]byte("a"))
	require.False(t, ok)
}

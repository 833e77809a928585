package storage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nspcc-dev/dispatchernode/pkg/storage"
)

func TestMemoryStoreGetPutDelete(t *testing.T) {
	s := storage.NewMemoryStore()
	_, err := s.Get([]byte("k"))
	require.ErrorIs(t, err, storage.ErrKeyNotFound)

	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	require.NoError(t, s.Delete([]byte("k")))
	_, err = s.Get([]byte("k"))
	require.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestMemoryStoreSeekOrdering(t *testing.T) {
	s := storage.NewMemoryStore()
	for _, k := range []string{"p:a", "p:c", "p:b", "q:z"} {
		require.NoError(t, s.Put([]byte(k), []byte(k)))
	}
	var got []string
	s.Seek(storage.SeekRange{Prefix: []byte("p:")}, func(k, v []byte) bool {
		got = append(got, string(k))
		return true
	})
	require.Equal(t, []string{"p:a", "p:b", "p:c"}, got)
}

func TestForkOverlayShadowsBackingUntilCommit(t *testing.T) {
	backing := storage.NewMemoryStore()
	require.NoError(t, backing.Put([]byte("k"), []byte("old")))

	fork := storage.NewFork(backing)
	v, err := fork.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("old"), v)

	require.NoError(t, fork.Put([]byte("k"), []byte("new")))
	v, err = fork.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), v)

	backingVal, err := backing.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("old"), backingVal, "fork writes must not leak to backing before Commit")

	n, err := fork.Commit()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	backingVal, err = backing.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), backingVal)
}

func TestForkDiscardDropsBufferedWrites(t *testing.T) {
	backing := storage.NewMemoryStore()
	fork := storage.NewFork(backing)
	require.NoError(t, fork.Put([]byte("k"), []byte("v")))
	fork.Discard()

	_, err := backing.Get([]byte("k"))
	require.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestForkDeleteShadowsBacking(t *testing.T) {
	backing := storage.NewMemoryStore()
	require.NoError(t, backing.Put([]byte("k"), []byte("v")))
	fork := storage.NewFork(backing)
	require.NoError(t, fork.Delete([]byte("k")))

	_, err := fork.Get([]byte("k"))
	require.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	backing := storage.NewMemoryStore()
	fork := storage.NewFork(backing)
	ro := storage.ReadOnly(fork)
	require.Error(t, ro.Put([]byte("k"), []byte("v")))
	require.Error(t, ro.Delete([]byte("k")))
}

func TestForkSeekMergesOverlayAndBacking(t *testing.T) {
	backing := storage.NewMemoryStore()
	require.NoError(t, backing.Put([]byte("p:a"), []byte("a")))
	require.NoError(t, backing.Put([]byte("p:c"), []byte("c")))

	fork := storage.NewFork(backing)
	require.NoError(t, fork.Put([]byte("p:b"), []byte("b")))
	require.NoError(t, fork.Delete([]byte("p:a")))

	var got []string
	fork.Seek(storage.SeekRange{Prefix: []byte("p:")}, func(k, v []byte) bool {
		got = append(got, string(k))
		return true
	})
	require.Equal(t, []string{"p:b", "p:c"}, got)
}

package memory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborfs/arbor/pkg/store"
)

func openedStore(t *testing.T) store.Store {
	t.Helper()
	s := New()
	require.NoError(t, s.Open())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemStore_GetPutHas(t *testing.T) {
	s := openedStore(t)

	_, err := s.Get(store.HgProxyHash, []byte("k"))
	require.ErrorIs(t, err, store.ErrKeyNotFound)

	require.NoError(t, s.Put(store.HgProxyHash, []byte("k"), []byte("v1")))
	require.NoError(t, s.Put(store.HgProxyHash, []byte("k"), []byte("v2"))) // last writer wins

	value, err := s.Get(store.HgProxyHash, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)

	ok, err := s.Has(store.HgProxyHash, []byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)

	// keyspaces are isolated
	_, err = s.Get(store.HgCommitToTree, []byte("k"))
	require.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestMemStore_OpenCloseIdempotent(t *testing.T) {
	s := New()
	require.NoError(t, s.Open())
	require.NoError(t, s.Open())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Get(store.HgProxyHash, []byte("k"))
	require.ErrorIs(t, err, store.ErrStoreClosed)
}

func TestMemStore_ClearKeySpace(t *testing.T) {
	s := openedStore(t)
	require.NoError(t, s.Put(store.CachedBlobs, []byte("a"), []byte("1")))
	require.NoError(t, s.Put(store.CachedTrees, []byte("a"), []byte("2")))

	require.NoError(t, s.ClearKeySpace(store.CachedBlobs))

	_, err := s.Get(store.CachedBlobs, []byte("a"))
	require.ErrorIs(t, err, store.ErrKeyNotFound)
	_, err = s.Get(store.CachedTrees, []byte("a"))
	require.NoError(t, err)

	require.NoError(t, s.CompactKeySpace(store.CachedBlobs))
}

func TestMemStore_UnknownKeySpace(t *testing.T) {
	s := openedStore(t)
	_, err := s.Get(store.KeySpace(250), []byte("k"))
	require.ErrorIs(t, err, store.ErrUnknownKeySpace)
}

func TestMemStore_WriteBatchAppliesAcrossKeySpaces(t *testing.T) {
	s := openedStore(t)

	batch := s.BeginWrite()
	batch.Put(store.HgProxyHash, []byte("p"), []byte("1"))
	batch.Put(store.HgCommitToTree, []byte("c"), []byte("2"))
	require.NoError(t, batch.Flush())

	v, err := s.Get(store.HgProxyHash, []byte("p"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
	v, err = s.Get(store.HgCommitToTree, []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
}

func TestMemStore_WriteBatchAtomicOnFailure(t *testing.T) {
	s := New().(*memStore)
	require.NoError(t, s.Open())
	t.Cleanup(func() { _ = s.Close() })

	boom := errors.New("boom")
	fails := 0
	s.flushHook = func(ks store.KeySpace, key []byte) error {
		fails++
		if fails == 3 {
			return boom
		}
		return nil
	}

	batch := s.BeginWrite()
	batch.Put(store.HgProxyHash, []byte("a"), []byte("1"))
	batch.Put(store.HgProxyHash, []byte("b"), []byte("2"))
	batch.Put(store.HgCommitToTree, []byte("c"), []byte("3"))
	require.ErrorIs(t, batch.Flush(), boom)

	// no partial keys are visible after the failed flush
	for _, probe := range []struct {
		ks  store.KeySpace
		key string
	}{
		{store.HgProxyHash, "a"},
		{store.HgProxyHash, "b"},
		{store.HgCommitToTree, "c"},
	} {
		_, err := s.Get(probe.ks, []byte(probe.key))
		require.ErrorIs(t, err, store.ErrKeyNotFound, "%s/%s", probe.ks.Name(), probe.key)
	}
}

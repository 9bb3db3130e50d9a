package leveldb_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storacha/kfs/pkg/kvstore"
	"github.com/storacha/kfs/pkg/kvstore/leveldb"
)

type BackendKind string

const (
	Memory BackendKind = "memory"
	File   BackendKind = "file"
)

var backendKinds = []BackendKind{Memory, File}

func makeBackend(t *testing.T, k BackendKind) (kvstore.Backend, string) {
	switch k {
	case Memory:
		return leveldb.NewMemBackend(), "shard"
	case File:
		return leveldb.NewFileBackend(), filepath.Join(t.TempDir(), "000.s")
	}
	panic("unknown backend kind")
}

func TestStore(t *testing.T) {
	for _, k := range backendKinds {
		t.Run(string(k), func(t *testing.T) {
			backend, path := makeBackend(t, k)
			store, err := backend.Open(path, kvstore.DefaultOptions())
			require.NoError(t, err)

			t.Run("get missing", func(t *testing.T) {
				_, err := store.Get([]byte("nope"))
				require.ErrorIs(t, err, kvstore.ErrNotFound)

				ok, err := store.Has([]byte("nope"))
				require.NoError(t, err)
				require.False(t, ok)
			})

			t.Run("put get delete", func(t *testing.T) {
				require.NoError(t, store.Put([]byte("k"), []byte("v")))
				v, err := store.Get([]byte("k"))
				require.NoError(t, err)
				require.Equal(t, []byte("v"), v)

				require.NoError(t, store.Delete([]byte("k")))
				_, err = store.Get([]byte("k"))
				require.ErrorIs(t, err, kvstore.ErrNotFound)

				// deleting a missing key is not an error
				require.NoError(t, store.Delete([]byte("k")))
			})

			t.Run("iterates a range in order", func(t *testing.T) {
				for _, k := range []string{"a 2", "a 0", "b 0", "a 1", "c"} {
					require.NoError(t, store.Put([]byte(k), []byte(k)))
				}
				it := store.Iterator([]byte("a "), []byte("a!"))
				var got []string
				for it.Next() {
					got = append(got, string(it.Key()))
					require.Equal(t, it.Key(), it.Value())
				}
				require.NoError(t, it.Error())
				it.Release()
				require.Equal(t, []string{"a 0", "a 1", "a 2"}, got)
			})

			t.Run("compacts and sizes", func(t *testing.T) {
				require.NoError(t, store.CompactRange(nil, nil))
				size, err := store.ApproximateSize([]byte("0"), []byte("z"))
				require.NoError(t, err)
				require.GreaterOrEqual(t, size, int64(0))
			})

			require.NoError(t, store.Close())
			_, err = store.Get([]byte("a 0"))
			require.ErrorIs(t, err, kvstore.ErrClosed)

			t.Run("reopen keeps data", func(t *testing.T) {
				store, err := backend.Open(path, kvstore.DefaultOptions())
				require.NoError(t, err)
				v, err := store.Get([]byte("b 0"))
				require.NoError(t, err)
				require.Equal(t, []byte("b 0"), v)
				require.NoError(t, store.Close())
			})

			t.Run("repair keeps data", func(t *testing.T) {
				require.NoError(t, backend.Repair(path, kvstore.DefaultOptions()))
				store, err := backend.Open(path, kvstore.DefaultOptions())
				require.NoError(t, err)
				v, err := store.Get([]byte("a 1"))
				require.NoError(t, err)
				require.Equal(t, []byte("a 1"), v)

				size, err := store.ApproximateSize([]byte("0"), []byte("z"))
				require.NoError(t, err)
				require.Positive(t, size)
				require.NoError(t, store.Close())
			})
		})
	}
}

func TestFileBackendRejectsForeignDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "000.s")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))

	backend := leveldb.NewFileBackend()
	_, err := backend.Open(dir, kvstore.DefaultOptions())
	require.ErrorIs(t, err, kvstore.ErrInvalidStore)
	require.ErrorIs(t, backend.Repair(dir, kvstore.DefaultOptions()), kvstore.ErrInvalidStore)
}

func TestFileBackendOpensEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	store, err := leveldb.NewFileBackend().Open(dir, kvstore.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.FileExists(t, filepath.Join(dir, "CURRENT"))
}

func TestBackendExists(t *testing.T) {
	for _, k := range backendKinds {
		t.Run(string(k), func(t *testing.T) {
			backend, path := makeBackend(t, k)
			require.False(t, backend.Exists(path))

			store, err := backend.Open(path, kvstore.DefaultOptions())
			require.NoError(t, err)
			require.NoError(t, store.Close())
			require.True(t, backend.Exists(path))
		})
	}
}

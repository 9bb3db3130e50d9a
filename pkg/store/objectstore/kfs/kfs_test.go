package kfs_test

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"

	"github.com/storacha/kfs/lib/verifyread"
	"github.com/storacha/kfs/pkg/kvstore/leveldb"
	"github.com/storacha/kfs/pkg/store/objectstore"
	"github.com/storacha/kfs/pkg/store/objectstore/kfs"
	"github.com/storacha/kfs/pkg/table"
)

func newStore(t *testing.T) *kfs.Store {
	t.Helper()
	cfg := table.DefaultConfig()
	cfg.ShardCount = 4
	cfg.Shard.ChunkSize = 8
	cfg.Shard.MaxSize = 1 << 20
	cfg.Shard.IdleTimeout = 0
	cfg.Backend = leveldb.NewMemBackend()

	tbl, err := table.Open(filepath.Join(t.TempDir(), "objects"), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, tbl.Close(context.Background()))
	})
	return kfs.New(tbl)
}

func multihashKey(t *testing.T, data []byte) string {
	t.Helper()
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	require.NoError(t, err)
	return kfs.MultihashKey(mh)
}

func ptr(v uint64) *uint64 {
	return &v
}

func TestPutOperations(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		size      uint64
		expectErr bool
	}{
		{
			name: "successful put",
			data: []byte("hello world"),
			size: 11,
		},
		{
			name: "put spanning many chunks",
			data: bytes.Repeat([]byte("a"), 64*1024),
			size: 64 * 1024,
		},
		{
			name:      "put with size mismatch",
			data:      []byte("hello"),
			size:      10,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			key := multihashKey(t, tt.data)
			err := store.Put(ctx, key, tt.size, bytes.NewReader(tt.data))
			if tt.expectErr {
				require.Error(t, err)
				ok, err := store.Has(ctx, key)
				require.NoError(t, err)
				require.False(t, ok, "partial object should be removed")
				return
			}
			require.NoError(t, err)

			obj, err := store.Get(ctx, key)
			require.NoError(t, err)
			defer obj.Body().Close()

			content, err := io.ReadAll(obj.Body())
			require.NoError(t, err)
			require.Equal(t, tt.data, content)
			require.Equal(t, int64(tt.size), obj.Size())
		})
	}
}

func TestGetOperations(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	testData := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	testDataKey := multihashKey(t, testData)
	require.NoError(t, store.Put(ctx, testDataKey, uint64(len(testData)), bytes.NewReader(testData)))

	tests := []struct {
		name      string
		key       string
		opts      []objectstore.GetOption
		expected  []byte
		expectErr error
	}{
		{
			name:     "get existing object",
			key:      testDataKey,
			expected: testData,
		},
		{
			name:      "get non-existent object",
			key:       multihashKey(t, []byte("missing")),
			expectErr: objectstore.ErrNotExist,
		},
		{
			name:     "get with range - start only",
			key:      testDataKey,
			opts:     []objectstore.GetOption{objectstore.WithRange(objectstore.Range{Start: 10})},
			expected: testData[10:],
		},
		{
			name:     "get with range - start and end across chunks",
			key:      testDataKey,
			opts:     []objectstore.GetOption{objectstore.WithRange(objectstore.Range{Start: 5, End: ptr(20)})},
			expected: testData[5:21],
		},
		{
			name:     "get with range - single byte",
			key:      testDataKey,
			opts:     []objectstore.GetOption{objectstore.WithRange(objectstore.Range{Start: 35, End: ptr(35)})},
			expected: testData[35:],
		},
		{
			name:      "get with range - start beyond end",
			key:       testDataKey,
			opts:      []objectstore.GetOption{objectstore.WithRange(objectstore.Range{Start: 36})},
			expectErr: objectstore.ErrRangeNotSatisfiable{Range: objectstore.Range{Start: 36}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := store.Get(ctx, tt.key, tt.opts...)
			if tt.expectErr != nil {
				require.ErrorIs(t, err, tt.expectErr)
				return
			}
			require.NoError(t, err)
			defer obj.Body().Close()

			content, err := io.ReadAll(obj.Body())
			require.NoError(t, err)
			require.Equal(t, tt.expected, content)
			require.Equal(t, int64(len(tt.expected)), obj.Size())
		})
	}
}

func TestRangeEndBeyondObject(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Put(ctx, "short", 5, strings.NewReader("hello")))

	_, err := store.Get(ctx, "short", objectstore.WithRange(objectstore.Range{Start: 1, End: ptr(9)}))
	var rangeErr objectstore.ErrRangeNotSatisfiable
	require.ErrorAs(t, err, &rangeErr)
	require.Equal(t, uint64(1), rangeErr.Range.Start)
}

func TestPutReplacesAndDeleteRemoves(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.Put(ctx, "object", 20, strings.NewReader("a much longer object")))
	require.NoError(t, store.Put(ctx, "object", 5, strings.NewReader("short")))

	obj, err := store.Get(ctx, "object")
	require.NoError(t, err)
	content, err := io.ReadAll(obj.Body())
	require.NoError(t, err)
	require.NoError(t, obj.Body().Close())
	require.Equal(t, "short", string(content))

	require.NoError(t, store.Delete(ctx, "object"))
	require.NoError(t, store.Delete(ctx, "object"))
	_, err = store.Get(ctx, "object")
	require.ErrorIs(t, err, objectstore.ErrNotExist)
}

func TestPutMultihash(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	data := bytes.Repeat([]byte("verified "), 100)

	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	require.NoError(t, err)
	require.NoError(t, store.PutMultihash(ctx, mh, uint64(len(data)), bytes.NewReader(data)))

	obj, err := store.Get(ctx, kfs.MultihashKey(mh))
	require.NoError(t, err)
	content, err := io.ReadAll(obj.Body())
	require.NoError(t, err)
	require.NoError(t, obj.Body().Close())
	require.Equal(t, data, content)

	t.Run("mismatched content is removed", func(t *testing.T) {
		other, err := multihash.Sum([]byte("other"), multihash.SHA2_256, -1)
		require.NoError(t, err)

		err = store.PutMultihash(ctx, other, uint64(len(data)), bytes.NewReader(data))
		require.ErrorIs(t, err, verifyread.ErrHashMismatch)

		ok, err := store.Has(ctx, kfs.MultihashKey(other))
		require.NoError(t, err)
		require.False(t, ok)
	})
}

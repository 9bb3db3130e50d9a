package kfs_test

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/storacha/kfs/pkg/config"
	kfsfx "github.com/storacha/kfs/pkg/fx/kfs"
	"github.com/storacha/kfs/pkg/shard"
	"github.com/storacha/kfs/pkg/store/objectstore"
	"github.com/storacha/kfs/pkg/table"
)

func testConfig(t *testing.T, path string) config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set(string(config.TablePath), path)
	v.Set(string(config.TableShardCount), 4)
	v.Set(string(config.ShardChunkSize), 16)
	v.Set(string(config.ShardMaxSize), int64(1<<20))
	v.Set(string(config.ShardIdleTimeout), 0)
	cfg, err := config.LoadFrom[config.Config](v)
	require.NoError(t, err)
	return cfg
}

func TestModuleProvidesTable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")

	var (
		tbl   *table.Table
		store objectstore.Store
	)
	app := fxtest.New(t,
		fx.NopLogger,
		fx.Supply(testConfig(t, path)),
		kfsfx.Module,
		fx.Populate(&tbl, &store),
	)
	app.RequireStart()

	require.Equal(t, table.CoercePath(path), tbl.Path())
	require.Equal(t, 4, tbl.ShardCount())

	data := []byte("stored through the object store")
	require.NoError(t, store.Put(ctx, "object", uint64(len(data)), bytes.NewReader(data)))
	got, err := tbl.ReadFile(ctx, "object")
	require.NoError(t, err)
	require.Equal(t, data, got)

	app.RequireStop()

	// stopping flushes and closes every shard the app used
	reopened, err := table.Open(path, table.Config{ShardCount: 4, Shard: shard.Config{
		ChunkSize: 16,
		MaxSize:   1 << 20,
	}})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, reopened.Close(ctx))
	})
	obj, err := readAll(ctx, reopened, "object")
	require.NoError(t, err)
	require.Equal(t, data, obj)
}

func readAll(ctx context.Context, tbl *table.Table, key string) ([]byte, error) {
	rs, err := tbl.CreateReadStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	return io.ReadAll(rs)
}

func TestModuleRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "db"))
	cfg.Table.Digest = "not-a-digest"

	var tbl *table.Table
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		kfsfx.Module,
		fx.Populate(&tbl),
	)
	require.Error(t, app.Err())
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storacha/kfs/pkg/keys"
	"github.com/storacha/kfs/pkg/kvstore/leveldb"
	"github.com/storacha/kfs/pkg/shard"
	"github.com/storacha/kfs/pkg/table"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom[Config](newViper())
	require.NoError(t, err)

	assert.Equal(t, DefaultPath(), cfg.Table.Path)
	assert.Equal(t, table.DefaultShardCount, cfg.Table.ShardCount)
	assert.Equal(t, BackendFile, cfg.Table.Backend)
	assert.Equal(t, keys.DefaultDigest, cfg.Table.Digest)
	assert.Equal(t, shard.DefaultChunkSize, cfg.Shard.ChunkSize)
	assert.Equal(t, shard.DefaultMaxSize, cfg.Shard.MaxSize)
	assert.Equal(t, shard.DefaultIdleTimeout, cfg.Shard.IdleTimeout)
	assert.False(t, cfg.Telemetry.Enabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("KFS_TABLE_SHARD_COUNT", "16")
	t.Setenv("KFS_SHARD_IDLE_TIMEOUT", "5s")
	t.Setenv("KFS_TABLE_BACKEND", "memory")

	cfg, err := LoadFrom[Config](newViper())
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Table.ShardCount)
	assert.Equal(t, 5*time.Second, cfg.Shard.IdleTimeout)
	assert.Equal(t, BackendMemory, cfg.Table.Backend)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kfs.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[table]
path = "/var/lib/kfs/blobs"
shard_count = 64
digest = "sha2-256"

[shard]
chunk_size = 131072

[telemetry]
endpoint = "localhost:4318"
publish_interval = "10s"
`), 0o644))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom[Config](v)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/kfs/blobs", cfg.Table.Path)
	assert.Equal(t, 64, cfg.Table.ShardCount)
	assert.Equal(t, "sha2-256", cfg.Table.Digest)
	assert.Equal(t, 131072, cfg.Shard.ChunkSize)
	assert.True(t, cfg.Telemetry.Enabled())

	tel := cfg.Telemetry.ToTelemetryConfig("kfs", "test")
	assert.Equal(t, "localhost:4318", tel.Endpoint)
	assert.Equal(t, 10*time.Second, tel.PublishInterval)
	assert.Equal(t, "kfs", tel.ServiceName)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		key  Key
		val  any
	}{
		{"too many shards", TableShardCount, 512},
		{"no shards", TableShardCount, 0},
		{"unknown backend", TableBackend, "s3"},
		{"malformed reference id", TableReferenceID, "not-hex"},
		{"zero chunk size", ShardChunkSize, 0},
		{"negative idle timeout", ShardIdleTimeout, -time.Second},
		{"bad telemetry endpoint", TelemetryEndpoint, "no port"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			v := newViper()
			v.Set(string(tc.key), tc.val)
			_, err := LoadFrom[Config](v)
			require.Error(t, err)
		})
	}
}

func TestToTableConfig(t *testing.T) {
	t.Run("memory backend", func(t *testing.T) {
		v := newViper()
		v.Set(string(TableBackend), BackendMemory)
		v.Set(string(TableShardCount), 4)
		v.Set(string(TableMaxTableSize), int64(4<<20))
		v.Set(string(StoreCompression), true)
		cfg, err := LoadFrom[Config](v)
		require.NoError(t, err)

		tc, err := cfg.ToTableConfig()
		require.NoError(t, err)
		assert.IsType(t, &leveldb.MemBackend{}, tc.Backend)
		assert.Equal(t, 4, tc.ShardCount)
		assert.Equal(t, int64(4<<20), tc.MaxTableSize)
		assert.Equal(t, keys.DefaultHasher, tc.Hasher)
		assert.True(t, tc.Shard.Store.Compression)
	})

	t.Run("other digest", func(t *testing.T) {
		v := newViper()
		v.Set(string(TableDigest), "sha2-256")
		cfg, err := LoadFrom[Config](v)
		require.NoError(t, err)

		tc, err := cfg.ToTableConfig()
		require.NoError(t, err)
		assert.Equal(t, "sha2-256", tc.Hasher.Name())
		assert.IsType(t, &leveldb.FileBackend{}, tc.Backend)
	})

	t.Run("unknown digest", func(t *testing.T) {
		v := newViper()
		v.Set(string(TableDigest), "not-a-digest")
		cfg, err := LoadFrom[Config](v)
		require.NoError(t, err)

		_, err = cfg.ToTableConfig()
		require.Error(t, err)
	})

	t.Run("opens a table", func(t *testing.T) {
		v := newViper()
		v.Set(string(TablePath), filepath.Join(t.TempDir(), "db"))
		v.Set(string(TableBackend), BackendMemory)
		v.Set(string(TableShardCount), 4)
		cfg, err := LoadFrom[Config](v)
		require.NoError(t, err)

		tc, err := cfg.ToTableConfig()
		require.NoError(t, err)
		tbl, err := table.Open(cfg.Table.Path, tc)
		require.NoError(t, err)
		assert.Equal(t, 4, tbl.ShardCount())
	})
}

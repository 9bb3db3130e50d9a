package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/storacha/kfs/pkg/keys"
	"github.com/storacha/kfs/pkg/kvstore"
	"github.com/storacha/kfs/pkg/shard"
	"github.com/storacha/kfs/pkg/table"
)

// EnvPrefix prefixes every environment variable read by kfs, e.g.
// KFS_TABLE_SHARD_COUNT.
const EnvPrefix = "KFS"

// Key is a configuration key path used with Viper.
type Key string

// Table
const (
	TablePath         Key = "table.path"
	TableReferenceID  Key = "table.reference_id"
	TableShardCount   Key = "table.shard_count"
	TableMaxTableSize Key = "table.max_table_size"
	TableBackend      Key = "table.backend"
	TableDigest       Key = "table.digest"
)

// Shard
const (
	ShardChunkSize   Key = "shard.chunk_size"
	ShardMaxSize     Key = "shard.max_size"
	ShardIdleTimeout Key = "shard.idle_timeout"
)

// Store (leveldb tuning)
const (
	StoreMaxOpenFiles         Key = "store.max_open_files"
	StoreBlockCacheSize       Key = "store.block_cache_size"
	StoreWriteBufferSize      Key = "store.write_buffer_size"
	StoreBlockSize            Key = "store.block_size"
	StoreBlockRestartInterval Key = "store.block_restart_interval"
	StoreCompression          Key = "store.compression"
)

// Telemetry
const (
	TelemetryEndpoint        Key = "telemetry.endpoint"
	TelemetryInsecure        Key = "telemetry.insecure"
	TelemetryPublishInterval Key = "telemetry.publish_interval"
)

const (
	BackendFile   = "file"
	BackendMemory = "memory"
)

// DefaultPath is the table used when none is configured.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".kfs", "default")
}

func defaultValues() map[Key]any {
	store := kvstore.DefaultOptions()
	return map[Key]any{
		TablePath:         DefaultPath(),
		TableShardCount:   table.DefaultShardCount,
		TableMaxTableSize: int64(0),
		TableBackend:      BackendFile,
		TableDigest:       keys.DefaultDigest,

		ShardChunkSize:   shard.DefaultChunkSize,
		ShardMaxSize:     shard.DefaultMaxSize,
		ShardIdleTimeout: shard.DefaultIdleTimeout,

		StoreMaxOpenFiles:         store.MaxOpenFiles,
		StoreBlockCacheSize:       store.BlockCacheSize,
		StoreWriteBufferSize:      store.WriteBufferSize,
		StoreBlockSize:            store.BlockSize,
		StoreBlockRestartInterval: store.BlockRestartInterval,
		StoreCompression:          store.Compression,

		TelemetryPublishInterval: 30 * time.Second,
	}
}

// SetDefaults registers every default on v. Call it before Unmarshal so that
// environment variables are also picked up for keys never set elsewhere.
func SetDefaults(v *viper.Viper) {
	for k, val := range defaultValues() {
		v.SetDefault(string(k), val)
	}
}

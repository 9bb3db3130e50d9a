package config

import (
	"fmt"
	"time"

	"github.com/storacha/kfs/pkg/keys"
	"github.com/storacha/kfs/pkg/kvstore"
	"github.com/storacha/kfs/pkg/kvstore/leveldb"
	"github.com/storacha/kfs/pkg/shard"
	"github.com/storacha/kfs/pkg/table"
	"github.com/storacha/kfs/pkg/telemetry"
)

type Config struct {
	Table     TableConfig     `mapstructure:"table" toml:"table"`
	Shard     ShardConfig     `mapstructure:"shard" toml:"shard"`
	Store     StoreConfig     `mapstructure:"store" toml:"store,omitempty"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" toml:"telemetry,omitempty"`
}

func (c Config) Validate() error {
	return validateConfig(c)
}

type TableConfig struct {
	Path string `mapstructure:"path" validate:"required" flag:"db" toml:"path"`
	// ReferenceID is only used when the table is created.
	ReferenceID  string `mapstructure:"reference_id" validate:"omitempty,hexadecimal,len=40" toml:"reference_id,omitempty"`
	ShardCount   int    `mapstructure:"shard_count" validate:"min=1,max=256" toml:"shard_count"`
	MaxTableSize int64  `mapstructure:"max_table_size" validate:"gte=0" toml:"max_table_size,omitempty"`
	// Backend is "file" (default) or "memory".
	Backend string `mapstructure:"backend" validate:"oneof=file memory" toml:"backend"`
	// Digest is the multihash name of the key digest.
	Digest string `mapstructure:"digest" validate:"required" toml:"digest"`
}

type ShardConfig struct {
	ChunkSize   int           `mapstructure:"chunk_size" validate:"gt=0" toml:"chunk_size"`
	MaxSize     int64         `mapstructure:"max_size" validate:"gt=0" toml:"max_size"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gte=0" toml:"idle_timeout"`
}

type StoreConfig struct {
	MaxOpenFiles         int  `mapstructure:"max_open_files" validate:"gte=0" toml:"max_open_files,omitempty"`
	BlockCacheSize       int  `mapstructure:"block_cache_size" validate:"gte=0" toml:"block_cache_size,omitempty"`
	WriteBufferSize      int  `mapstructure:"write_buffer_size" validate:"gte=0" toml:"write_buffer_size,omitempty"`
	BlockSize            int  `mapstructure:"block_size" validate:"gte=0" toml:"block_size,omitempty"`
	BlockRestartInterval int  `mapstructure:"block_restart_interval" validate:"gte=0" toml:"block_restart_interval,omitempty"`
	Compression          bool `mapstructure:"compression" toml:"compression,omitempty"`
}

func (s StoreConfig) ToOptions() kvstore.Options {
	return kvstore.Options{
		MaxOpenFiles:         s.MaxOpenFiles,
		BlockCacheSize:       s.BlockCacheSize,
		WriteBufferSize:      s.WriteBufferSize,
		BlockSize:            s.BlockSize,
		BlockRestartInterval: s.BlockRestartInterval,
		Compression:          s.Compression,
	}
}

type TelemetryConfig struct {
	// Endpoint is the host:port of an OTLP/HTTP collector. Metrics are not
	// exported when it is empty.
	Endpoint        string            `mapstructure:"endpoint" validate:"omitempty,hostname_port" toml:"endpoint,omitempty"`
	Insecure        bool              `mapstructure:"insecure" toml:"insecure,omitempty"`
	Headers         map[string]string `mapstructure:"headers" toml:"headers,omitempty"`
	PublishInterval time.Duration     `mapstructure:"publish_interval" validate:"gte=0" toml:"publish_interval,omitempty"`
}

func (t TelemetryConfig) Enabled() bool {
	return t.Endpoint != ""
}

func (t TelemetryConfig) ToTelemetryConfig(serviceName, serviceVersion string) telemetry.Config {
	return telemetry.Config{
		ServiceName:     serviceName,
		ServiceVersion:  serviceVersion,
		Endpoint:        t.Endpoint,
		Insecure:        t.Insecure,
		Headers:         t.Headers,
		PublishInterval: t.PublishInterval,
	}
}

// ToTableConfig builds the typed table config. Metrics are left unset so the
// caller decides where they are reported.
func (c Config) ToTableConfig() (table.Config, error) {
	hasher, err := keys.NewHasher(c.Table.Digest)
	if err != nil {
		return table.Config{}, fmt.Errorf("table digest: %w", err)
	}

	var backend kvstore.Backend
	switch c.Table.Backend {
	case BackendMemory:
		backend = leveldb.NewMemBackend()
	case BackendFile, "":
		backend = leveldb.NewFileBackend()
	default:
		return table.Config{}, fmt.Errorf("unknown table backend %q", c.Table.Backend)
	}

	out := table.Config{
		ReferenceID:  c.Table.ReferenceID,
		ShardCount:   c.Table.ShardCount,
		MaxTableSize: c.Table.MaxTableSize,
		Shard: shard.Config{
			ChunkSize:   c.Shard.ChunkSize,
			MaxSize:     c.Shard.MaxSize,
			IdleTimeout: c.Shard.IdleTimeout,
			Store:       c.Store.ToOptions(),
		},
		Backend: backend,
		Hasher:  hasher,
	}
	if err := out.Validate(); err != nil {
		return table.Config{}, err
	}
	return out, nil
}

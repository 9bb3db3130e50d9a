package flags

import (
	"github.com/spf13/pflag"

	"github.com/storacha/kfs/pkg/config"
	"github.com/storacha/kfs/pkg/shard"
	"github.com/storacha/kfs/pkg/table"
)

// SetupTableFlags registers the flags that select and shape a table.
func SetupTableFlags(fs *pflag.FlagSet) error {
	fs.String(
		"db",
		config.DefaultPath(),
		"Table directory (\".kfs\" is appended when missing)",
	)
	fs.Int(
		"shard-count",
		table.DefaultShardCount,
		"Number of shards, used when the table is created",
	)
	fs.Int(
		"chunk-size",
		shard.DefaultChunkSize,
		"Size in bytes of every stored chunk",
	)
	fs.String(
		"digest",
		"sha1",
		"Multihash name of the digest used to derive file keys",
	)

	bindings := []FlagBinding{
		{"db", string(config.TablePath), "KFS_DB"},
		{"shard-count", string(config.TableShardCount), ""},
		{"chunk-size", string(config.ShardChunkSize), ""},
		{"digest", string(config.TableDigest), ""},
	}

	return AddAndBindFlags(fs, bindings)
}

// SetupOutputFlags registers the flags controlling how results are printed.
func SetupOutputFlags(fs *pflag.FlagSet) {
	fs.String("format", "table", "Output format: table or json")
	fs.Bool("human", false, "Print sizes in human readable units")
}

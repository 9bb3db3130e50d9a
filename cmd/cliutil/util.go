package cliutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/spf13/cobra"

	"github.com/storacha/kfs/pkg/config"
	"github.com/storacha/kfs/pkg/table"
	"github.com/storacha/kfs/pkg/telemetry"
)

// Mkdirp creates the directory joined from dirpath and returns it.
func Mkdirp(dirpath ...string) (string, error) {
	dir := filepath.Join(dirpath...)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return "", fmt.Errorf("creating directory: %s: %w", dir, err)
	}
	return dir, nil
}

// OpenTable loads the configuration and opens the table it names. Chunk
// metrics go to the global telemetry instance.
func OpenTable() (*table.Table, config.Config, error) {
	cfg, err := config.Load[config.Config]()
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	tc, err := cfg.ToTableConfig()
	if err != nil {
		return nil, config.Config{}, err
	}
	tc.Metrics, err = telemetry.NewStoreMetrics(telemetry.Global())
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("creating metrics: %w", err)
	}
	if _, err := Mkdirp(filepath.Dir(cfg.Table.Path)); err != nil {
		return nil, config.Config{}, err
	}
	tbl, err := table.Open(cfg.Table.Path, tc)
	if err != nil {
		return nil, config.Config{}, err
	}
	return tbl, cfg, nil
}

// WithTable runs fn against the configured table and closes the table after.
func WithTable(ctx context.Context, fn func(*table.Table) error) error {
	tbl, _, err := OpenTable()
	if err != nil {
		return err
	}
	err = fn(tbl)
	if cerr := tbl.Close(ctx); cerr != nil && err == nil {
		err = fmt.Errorf("closing table: %w", cerr)
	}
	return err
}

// ShardIndex returns the shard index set by the --shard flag, or -1 when the
// flag was not given.
func ShardIndex(cmd *cobra.Command) (int, error) {
	if !cmd.Flags().Changed("shard") {
		return -1, nil
	}
	raw := cmd.Flags().Lookup("shard").Value.String()
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid shard index %q: %w", raw, err)
	}
	return index, nil
}

func PrintTableConfig(w io.Writer, tbl *table.Table, cfg config.Config) {
	fmt.Fprintln(w, "TABLE CONFIGURATION")
	fmt.Fprintln(w, "-------------------")
	fmt.Fprintf(w, "Path:          %s\n", tbl.Path())
	fmt.Fprintf(w, "Reference ID:  %s\n", tbl.ReferenceID())
	fmt.Fprintf(w, "Shards:        %d\n", tbl.ShardCount())
	fmt.Fprintf(w, "Chunk Size:    %d\n", cfg.Shard.ChunkSize)
	fmt.Fprintf(w, "Shard Size:    %d\n", cfg.Shard.MaxSize)
	fmt.Fprintf(w, "Digest:        %s\n", cfg.Table.Digest)
	if usage, err := disk.Usage(tbl.Path()); err == nil {
		fmt.Fprintf(w, "Disk Free:     %s of %s\n", humanize.IBytes(usage.Free), humanize.IBytes(usage.Total))
	}
	fmt.Fprintln(w)
}

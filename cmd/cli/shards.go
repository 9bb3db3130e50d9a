package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/storacha/kfs/cmd/cli/flags"
	"github.com/storacha/kfs/cmd/cliutil"
	"github.com/storacha/kfs/cmd/cliutil/format"
	"github.com/storacha/kfs/pkg/shard"
	"github.com/storacha/kfs/pkg/table"
)

var statCmd = &cobra.Command{
	Use:   "stat [key]",
	Short: "Show space used by shards",
	Long: `Show the space used and left in the shard key routes to, in the shard
selected with --shard, or in every shard present on disk when neither is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, human, err := outputFormatter(cmd)
		if err != nil {
			return err
		}
		index, err := cliutil.ShardIndex(cmd)
		if err != nil {
			return err
		}

		return cliutil.WithTable(cmd.Context(), func(tbl *table.Table) error {
			var stats []shard.Stats
			switch {
			case len(args) == 1:
				st, err := tbl.StatKey(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				stats = []shard.Stats{st}
			case index >= 0:
				st, err := tbl.StatShard(cmd.Context(), index)
				if err != nil {
					return err
				}
				stats = []shard.Stats{st}
			default:
				stats, err = tbl.Stat(cmd.Context())
				if err != nil {
					return err
				}
			}

			if err := formatter.Format(stats); err != nil {
				return err
			}
			if human && len(stats) > 1 {
				used := lo.SumBy(stats, func(st shard.Stats) int64 { return st.Used })
				fmt.Fprintf(cmd.OutOrStdout(), "%d shards, %s used\n", len(stats), humanize.IBytes(uint64(max(used, 0))))
			}
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list [key]",
	Short: "List the files in a shard",
	Long: `List the files in the shard key routes to, or in the shard selected with
--shard. Sizes are rounded up to whole chunks.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, _, err := outputFormatter(cmd)
		if err != nil {
			return err
		}
		index, err := cliutil.ShardIndex(cmd)
		if err != nil {
			return err
		}
		if len(args) == 0 && index < 0 {
			return fmt.Errorf("a key or --shard is required")
		}

		return cliutil.WithTable(cmd.Context(), func(tbl *table.Table) error {
			var entries []shard.Entry
			if len(args) == 1 {
				entries, err = tbl.List(cmd.Context(), args[0])
			} else {
				entries, err = tbl.ListShard(cmd.Context(), index)
			}
			if err != nil {
				return err
			}
			return formatter.Format(entries)
		})
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Repair and compact every shard on disk",
	Long: `Flush locks each shard present on disk in turn, repairs its store and
compacts it so that stat reports accurate sizes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cliutil.WithTable(cmd.Context(), func(tbl *table.Table) error {
			// a shard is only flushed once it has been used, so touch every
			// shard on disk first
			stats, err := tbl.Stat(cmd.Context())
			if err != nil {
				return err
			}
			if err := tbl.Flush(cmd.Context()); err != nil {
				return err
			}
			log.Infow("flushed table", "path", tbl.Path(), "shards", len(stats))
			return nil
		})
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show how the table is configured",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tbl, cfg, err := cliutil.OpenTable()
		if err != nil {
			return err
		}
		cliutil.PrintTableConfig(cmd.OutOrStdout(), tbl, cfg)
		return tbl.Close(cmd.Context())
	},
}

func outputFormatter(cmd *cobra.Command) (format.Formatter, bool, error) {
	raw, err := cmd.Flags().GetString("format")
	if err != nil {
		return nil, false, err
	}
	f, err := format.ParseOutputFormat(raw)
	if err != nil {
		return nil, false, err
	}
	human, err := cmd.Flags().GetBool("human")
	if err != nil {
		return nil, false, err
	}
	return format.NewFormatter(f, cmd.OutOrStdout(), human), human, nil
}

func init() {
	for _, c := range []*cobra.Command{statCmd, listCmd} {
		flags.SetupOutputFlags(c.Flags())
		c.Flags().Int("shard", 0, "Shard index")
	}
}

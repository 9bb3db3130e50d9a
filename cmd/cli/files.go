package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/storacha/kfs/cmd/cliutil"
	"github.com/storacha/kfs/pkg/table"
)

var writeCmd = &cobra.Command{
	Use:   "write <key> [file]",
	Short: "Store a file under key",
	Long:  `Store the content of file, or of stdin when no file is given, under key. Anything previously stored under key is replaced.`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 2 {
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("opening input: %w", err)
			}
			defer f.Close()
			in = f
		}

		return cliutil.WithTable(cmd.Context(), func(tbl *table.Table) error {
			ws, err := tbl.CreateWriteStream(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			n, err := io.Copy(ws, in)
			if err != nil {
				if derr := ws.Destroy(cmd.Context()); derr != nil {
					log.Warnw("failed to remove partial file", "key", args[0], "error", derr)
				}
				return fmt.Errorf("writing %s: %w", args[0], err)
			}
			if err := ws.Close(); err != nil {
				return fmt.Errorf("writing %s: %w", args[0], err)
			}
			log.Infow("stored file", "key", tbl.Normalize(args[0]), "bytes", n)
			return nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <key> [file]",
	Short: "Print the file stored under key",
	Long:  `Write the content stored under key to file, or to stdout when no file is given.`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 2 {
			f, err := os.Create(args[1])
			if err != nil {
				return fmt.Errorf("creating output: %w", err)
			}
			defer f.Close()
			out = f
		}

		return cliutil.WithTable(cmd.Context(), func(tbl *table.Table) error {
			rs, err := tbl.CreateReadStream(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer rs.Close()
			if _, err := io.Copy(out, rs); err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			return nil
		})
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <key>",
	Short: "Remove the file stored under key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cliutil.WithTable(cmd.Context(), func(tbl *table.Table) error {
			return tbl.Unlink(cmd.Context(), args[0])
		})
	},
}

var existsCmd = &cobra.Command{
	Use:   "exists <key>",
	Short: "Report whether a file is stored under key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cliutil.WithTable(cmd.Context(), func(tbl *table.Table) error {
			ok, err := tbl.Exists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), lo.Ternary(ok, "true", "false"))
			return nil
		})
	},
}

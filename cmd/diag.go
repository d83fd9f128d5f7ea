// File: cmd/diag.go
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
	"github.com/xkilldash9x/articlemail/internal/config"
	"github.com/xkilldash9x/articlemail/internal/diag"
	"github.com/xkilldash9x/articlemail/internal/observability"
)

func newDiagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diag",
		Short: "Read trace events from the log file",
	}
	cmd.PersistentFlags().String("file", "", "log file to read (default: logger.log_file)")
	cmd.PersistentFlags().String("name", "", "only show records whose name starts with this")
	cmd.AddCommand(newDiagDumpCmd(), newDiagFollowCmd())
	return cmd
}

func diagLogFile(cmd *cobra.Command, cfg *config.Config) (string, error) {
	if f, _ := cmd.Flags().GetString("file"); f != "" {
		return f, nil
	}
	if p := observability.ResolveLogFile(cfg.Logger()); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("no log file configured; set logger.log_file or pass --file")
}

func nameFilter(cmd *cobra.Command) func(diag.Record) bool {
	prefix, _ := cmd.Flags().GetString("name")
	return func(r diag.Record) bool { return strings.HasPrefix(r.Name, prefix) }
}

// readTrace collects the trace records of r into a ring of the given
// capacity, so only the newest survive.
func readTrace(r io.Reader, capacity int, keep func(diag.Record) bool) ([]diag.Record, error) {
	ring := diag.NewRing[diag.Record](capacity)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		rec, ok := diag.ParseLogLine(sc.Bytes())
		if ok && keep(rec) {
			ring.WriteOne(rec)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return ring.ReadAll(), nil
}

func newDiagDumpCmd() *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the most recent trace records as a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			path, err := diagLogFile(cmd, cfg)
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			if last <= 0 {
				last = cfg.Diagnostics().RecentWindow
			}
			recs, err := readTrace(f, max(last, 1), nameFilter(cmd))
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No trace records.")
				return err
			}
			return diag.WriteTable(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().IntVarP(&last, "last", "n", 0, "number of records (default: diagnostics.recent_window)")
	return cmd
}

func newDiagFollowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow",
		Short: "Print trace records as they are written",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			path, err := diagLogFile(cmd, cfg)
			if err != nil {
				return err
			}
			return followTrace(cmd.Context(), cmd.OutOrStdout(), path, nameFilter(cmd))
		},
	}
}

func followTrace(ctx context.Context, w io.Writer, path string, keep func(diag.Record) bool) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail log file: %w", err)
	}
	defer func() {
		t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				continue
			}
			rec, ok := diag.ParseLogLine([]byte(line.Text))
			if !ok || !keep(rec) {
				continue
			}
			if err := diag.WriteTable(w, []diag.Record{rec}); err != nil {
				return err
			}
		}
	}
}

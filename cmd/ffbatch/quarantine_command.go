package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ffbatch/internal/ledger"
	"ffbatch/internal/quarantine"
	"ffbatch/internal/textutil"
)

func newQuarantineCommand(ctx *commandContext) *cobra.Command {
	quarantineCmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Inspect or clear failed-encode records",
	}
	quarantineCmd.AddCommand(newQuarantineListCommand(ctx))
	quarantineCmd.AddCommand(newQuarantineClearCommand(ctx))
	return quarantineCmd
}

func newQuarantineListCommand(ctx *commandContext) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "list [dirs...]",
		Short: "List failed-encode records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := ctx.workspaceFor(args)
			if err != nil {
				return err
			}
			entries, err := quarantine.NewStore(ws.QuarantineDir, ws.ErrorsDir).List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "Quarantine is empty")
				return nil
			}
			fmt.Fprintln(out, renderQuarantine(entries))
			if verbose {
				for _, e := range entries {
					fmt.Fprintf(out, "\n%s\n", e.File)
					for _, line := range e.Record.Transcript {
						fmt.Fprintf(out, "  %s\n", line)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print each record's encoder transcript")
	return cmd
}

func newQuarantineClearCommand(ctx *commandContext) *cobra.Command {
	var resetCounts bool

	cmd := &cobra.Command{
		Use:   "clear [dirs...]",
		Short: "Delete failed-encode records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := ctx.workspaceFor(args)
			if err != nil {
				return err
			}
			removed, err := quarantine.NewStore(ws.QuarantineDir, ws.ErrorsDir).Clear()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Removed %d quarantine records\n", removed)
			if !resetCounts {
				return nil
			}
			return withJournal(ws, func(j *ledger.Journal) error {
				cleared, err := j.ClearFailures(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Reset failure counts for %d files\n", cleared)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&resetCounts, "reset-counts", false, "Also reset failure counts so capped files are retried")
	return cmd
}

func renderQuarantine(entries []quarantine.Entry) string {
	headers := []string{"File", "Engine", "Exit", "Error", "Recorded"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			filepath.Base(e.Record.Path),
			e.Record.Engine,
			strconv.Itoa(e.Record.ExitCode),
			textutil.Truncate(e.Record.Error, 48),
			humanize.Time(e.Record.RecordedAt),
		})
	}
	return renderTable(headers, rows, aligns, nil)
}

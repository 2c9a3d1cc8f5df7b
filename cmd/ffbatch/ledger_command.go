package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ffbatch/internal/checkpoint"
	"ffbatch/internal/ledger"
	"ffbatch/internal/workspace"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "ledger [dirs...]",
		Short: "List completed encode attempts for the given directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := ctx.workspaceFor(args)
			if err != nil {
				return err
			}
			cfg, _ := ctx.ensureConfig()
			l, err := loadLedger(cmd.Context(), ws, checkpoint.NewStore(ws.CheckpointPath, cliLogger(cfg)))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			records := l.Records()
			if len(records) == 0 {
				fmt.Fprintf(out, "No completed encodes recorded for %s\n", ws.Root)
				return nil
			}
			if limit > 0 && len(records) > limit {
				records = records[len(records)-limit:]
			}
			fmt.Fprintln(out, renderLedger(records, l.SavedBytes()))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show only the most recent N records")
	return cmd
}

// loadLedger combines the journal with the checkpoint's copy of the ledger.
func loadLedger(ctx context.Context, ws *workspace.Workspace, cps *checkpoint.Store) (*ledger.Ledger, error) {
	l := ledger.New()
	err := withJournal(ws, func(j *ledger.Journal) error {
		records, err := j.Records(ctx)
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		l.Merge(records)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cp := cps.Load(); cp != nil {
		l.Merge(cp.CompletedLedger)
	}
	return l, nil
}

// withJournal opens the workspace journal for fn. A workspace that has never
// run has no journal; fn is skipped rather than creating one.
func withJournal(ws *workspace.Workspace, fn func(*ledger.Journal) error) error {
	if _, err := os.Stat(ws.JournalPath); err != nil {
		return nil
	}
	journal, err := ledger.OpenJournal(ws.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()
	return fn(journal)
}

func renderLedger(records []ledger.Record, saved int64) string {
	headers := []string{"File", "Outcome", "Original", "New", "Saved", "Ratio", "Speed", "Elapsed", "Finished"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		outcome := r.Outcome()
		if r.Replaced {
			outcome += " (replaced)"
		}
		rows = append(rows, []string{
			filepath.Base(r.Path),
			outcome,
			formatBytes(r.OriginalSize),
			formatBytes(r.NewSize),
			formatBytes(r.Saved()),
			fmt.Sprintf("%.2f", r.Ratio()),
			fmt.Sprintf("%.2fx", r.AverageSpeed),
			formatDuration(r.Elapsed),
			humanize.Time(r.StartedAt.Add(r.Elapsed)),
		})
	}
	footer := []string{fmt.Sprintf("%d records", len(records)), "", "", "", formatBytes(saved)}
	return renderTable(headers, rows, aligns, footer)
}

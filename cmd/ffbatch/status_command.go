package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ffbatch/internal/checkpoint"
	"ffbatch/internal/config"
	"ffbatch/internal/ledger"
	"ffbatch/internal/quarantine"
	"ffbatch/internal/workspace"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [dirs...]",
		Short: "Show persisted progress for the given directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := ctx.workspaceFor(args)
			if err != nil {
				return err
			}
			cfg, _ := ctx.ensureConfig()
			out := cmd.OutOrStdout()
			lines, err := statusLines(cmd.Context(), cfg, ws, shouldColorize(out))
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func statusLines(ctx context.Context, cfg *config.Config, ws *workspace.Workspace, colorize bool) ([]string, error) {
	lines := renderSectionHeader("ffbatch status", colorize)
	lines = append(lines, renderStatusLine("Workspace", statusInfo, ws.Root, colorize))

	if pid, err := ws.HolderPID(); err == nil {
		lines = append(lines, renderStatusLine("Process", statusOK, fmt.Sprintf("running (pid %d)", pid), colorize))
	} else {
		lines = append(lines, renderStatusLine("Process", statusInfo, "not running", colorize))
	}

	cps := checkpoint.NewStore(ws.CheckpointPath, cliLogger(cfg))
	cp := cps.Load()
	switch {
	case cp == nil:
		lines = append(lines, renderStatusLine("Checkpoint", statusInfo, "none (next run discovers from scratch)", colorize))
	case cp.IsStale(time.Now(), cfg.StaleAfter()):
		lines = append(lines, renderStatusLine("Checkpoint", statusWarn,
			fmt.Sprintf("created %s; stale, next run rediscovers", humanize.Time(cp.CreationTime)), colorize))
	default:
		lines = append(lines, renderStatusLine("Checkpoint", statusOK,
			fmt.Sprintf("created %s, saved %s", humanize.Time(cp.CreationTime), humanize.Time(cp.SavedAt)), colorize))
	}
	if cp != nil {
		lines = append(lines, renderStatusLine("Pending", statusInfo,
			fmt.Sprintf("%d files (%s)", len(cp.PendingPaths), formatBytes(cp.TotalSize)), colorize))
		if cp.NeedsRescan {
			lines = append(lines, renderStatusLine("Rescan", statusWarn, "requested for the next cycle", colorize))
		}
	}

	l, err := loadLedger(ctx, ws, cps)
	if err != nil {
		return nil, err
	}
	lines = append(lines, renderStatusLine("Completed", statusInfo,
		fmt.Sprintf("%d records, %s saved", l.Len(), formatBytes(l.SavedBytes())), colorize))

	var failures []ledger.Failure
	if err := withJournal(ws, func(j *ledger.Journal) error {
		var ferr error
		failures, ferr = j.Failures(ctx)
		return ferr
	}); err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		capped := 0
		for _, f := range failures {
			if cfg.Batch.MaxFailedAttempts > 0 && f.Count >= cfg.Batch.MaxFailedAttempts {
				capped++
			}
		}
		lines = append(lines, renderStatusLine("Failed files", statusWarn,
			fmt.Sprintf("%d tracked, %d at the retry cap", len(failures), capped), colorize))
	}

	entries, err := quarantine.NewStore(ws.QuarantineDir, ws.ErrorsDir).List()
	if err != nil {
		return nil, err
	}
	kind := statusOK
	if len(entries) > 0 {
		kind = statusWarn
	}
	lines = append(lines, renderStatusLine("Quarantine", kind, fmt.Sprintf("%d records", len(entries)), colorize))
	return lines, nil
}

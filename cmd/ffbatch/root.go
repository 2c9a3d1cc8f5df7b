package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var flags runFlags

	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:   "ffbatch [dirs...]",
		Short: "Re-encode media libraries in place, keeping only smaller outputs",
		Long: `ffbatch walks the given directories (default: the current one), encodes
every media file largest first, and keeps an output only when it is smaller
than its source. Progress survives restarts: rerunning over the same
directories resumes where the previous run stopped.

Signals: SIGINT/SIGTERM stop after in-flight jobs (a second SIGINT kills
them), SIGUSR1 toggles pause, SIGUSR2 requests a rescan.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, ctx, args, flags)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	f := rootCmd.Flags()
	f.BoolVar(&flags.force, "force", false, "Re-encode files whose previous attempt was aborted")
	f.BoolVar(&flags.retryFailed, "retry-failed", false, "Reset failure counts so capped files are retried")
	f.BoolVar(&flags.watch, "watch", false, "Keep running and encode files added to the directories")
	f.BoolVar(&flags.overwrite, "overwrite", false, "Replace sources with smaller outputs")
	f.IntVarP(&flags.concurrency, "concurrency", "j", 0, "Number of simultaneous encodes (default from config)")
	f.DurationVar(&flags.statusInterval, "status-interval", 30*time.Second, "How often to print progress (0 disables)")

	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newLedgerCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newQuarantineCommand(ctx))
	rootCmd.AddCommand(newRescanCommand(ctx))
	rootCmd.AddCommand(newDepsCommand(ctx))

	return rootCmd
}

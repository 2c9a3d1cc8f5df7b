package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"ffbatch/internal/checkpoint"
)

func newRescanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rescan [dirs...]",
		Short: "Ask for the directories to be rediscovered",
		Long: `When ffbatch is running over the directories, rescan signals it to
rediscover files before its next dequeue. Otherwise the saved checkpoint is
marked so the next run rediscovers instead of trusting its pending list.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := ctx.workspaceFor(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if pid, err := ws.HolderPID(); err == nil {
				if err := unix.Kill(pid, unix.SIGUSR2); err != nil {
					return fmt.Errorf("signal pid %d: %w", pid, err)
				}
				fmt.Fprintf(out, "Requested rescan from running ffbatch (pid %d)\n", pid)
				return nil
			}

			cfg, _ := ctx.ensureConfig()
			cps := checkpoint.NewStore(ws.CheckpointPath, cliLogger(cfg))
			cp := cps.Load()
			if cp == nil {
				fmt.Fprintln(out, "No checkpoint; the next run discovers from scratch")
				return nil
			}
			cp.NeedsRescan = true
			if err := cps.Save(*cp); err != nil {
				return err
			}
			fmt.Fprintln(out, "Checkpoint marked; the next run rediscovers")
			return nil
		},
	}
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"ffbatch/internal/logging"
)

// batchControl is the part of the scheduler driven by signals.
type batchControl interface {
	Stop()
	ForceStop()
	TogglePause() bool
	RequestRescan()
}

// handleSignals routes process signals to ctl until ctx ends or the
// returned stop function is called.
func handleSignals(ctx context.Context, ctl batchControl, logger *slog.Logger) func() {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM, unix.SIGUSR1, unix.SIGUSR2)
	done := make(chan struct{})
	go func() {
		interrupts := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case sig := <-ch:
				interrupts = dispatchSignal(sig, ctl, interrupts, logger)
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// dispatchSignal applies one signal and returns the updated interrupt count.
// The first SIGINT or SIGTERM stops cooperatively; a repeat forces.
func dispatchSignal(sig os.Signal, ctl batchControl, interrupts int, logger *slog.Logger) int {
	switch sig {
	case unix.SIGINT, unix.SIGTERM:
		interrupts++
		if interrupts == 1 {
			logger.Info("stop requested; finishing in-flight jobs (interrupt again to kill them)",
				logging.String("signal", sig.String()),
			)
			ctl.Stop()
		} else {
			ctl.ForceStop()
		}
	case unix.SIGUSR1:
		if ctl.TogglePause() {
			logger.Info("paused; send SIGUSR1 again to resume")
		}
	case unix.SIGUSR2:
		ctl.RequestRescan()
	}
	return interrupts
}

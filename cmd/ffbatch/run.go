package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ffbatch/internal/checkpoint"
	"ffbatch/internal/config"
	"ffbatch/internal/encoder"
	"ffbatch/internal/jobrunner"
	"ffbatch/internal/ledger"
	"ffbatch/internal/logging"
	"ffbatch/internal/preflight"
	"ffbatch/internal/quarantine"
	"ffbatch/internal/scheduler"
	"ffbatch/internal/services"
	"ffbatch/internal/workspace"
)

type runFlags struct {
	force          bool
	retryFailed    bool
	watch          bool
	overwrite      bool
	concurrency    int
	statusInterval time.Duration
}

// apply folds explicitly set flags over cfg and revalidates it.
func (f runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("watch") {
		cfg.Batch.Watch = f.watch
	}
	if changed("overwrite") {
		cfg.Batch.Overwrite = f.overwrite
	}
	if changed("concurrency") {
		cfg.Batch.Concurrency = f.concurrency
	}
	return cfg.Validate()
}

func runBatch(cmd *cobra.Command, ctx *commandContext, dirs []string, flags runFlags) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	roots, err := resolveRoots(dirs)
	if err != nil {
		return err
	}
	if err := flags.apply(cmd, cfg); err != nil {
		return withExitCode(exitFatalStartup, err)
	}
	if err := checkReadiness(cfg, roots); err != nil {
		return withExitCode(exitFatalStartup, err)
	}

	ws, err := workspace.Resolve(cfg.Paths.StateDir, roots)
	if err != nil {
		return withExitCode(exitFatalStartup, err)
	}
	if err := ws.Ensure(); err != nil {
		return withExitCode(exitFatalStartup, err)
	}
	if err := ws.Lock(); err != nil {
		return withExitCode(exitFatalStartup, err)
	}
	defer ws.Unlock()

	sessionID := uuid.NewString()
	logPath := logging.RunLogPath(cfg.Paths.LogDir, time.Now())
	logger, err := logging.NewFromConfig(cfg, logPath, sessionID)
	if err != nil {
		return withExitCode(exitFatalStartup, fmt.Errorf("init logger: %w", err))
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "ffbatch-*.log", Exclude: []string{logPath}},
	)

	runCtx, cancel := context.WithCancel(services.WithSessionID(cmd.Context(), sessionID))
	defer cancel()

	journal, err := ledger.OpenJournal(ws.JournalPath)
	if err != nil {
		return withExitCode(exitFatalStartup, err)
	}
	defer journal.Close()

	if flags.retryFailed {
		cleared, err := journal.ClearFailures(runCtx)
		if err != nil {
			return fmt.Errorf("reset failure counts: %w", err)
		}
		logger.Info("failure counts reset", logging.Int64("files", cleared))
	}

	enc, err := encoder.New(cfg)
	if err != nil {
		return withExitCode(exitFatalStartup, err)
	}
	runner := jobrunner.New(enc, ws, quarantine.NewStore(ws.QuarantineDir, ws.ErrorsDir), jobrunner.OptionsFromConfig(cfg), logger)
	opts := scheduler.OptionsFromConfig(cfg)
	opts.Force = flags.force
	sched := scheduler.New(opts, runner, ws, checkpoint.NewStore(ws.CheckpointPath, logger), journal, logger)

	logging.WithContext(runCtx, logger).Info("batch starting",
		logging.String(logging.FieldEventType, "batch_start"),
		logging.String("workspace", ws.Root),
		logging.String("roots", strings.Join(ws.Roots, ", ")),
		logging.String("engine", enc.Name()),
		logging.Int("concurrency", opts.Concurrency),
		logging.Bool("overwrite", cfg.Batch.Overwrite),
		logging.Bool("watch", opts.Watch),
		logging.String("run_log", logPath),
	)

	stopSignals := handleSignals(runCtx, sched, logger)
	defer stopSignals()
	out := cmd.OutOrStdout()
	go reportStatus(runCtx, sched, out, flags.statusInterval, shouldColorize(out))

	summary, err := sched.Run(runCtx)
	cancel()
	if errors.Is(err, scheduler.ErrNoMediaFiles) {
		return withExitCode(exitNoMedia, fmt.Errorf("no media files found under %s", strings.Join(ws.Roots, ", ")))
	}
	for _, line := range renderSummary(summary, shouldColorize(out)) {
		fmt.Fprintln(out, line)
	}
	if err != nil {
		logging.ErrorWithContext(logger, "batch finished with errors", "batch_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
		)
		return err
	}
	return nil
}

// checkReadiness runs the directory and binary preflight checks.
func checkReadiness(cfg *config.Config, roots []string) error {
	var problems []string
	for _, r := range preflight.Failed(preflight.RunAll(cfg, roots)) {
		problems = append(problems, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	for _, s := range preflight.MissingRequired(preflight.CheckSystemDeps(cfg)) {
		problems = append(problems, fmt.Sprintf("%s: %s", s.Name, s.Detail))
	}
	if len(problems) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "preflight", "check readiness", strings.Join(problems, "; "), nil)
}

// reportStatus prints a snapshot every interval until ctx ends.
func reportStatus(ctx context.Context, sched *scheduler.Scheduler, out io.Writer, interval time.Duration, colorize bool) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, line := range renderSnapshot(sched.Snapshot(), colorize) {
				fmt.Fprintln(out, line)
			}
		}
	}
}

// cliLogger returns a console logger for the inspection subcommands.
func cliLogger(cfg *config.Config) *slog.Logger {
	logger, err := logging.NewFromConfig(cfg, "", "")
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

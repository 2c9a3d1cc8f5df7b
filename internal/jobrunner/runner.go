package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ffbatch/internal/catalog"
	"ffbatch/internal/config"
	"ffbatch/internal/encoder"
	"ffbatch/internal/fileutil"
	"ffbatch/internal/ledger"
	"ffbatch/internal/logging"
	"ffbatch/internal/quarantine"
	"ffbatch/internal/services"
	"ffbatch/internal/workspace"
)

// Options configures a Runner.
type Options struct {
	Overwrite       bool
	AbortGrace      time.Duration
	Encoder         config.Encoder
	TranscriptLines int
}

// OptionsFromConfig derives runner options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Overwrite:  cfg.Batch.Overwrite,
		AbortGrace: cfg.AbortGrace(),
		Encoder:    cfg.Encoder,
	}
}

// Status is the live view of a running job.
type Status struct {
	Percent    float64
	Speed      float64
	Phase      string
	OutputSize int64
}

// Outcome is the terminal result of Run.
type Outcome struct {
	State State
	// Record is set for Succeeded and Aborted.
	Record         *ledger.Record
	ExitCode       int
	QuarantinePath string
	CrashPath      string
	// FinalPath is where a kept or promoted output ended up.
	FinalPath string
	Err       error
}

// Runner executes encodes against one workspace.
type Runner struct {
	enc        encoder.Encoder
	ws         *workspace.Workspace
	quarantine *quarantine.Store
	opts       Options
	logger     *slog.Logger
	engine     string

	cleanups sync.WaitGroup
}

// New constructs a Runner.
func New(enc encoder.Encoder, ws *workspace.Workspace, q *quarantine.Store, opts Options, logger *slog.Logger) *Runner {
	return &Runner{
		enc:        enc,
		ws:         ws,
		quarantine: q,
		opts:       opts,
		logger:     logging.NewComponentLogger(logger, "jobrunner"),
		engine:     enc.Name(),
	}
}

// WaitCleanups blocks until delayed deletions of aborted outputs finish.
func (r *Runner) WaitCleanups() {
	r.cleanups.Wait()
}

// job is the mutable state of one run. Progress callbacks touch it from the
// encoder's goroutines.
type job struct {
	item      catalog.WorkItem
	attemptID string
	original  int64
	started   time.Time
	output    string

	handle  atomic.Pointer[handleBox]
	cancel  context.CancelFunc
	aborted atomic.Bool
	// abortSize is the output size observed when the guard tripped.
	abortSize atomic.Int64

	mu         sync.Mutex
	fault      error
	faultStack string
	speedSum   float64
	speedN     int
	sampler    *logging.ProgressSampler
	lines      *transcript
}

type handleBox struct{ h encoder.Handle }

func (j *job) outputPath() string {
	if box := j.handle.Load(); box != nil {
		return box.h.OutputPath()
	}
	return j.output
}

// recoverFault turns a panic inside a progress callback into a recorded fault
// and stops the encode.
func (j *job) recoverFault() {
	rec := recover()
	if rec == nil {
		return
	}
	j.mu.Lock()
	if j.fault == nil {
		j.fault = fmt.Errorf("panic in progress handler: %v", rec)
		j.faultStack = string(debug.Stack())
	}
	j.mu.Unlock()
	if box := j.handle.Load(); box != nil {
		_ = box.h.Kill()
	} else {
		j.cancel()
	}
}

func (j *job) faulted() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.faultStack, j.fault
}

func (j *job) averageSpeed() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.speedN == 0 {
		return 0
	}
	return j.speedSum / float64(j.speedN)
}

// Run encodes item. onStatus, when set, receives every progress tick; it must
// not block. Run never panics.
func (r *Runner) Run(ctx context.Context, item catalog.WorkItem, attemptID string, onStatus func(Status)) (out Outcome) {
	ctx = services.WithPath(ctx, item.Path)
	ctx = services.WithAttemptID(ctx, attemptID)
	logger := logging.WithContext(ctx, r.logger)

	stage := "prepare"
	defer func() {
		if rec := recover(); rec != nil {
			out = r.abandon(logger, item, attemptID, stage, fmt.Errorf("panic: %v", rec), string(debug.Stack()))
		}
	}()

	info, err := os.Stat(item.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("source vanished before encode", logging.String(logging.FieldEventType, "job_skipped"))
			return Outcome{State: StateSkipped, Err: services.Wrap(services.ErrNotFound, "jobrunner", "stat source", item.Path, err)}
		}
		return r.abandon(logger, item, attemptID, stage, err, "")
	}
	if info.Size() == 0 {
		// Nothing to compare an output against yet; wait for content.
		logger.Info("source is empty; deferring encode", logging.String(logging.FieldEventType, "job_deferred"))
		return Outcome{State: StateDeferred}
	}

	j := &job{
		item:      item,
		attemptID: attemptID,
		original:  info.Size(),
		started:   time.Now(),
		output:    r.ws.TempOutputPath(item.Path, attemptID),
		sampler:   logging.NewProgressSampler(10),
		lines:     newTranscript(r.opts.TranscriptLines),
	}

	stage = "launch"
	encCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	j.cancel = cancel

	req := encoder.Request{
		Input:   item.Path,
		Output:  j.output,
		Options: r.opts.Encoder,
		OnLine:  j.lines.add,
		OnProgress: func(p encoder.Progress) {
			defer j.recoverFault()
			r.onProgress(logger, j, p, onStatus)
		},
	}
	logger.Info("encode started",
		logging.String(logging.FieldEventType, "job_started"),
		logging.Int64("original_bytes", j.original),
		logging.String("engine", r.engine),
	)
	handle, err := r.enc.Start(encCtx, req)
	if err != nil {
		r.removeOutput(j.output)
		return r.abandon(logger, item, attemptID, stage, err, "")
	}
	j.handle.Store(&handleBox{h: handle})
	if j.aborted.Load() {
		_ = handle.Kill()
	}

	stage = "encode"
	exit := handle.Wait()
	elapsed := time.Since(j.started)
	output := handle.OutputPath()

	stage = "classify"
	if stack, fault := j.faulted(); fault != nil {
		r.removeOutput(output)
		return r.abandon(logger, item, attemptID, "progress", fault, stack)
	}
	switch {
	case j.aborted.Load():
		return r.finishAborted(logger, j, handle, elapsed)
	case ctx.Err() != nil:
		r.removeOutput(output)
		logger.Info("encode interrupted by shutdown", logging.String(logging.FieldEventType, "job_interrupted"))
		return Outcome{State: StateInterrupted, Err: ctx.Err()}
	case !exit.Success():
		return r.finishFailed(logger, j, handle, exit, "")
	}

	newSize := fileutil.FileSize(output)
	if newSize < 0 {
		return r.finishFailed(logger, j, handle, exit, "encoder reported success but produced no output")
	}

	rec := ledger.Record{
		AttemptID:     attemptID,
		Path:          item.Path,
		StartedAt:     j.started.UTC(),
		Elapsed:       elapsed,
		OriginalSize:  j.original,
		NewSize:       newSize,
		MediaDuration: handle.MediaDuration(),
		AverageSpeed:  j.averageSpeed(),
		Successful:    true,
	}
	if newSize >= j.original {
		r.removeOutput(output)
		logger.Info("encode finished without savings; source kept",
			logging.String(logging.FieldEventType, "job_no_savings"),
			logging.Int64("original_bytes", j.original),
			logging.Int64("output_bytes", newSize),
		)
		return Outcome{State: StateSucceeded, Record: &rec}
	}

	stage = "promote"
	finalPath, replaced, err := r.place(logger, item.Path, output)
	if err != nil {
		r.removeOutput(output)
		return r.abandon(logger, item, attemptID, stage, err, "")
	}
	r.removeOutput(output)
	rec.Replaced = replaced
	if replaced && finalPath != item.Path {
		rec.FinalPath = finalPath
	}
	logger.Info("encode succeeded",
		logging.String(logging.FieldEventType, "job_succeeded"),
		logging.Int64("original_bytes", j.original),
		logging.Int64("output_bytes", newSize),
		logging.Int64("saved_bytes", rec.Saved()),
		logging.Bool("replaced", replaced),
		logging.String("final_path", finalPath),
		logging.Duration("elapsed", elapsed),
	)
	return Outcome{State: StateSucceeded, Record: &rec, FinalPath: finalPath}
}

func (r *Runner) onProgress(logger *slog.Logger, j *job, p encoder.Progress, onStatus func(Status)) {
	size := fileutil.FileSize(j.outputPath())

	j.mu.Lock()
	if p.Speed > 0 {
		j.speedSum += p.Speed
		j.speedN++
	}
	shouldLog := j.sampler.ShouldLog(p.Percent, p.Phase)
	j.mu.Unlock()

	if onStatus != nil {
		onStatus(Status{Percent: p.Percent, Speed: p.Speed, Phase: p.Phase, OutputSize: size})
	}
	if shouldLog {
		logger.Debug("encode progress",
			logging.Float64(logging.FieldProgressPercent, p.Percent),
			logging.Float64(logging.FieldProgressSpeed, p.Speed),
			logging.Int64("output_bytes", size),
		)
	}

	if size >= j.original && size > 0 && j.aborted.CompareAndSwap(false, true) {
		j.abortSize.Store(size)
		if box := j.handle.Load(); box != nil {
			_ = box.h.Kill()
		} else {
			j.cancel()
		}
	}
}

func (r *Runner) finishAborted(logger *slog.Logger, j *job, handle encoder.Handle, elapsed time.Duration) Outcome {
	output := handle.OutputPath()
	r.removeOutputAfter(output, r.opts.AbortGrace)
	rec := ledger.Record{
		AttemptID:     j.attemptID,
		Path:          j.item.Path,
		StartedAt:     j.started.UTC(),
		Elapsed:       elapsed,
		OriginalSize:  j.original,
		NewSize:       j.abortSize.Load(),
		MediaDuration: handle.MediaDuration(),
		AverageSpeed:  j.averageSpeed(),
		Successful:    false,
	}
	logging.WarnWithContext(logger, "encode aborted: output grew past source size", "job_aborted",
		logging.Int64("original_bytes", j.original),
		logging.Int64("output_bytes", rec.NewSize),
		logging.Duration("elapsed", elapsed),
		logging.String(logging.FieldImpact, "source left untouched and marked as not improvable"),
		logging.String(logging.FieldErrorHint, "rerun with --force to retry with different encoder settings"),
	)
	return Outcome{State: StateAborted, Record: &rec}
}

func (r *Runner) finishFailed(logger *slog.Logger, j *job, handle encoder.Handle, exit encoder.Exit, reason string) Outcome {
	r.removeOutput(handle.OutputPath())
	errText := reason
	if exit.Err != nil {
		errText = strings.TrimSpace(strings.Join([]string{reason, exit.Err.Error()}, " "))
	}
	qPath, qErr := r.quarantine.WriteFailure(quarantine.FailureRecord{
		Path:       j.item.Path,
		AttemptID:  j.attemptID,
		Engine:     r.engine,
		ExitCode:   exit.ExitCode,
		Args:       handle.Args(),
		Transcript: j.lines.snapshot(),
		Error:      errText,
	})
	if qErr != nil {
		logging.WarnWithContext(logger, "could not write quarantine record", "quarantine_write_failed",
			logging.Error(qErr),
			logging.String(logging.FieldImpact, "encoder transcript for this failure is lost"),
		)
	}
	err := services.Wrap(services.ErrExternalTool, "jobrunner", "encode",
		fmt.Sprintf("%s exited with code %d", r.engine, exit.ExitCode), exit.Err)
	logging.ErrorWithContext(logger, "encode failed", "job_failed",
		logging.Int("exit_code", exit.ExitCode),
		logging.String("quarantine_path", qPath),
		logging.Error(err),
		logging.String(logging.FieldImpact, "file stays pending and is retried on the next run"),
		logging.String(logging.FieldErrorHint, services.Hint(err)),
	)
	return Outcome{State: StateFailed, ExitCode: exit.ExitCode, QuarantinePath: qPath, Err: err}
}

func (r *Runner) abandon(logger *slog.Logger, item catalog.WorkItem, attemptID, stage string, cause error, stack string) Outcome {
	crashPath, err := r.quarantine.WriteCrash(quarantine.CrashRecord{
		Path:      item.Path,
		AttemptID: attemptID,
		Stage:     stage,
		Error:     cause.Error(),
		Stack:     stack,
	})
	if err != nil {
		logger.Warn("could not write crash record", logging.Error(err))
	}
	logging.ErrorWithContext(logger, "job abandoned after unexpected error", "job_abandoned",
		logging.String("stage", stage),
		logging.String("crash_path", crashPath),
		logging.Error(cause),
		logging.String(logging.FieldImpact, "file is retried on the next scheduling pass"),
	)
	return Outcome{State: StateAbandoned, CrashPath: crashPath, Err: cause}
}

// place moves a reduced output to its final location and reports whether it
// replaced the source.
func (r *Runner) place(logger *slog.Logger, source, output string) (string, bool, error) {
	if r.opts.Overwrite {
		dest, err := promote(source, output)
		if dest != "" {
			if err != nil {
				logging.WarnWithContext(logger, "promoted output but could not remove old source", "promote_partial",
					logging.Error(err),
					logging.String("final_path", dest),
					logging.String(logging.FieldImpact, "old source remains beside the encoded file"),
				)
			}
			return dest, true, nil
		}
		logging.WarnWithContext(logger, "could not replace source; keeping output aside", "promote_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "source left untouched; encoded copy kept in the workspace"),
			logging.String(logging.FieldErrorHint, "check permissions and free space next to the source"),
		)
	}
	kept := r.ws.KeptOutputPath(source, filepath.Ext(output))
	if err := fileutil.MoveFile(output, kept); err != nil {
		return "", false, fmt.Errorf("keep output: %w", err)
	}
	return kept, false, nil
}

// errDestinationTaken means a different file already sits where the output
// would be promoted to.
var errDestinationTaken = errors.New("promotion target already exists")

// promote replaces source with output. When the output uses a different
// container extension it lands beside the source under the new extension and
// the source is removed.
func promote(source, output string) (string, error) {
	dest := source
	srcExt := filepath.Ext(source)
	outExt := filepath.Ext(output)
	if !strings.EqualFold(srcExt, outExt) {
		dest = strings.TrimSuffix(source, srcExt) + outExt
		if _, err := os.Stat(dest); err == nil {
			return "", fmt.Errorf("%w: %s", errDestinationTaken, dest)
		}
	}
	if err := fileutil.MoveFile(output, dest); err != nil {
		return "", fmt.Errorf("promote over source: %w", err)
	}
	if dest != source {
		if err := os.Remove(source); err != nil && !errors.Is(err, os.ErrNotExist) {
			return dest, fmt.Errorf("remove replaced source: %w", err)
		}
	}
	return dest, nil
}

func (r *Runner) removeOutputAfter(path string, grace time.Duration) {
	if grace <= 0 {
		r.removeOutput(path)
		return
	}
	r.cleanups.Add(1)
	go func() {
		defer r.cleanups.Done()
		time.Sleep(grace)
		r.removeOutput(path)
	}()
}

// removeOutput deletes an encode's output and any per-job directory the
// backend created under tmp.
func (r *Runner) removeOutput(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Debug("remove temp output failed", logging.Path(path), logging.Error(err))
	}
	dir := filepath.Dir(path)
	if filepath.Clean(dir) != filepath.Clean(r.ws.TmpDir) && strings.HasPrefix(dir, r.ws.TmpDir+string(filepath.Separator)) {
		_ = os.RemoveAll(dir)
	}
}

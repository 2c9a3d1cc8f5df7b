package encoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	draptolib "github.com/five82/drapto"

	"ffbatch/internal/services"
)

// Drapto encodes through the Drapto library in-process. Drapto names its own
// output (<input stem>.mkv inside an output directory), so each request gets
// a private directory derived from Request.Output.
type Drapto struct{}

// NewDrapto constructs a Drapto backend.
func NewDrapto() *Drapto { return &Drapto{} }

// Name identifies the backend.
func (d *Drapto) Name() string { return "drapto" }

// DraptoOutputDir returns the directory Drapto writes into for a request output path.
func DraptoOutputDir(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + ".drapto"
}

// Start begins an encode on a background goroutine. Kill cancels it.
func (d *Drapto) Start(ctx context.Context, req Request) (Handle, error) {
	if req.Input == "" || req.Output == "" {
		return nil, services.Wrap(services.ErrValidation, "encoder", "start", "input and output required", nil)
	}
	enc, err := draptolib.New(draptolib.WithResponsive())
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "encoder", "init drapto", "", err)
	}

	outDir := DraptoOutputDir(req.Output)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, "encoder", "prepare output dir", outDir, err)
	}
	base := filepath.Base(req.Input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &draptoHandle{
		cancel:  cancel,
		output:  filepath.Join(outDir, stem+".mkv"),
		args:    []string{"drapto", "encode", req.Input, outDir},
		done:    make(chan struct{}),
		started: time.Now(),
	}
	rep := &draptoReporter{handle: h, onLine: req.OnLine, onProgress: req.OnProgress}

	go func() {
		defer cancel()
		_, err := enc.EncodeWithReporter(runCtx, req.Input, outDir, rep)
		h.finish(err, runCtx.Err())
	}()
	return h, nil
}

type draptoHandle struct {
	cancel  context.CancelFunc
	output  string
	args    []string
	started time.Time
	done    chan struct{}

	mu       sync.Mutex
	duration time.Duration
	exit     Exit
}

func (h *draptoHandle) finish(err, ctxErr error) {
	switch {
	case err == nil:
		h.exit = Exit{ExitCode: 0}
	case ctxErr != nil || errors.Is(err, context.Canceled):
		h.exit = Exit{ExitCode: -1}
	default:
		h.exit = Exit{ExitCode: 1, Err: err}
	}
	close(h.done)
}

func (h *draptoHandle) Wait() Exit {
	<-h.done
	return h.exit
}

func (h *draptoHandle) Kill() error {
	h.cancel()
	return nil
}

func (h *draptoHandle) OutputPath() string { return h.output }

func (h *draptoHandle) Args() []string { return append([]string(nil), h.args...) }

func (h *draptoHandle) MediaDuration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.duration
}

// setSpeed derives media duration from wall time and the mean realtime
// speed, which is what Drapto reports at completion.
func (h *draptoHandle) setSpeed(avgSpeed float64) {
	if avgSpeed <= 0 {
		return
	}
	h.mu.Lock()
	h.duration = time.Duration(float64(time.Since(h.started)) * avgSpeed)
	h.mu.Unlock()
}

// draptoReporter adapts Drapto's Reporter callbacks to Request.OnProgress and
// Request.OnLine.
type draptoReporter struct {
	handle     *draptoHandle
	onLine     func(string)
	onProgress func(Progress)
}

func (r *draptoReporter) line(format string, parts ...string) {
	if r.onLine == nil {
		return
	}
	msg := format
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			msg += " " + p
		}
	}
	r.onLine(msg)
}

func (r *draptoReporter) progress(p Progress) {
	if r.onProgress != nil {
		r.onProgress(p)
	}
}

func (r *draptoReporter) Hardware(draptolib.HardwareSummary) {}

func (r *draptoReporter) Initialization(draptolib.InitializationSummary) {
	r.line("drapto: initialized")
}

func (r *draptoReporter) StageProgress(s draptolib.StageProgress) {
	r.progress(Progress{Percent: float64(s.Percent), Phase: s.Stage})
	if s.Message != "" {
		r.line("drapto: "+s.Stage+":", s.Message)
	}
}

func (r *draptoReporter) CropResult(s draptolib.CropSummary) {
	r.line("drapto: crop:", s.Message)
}

func (r *draptoReporter) EncodingConfig(draptolib.EncodingConfigSummary) {}

func (r *draptoReporter) EncodingStarted(uint64) {
	r.line("drapto: encoding started")
}

func (r *draptoReporter) EncodingProgress(s draptolib.ProgressSnapshot) {
	r.progress(Progress{Percent: float64(s.Percent), Speed: float64(s.Speed), Phase: "encode"})
}

func (r *draptoReporter) ValidationComplete(draptolib.ValidationSummary) {}

func (r *draptoReporter) EncodingComplete(s draptolib.EncodingOutcome) {
	r.handle.setSpeed(float64(s.AverageSpeed))
	r.progress(Progress{Percent: 100, Speed: float64(s.AverageSpeed), Phase: "encode"})
}

func (r *draptoReporter) Warning(message string) {
	r.line("drapto: warning:", message)
}

func (r *draptoReporter) Error(e draptolib.ReporterError) {
	r.line("drapto: error: "+e.Title+":", e.Message, e.Context, e.Suggestion)
}

func (r *draptoReporter) OperationComplete(message string) {
	r.line("drapto:", message)
}

func (r *draptoReporter) BatchStarted(draptolib.BatchStartInfo) {}

func (r *draptoReporter) FileProgress(draptolib.FileProgressContext) {}

func (r *draptoReporter) BatchComplete(draptolib.BatchSummary) {}

var _ draptolib.Reporter = (*draptoReporter)(nil)

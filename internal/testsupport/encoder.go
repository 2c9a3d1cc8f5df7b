package testsupport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ffbatch/internal/encoder"
	"ffbatch/internal/fileutil"
)

// ErrFakeKilled is the exit error reported for a killed fake encode.
var ErrFakeKilled = errors.New("fake encoder killed")

// Script drives one fake encode.
type Script struct {
	// Sizes is the output size written before each progress tick.
	Sizes []int64
	// Speed is reported on every tick.
	Speed float64
	// Lines are delivered through OnLine before the first tick.
	Lines []string
	// Interval separates ticks.
	Interval time.Duration
	// Hold keeps the encode running after the last tick until it is killed.
	Hold bool
	// FinalSize is the output size on a clean exit; negative leaves no output.
	FinalSize int64
	ExitCode  int
	Duration  time.Duration
	StartErr  error
	// OutputExt replaces the requested output's extension, as backends that
	// always write one container do.
	OutputExt string
}

// FakeEncoder is a scripted encoder.Encoder that writes real output files.
// Scripts are looked up by input base name; Default covers the rest.
type FakeEncoder struct {
	Scripts map[string]Script
	Default Script

	mu         sync.Mutex
	started    []string
	running    int
	maxRunning int
	naturalEnd int
}

// NewFakeEncoder returns an encoder with the given default script.
func NewFakeEncoder(def Script) *FakeEncoder {
	return &FakeEncoder{Scripts: make(map[string]Script), Default: def}
}

// Name implements encoder.Encoder.
func (f *FakeEncoder) Name() string { return "fake" }

// Started returns input paths in start order.
func (f *FakeEncoder) Started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

// MaxRunning returns the highest number of simultaneous encodes seen.
func (f *FakeEncoder) MaxRunning() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning
}

// NaturalExits counts encodes that ended without being killed.
func (f *FakeEncoder) NaturalExits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.naturalEnd
}

func (f *FakeEncoder) script(input string) Script {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.Scripts[filepath.Base(input)]; ok {
		return s
	}
	return f.Default
}

// Start implements encoder.Encoder.
func (f *FakeEncoder) Start(ctx context.Context, req encoder.Request) (encoder.Handle, error) {
	s := f.script(req.Input)
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	f.mu.Lock()
	f.started = append(f.started, req.Input)
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	f.mu.Unlock()

	output := req.Output
	if s.OutputExt != "" {
		output = strings.TrimSuffix(output, filepath.Ext(output)) + s.OutputExt
	}
	h := &fakeHandle{
		output:   output,
		args:     []string{"-i", req.Input, req.Output},
		duration: s.Duration,
		killed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go func() {
		exit := h.play(ctx, s, req)
		f.mu.Lock()
		f.running--
		if exit.Err == nil {
			f.naturalEnd++
		}
		f.mu.Unlock()
		h.exit = exit
		close(h.done)
	}()
	return h, nil
}

type fakeHandle struct {
	output   string
	args     []string
	duration time.Duration
	killOnce sync.Once
	killed   chan struct{}
	done     chan struct{}
	exit     encoder.Exit
}

func (h *fakeHandle) play(ctx context.Context, s Script, req encoder.Request) encoder.Exit {
	for _, line := range s.Lines {
		if req.OnLine != nil {
			req.OnLine(line)
		}
	}
	for i, size := range s.Sizes {
		if err := writeSized(h.output, size); err != nil {
			return encoder.Exit{ExitCode: -1, Err: err}
		}
		if req.OnProgress != nil {
			req.OnProgress(encoder.Progress{
				Percent:  float64(i+1) * 100 / float64(len(s.Sizes)+1),
				Speed:    s.Speed,
				Duration: s.Duration,
			})
		}
		if h.wait(ctx, s.Interval) {
			return encoder.Exit{ExitCode: -1, Err: ErrFakeKilled}
		}
	}
	if s.Hold {
		if h.wait(ctx, -1) {
			return encoder.Exit{ExitCode: -1, Err: ErrFakeKilled}
		}
	}
	if s.FinalSize >= 0 {
		if err := writeSized(h.output, s.FinalSize); err != nil {
			return encoder.Exit{ExitCode: -1, Err: err}
		}
	}
	return encoder.Exit{ExitCode: s.ExitCode}
}

// wait sleeps for d (forever when negative) and reports whether the encode
// was killed meanwhile.
func (h *fakeHandle) wait(ctx context.Context, d time.Duration) bool {
	var timer <-chan time.Time
	if d >= 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-h.killed:
		return true
	case <-ctx.Done():
		return true
	case <-timer:
		return false
	}
}

func (h *fakeHandle) Wait() encoder.Exit {
	<-h.done
	return h.exit
}

func (h *fakeHandle) Kill() error {
	h.killOnce.Do(func() { close(h.killed) })
	return nil
}

func (h *fakeHandle) OutputPath() string { return h.output }

func (h *fakeHandle) Args() []string { return append([]string(nil), h.args...) }

func (h *fakeHandle) MediaDuration() time.Duration { return h.duration }

func writeSized(path string, size int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if fileutil.FileSize(path) != size {
		return errors.New("fake encoder: short write")
	}
	return nil
}

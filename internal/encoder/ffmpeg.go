package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"ffbatch/internal/services"
)

// FFmpeg runs the ffmpeg command-line encoder.
type FFmpeg struct {
	binary string
}

// NewFFmpeg returns an FFmpeg backend invoking binary (default "ffmpeg").
func NewFFmpeg(binary string) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary}
}

// Name identifies the backend.
func (f *FFmpeg) Name() string { return "ffmpeg" }

// BuildArgs assembles the ffmpeg argument list (without the binary) for req.
func BuildArgs(req Request) []string {
	opts := req.Options
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", req.Input}
	if opts.VideoCodec != "" {
		args = append(args, "-c:v", opts.VideoCodec)
	}
	if opts.VideoBitrate != "" {
		args = append(args, "-b:v", opts.VideoBitrate)
	}
	if opts.PixelFormat != "" {
		args = append(args, "-pix_fmt", opts.PixelFormat)
	}
	if opts.AudioCodec != "" {
		args = append(args, "-c:a", opts.AudioCodec)
	}
	if opts.AudioBitrate != "" {
		args = append(args, "-b:a", opts.AudioBitrate)
	}
	args = append(args, opts.ExtraArgs...)
	args = append(args, "-progress", "pipe:1", "-nostats", req.Output)
	return args
}

// Start launches ffmpeg. Cancelling ctx kills the process.
func (f *FFmpeg) Start(ctx context.Context, req Request) (Handle, error) {
	if req.Input == "" || req.Output == "" {
		return nil, services.Wrap(services.ErrValidation, "encoder", "start", "input and output required", nil)
	}
	args := BuildArgs(req)
	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "encoder", "start ffmpeg", f.binary, err)
	}

	h := &ffmpegHandle{
		cmd:    cmd,
		args:   append([]string{f.binary}, args...),
		output: req.Output,
		parser: &progressParser{},
		done:   make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		h.readProgress(stdout, req.OnProgress)
	}()
	go func() {
		defer readers.Done()
		h.readStderr(stderr, req.OnLine)
	}()
	go func() {
		readers.Wait()
		h.exit = exitFromError(cmd.Wait())
		close(h.done)
	}()
	return h, nil
}

type ffmpegHandle struct {
	cmd    *exec.Cmd
	args   []string
	output string
	parser *progressParser
	done   chan struct{}
	exit   Exit
}

func (h *ffmpegHandle) readProgress(r io.Reader, onProgress func(Progress)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if p, ok := h.parser.feedProgress(scanner.Text()); ok && onProgress != nil {
			onProgress(p)
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

func (h *ffmpegHandle) readStderr(r io.Reader, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		h.parser.feedLog(line)
		if onLine != nil {
			onLine(line)
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

func (h *ffmpegHandle) Wait() Exit {
	<-h.done
	return h.exit
}

func (h *ffmpegHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (h *ffmpegHandle) OutputPath() string { return h.output }

func (h *ffmpegHandle) Args() []string { return append([]string(nil), h.args...) }

func (h *ffmpegHandle) MediaDuration() time.Duration { return h.parser.mediaDuration() }

func exitFromError(err error) Exit {
	if err == nil {
		return Exit{ExitCode: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Exit{ExitCode: exitErr.ExitCode()}
	}
	return Exit{ExitCode: -1, Err: err}
}

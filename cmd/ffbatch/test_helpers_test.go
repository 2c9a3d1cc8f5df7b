package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ffbatch/internal/config"
	"ffbatch/internal/testsupport"
	"ffbatch/internal/workspace"
)

// ffmpegStub writes ten bytes to its last argument, standing in for a
// successful encode that shrinks any larger input.
const ffmpegStub = "#!/bin/sh\nfor last; do :; done\nhead -c 10 /dev/zero > \"$last\"\n"

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	mediaDir   string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("ffprobe"))
	base := testsupport.BaseDir(cfg)
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	ffmpeg := filepath.Join(base, "stub", "ffmpeg")
	if err := os.MkdirAll(filepath.Dir(ffmpeg), 0o755); err != nil {
		t.Fatalf("mkdir stub dir: %v", err)
	}
	if err := os.WriteFile(ffmpeg, []byte(ffmpegStub), 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}
	cfg.Encoder.Binary = ffmpeg
	cfg.Batch.Concurrency = 1

	mediaDir := filepath.Join(base, "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		t.Fatalf("mkdir media: %v", err)
	}

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, mediaDir: mediaDir}
}

func (e *cliTestEnv) workspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.Resolve(e.cfg.Paths.StateDir, []string{e.mediaDir})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := ws.Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	return ws
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

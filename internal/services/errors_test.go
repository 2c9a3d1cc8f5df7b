package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"ffbatch/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "jobrunner", "encode", "ffmpeg exited", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"jobrunner", "encode", "ffmpeg exited"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("io"), true},
		{"transient", services.Wrap(services.ErrTransient, "catalog", "walk", "", nil), true},
		{"timeout", services.Wrap(services.ErrTimeout, "catalog", "walk", "", nil), true},
		{"not found", services.Wrap(services.ErrNotFound, "catalog", "walk", "", nil), false},
		{"config", fmt.Errorf("outer: %w", services.Wrap(services.ErrConfiguration, "config", "load", "", nil)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Retryable(tt.err); got != tt.want {
				t.Fatalf("Retryable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHint(t *testing.T) {
	if services.Hint(nil) != "" {
		t.Fatal("expected empty hint for nil")
	}
	err := services.Wrap(services.ErrConfiguration, "config", "load", "bad", nil)
	if !strings.Contains(services.Hint(err), "config") {
		t.Fatalf("unexpected hint %q", services.Hint(err))
	}
}

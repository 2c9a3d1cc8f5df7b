package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// mediaFill stands in for encoded media; content never matters, only size.
var mediaFill = bytes.Repeat([]byte{0x47}, 32*1024)

// WriteFile creates path, with parent directories, holding exactly size
// bytes. Zero or negative sizes leave an empty file.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	appendBytes(t, f, size)
}

// GrowFile appends n bytes to an existing file, as a copy in progress would.
func GrowFile(t testing.TB, path string, n int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	appendBytes(t, f, n)
}

func appendBytes(t testing.TB, f *os.File, n int64) {
	t.Helper()
	for n > 0 {
		chunk := mediaFill
		if n < int64(len(chunk)) {
			chunk = chunk[:n]
		}
		if _, err := f.Write(chunk); err != nil {
			t.Fatalf("write %s: %v", f.Name(), err)
		}
		n -= int64(len(chunk))
	}
}

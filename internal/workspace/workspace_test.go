package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveIsOrderIndependent(t *testing.T) {
	state := t.TempDir()
	a, err := Resolve(state, []string{"/media/tv", "/media/movies"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, err := Resolve(state, []string{"/media/movies", "/media/tv/"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.Root != b.Root {
		t.Fatalf("roots map to different dirs: %s vs %s", a.Root, b.Root)
	}
	if filepath.Dir(a.Root) != state {
		t.Fatalf("workspace outside state dir: %s", a.Root)
	}
	if !strings.HasPrefix(filepath.Base(a.Root), "media_movies_media_tv-") {
		t.Fatalf("unexpected key %s", filepath.Base(a.Root))
	}
	c, _ := Resolve(state, []string{"/media/tv"})
	if c.Root == a.Root {
		t.Fatal("different root sets share a workspace")
	}
}

func TestKeyIsBounded(t *testing.T) {
	key := Key([]string{"/" + strings.Repeat("deep/", 60) + "leaf"})
	if len(key) > maxKeyLen+11 {
		t.Fatalf("key too long: %d (%s)", len(key), key)
	}
	if !strings.Contains(key, "leaf") {
		t.Fatalf("key should keep the tail of the path: %s", key)
	}
}

func TestLockIsExclusive(t *testing.T) {
	state := t.TempDir()
	first, _ := Resolve(state, []string{"/media"})
	second, _ := Resolve(state, []string{"/media"})
	if err := first.Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := first.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !second.Locked() {
		t.Fatal("Locked should report the held lock")
	}
	if pid, err := second.HolderPID(); err != nil || pid != os.Getpid() {
		t.Fatalf("HolderPID = %d, %v", pid, err)
	}
	if err := second.Lock(); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Lock err = %v, want ErrLocked", err)
	}
	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := second.HolderPID(); err == nil {
		t.Fatal("HolderPID should fail once the lock is released")
	}
	if err := second.Lock(); err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	_ = second.Unlock()
}

func TestTempAndKeptPaths(t *testing.T) {
	ws, _ := Resolve(t.TempDir(), []string{"/media"})
	if err := ws.Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	tmp := ws.TempOutputPath("/media/Big Movie.mkv", "abc")
	if filepath.Dir(tmp) != ws.TmpDir || filepath.Base(tmp) != "big_movie-abc.mkv" {
		t.Fatalf("TempOutputPath = %s", tmp)
	}

	kept := ws.KeptOutputPath("/media/Big Movie.mkv", ".mkv")
	if kept != filepath.Join(ws.OutputDir, "Big Movie.mkv") {
		t.Fatalf("KeptOutputPath = %s", kept)
	}
	if err := os.WriteFile(kept, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if again := ws.KeptOutputPath("/media/Big Movie.mkv", ".mkv"); again == kept {
		t.Fatal("existing kept output should not be reused")
	}
}

func TestCleanTmp(t *testing.T) {
	ws, _ := Resolve(t.TempDir(), []string{"/media"})
	if err := ws.Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	stray := filepath.Join(ws.TmpDir, "leftover.mkv")
	if err := os.WriteFile(stray, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ws.CleanTmp(); err != nil {
		t.Fatalf("CleanTmp: %v", err)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Fatalf("stray temp survived: %v", err)
	}
	if info, err := os.Stat(ws.TmpDir); err != nil || !info.IsDir() {
		t.Fatalf("tmp dir missing after clean: %v", err)
	}
}

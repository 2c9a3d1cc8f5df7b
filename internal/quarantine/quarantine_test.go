package quarantine

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ffbatch/internal/fileutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	return NewStore(filepath.Join(base, "quarantine"), filepath.Join(base, "errors"))
}

func TestWriteFailureNamesBySanitizedInput(t *testing.T) {
	store := newTestStore(t)
	fixed := time.Date(2026, 7, 8, 9, 10, 11, 12, time.UTC)
	store.now = func() time.Time { return fixed }

	path, err := store.WriteFailure(FailureRecord{
		Path:       "/media/Amélie (2001).mkv",
		ExitCode:   187,
		Args:       []string{"-i", "in.mkv"},
		Transcript: []string{"Error while decoding stream"},
	})
	if err != nil {
		t.Fatalf("WriteFailure: %v", err)
	}
	want := "amelie_2001_20260708T091011.000000012Z.json"
	if filepath.Base(path) != want {
		t.Fatalf("record name = %s, want %s", filepath.Base(path), want)
	}

	var got FailureRecord
	if err := fileutil.ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.ExitCode != 187 || len(got.Args) != 2 || got.Transcript[0] != "Error while decoding stream" {
		t.Fatalf("record = %+v", got)
	}
	if !got.RecordedAt.Equal(fixed) {
		t.Fatalf("RecordedAt = %v", got.RecordedAt)
	}
}

func TestWriteFailureLongNameIsBounded(t *testing.T) {
	store := newTestStore(t)
	path, err := store.WriteFailure(FailureRecord{Path: "/m/" + strings.Repeat("x", 300) + ".mkv"})
	if err != nil {
		t.Fatalf("WriteFailure: %v", err)
	}
	if len(filepath.Base(path)) > maxKeyLen+len(timestampLayout)+6 {
		t.Fatalf("name too long: %d", len(filepath.Base(path)))
	}
}

func TestWriteCrashKeyedByTimestamp(t *testing.T) {
	store := newTestStore(t)
	store.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	path, err := store.WriteCrash(CrashRecord{Path: "/m/a.mkv", Stage: "promote", Error: "boom"})
	if err != nil {
		t.Fatalf("WriteCrash: %v", err)
	}
	if filepath.Base(path) != "error_20260101T000000.000000000Z.json" {
		t.Fatalf("crash name = %s", filepath.Base(path))
	}
	if filepath.Base(filepath.Dir(path)) != "errors" {
		t.Fatalf("crash written outside errors dir: %s", path)
	}
}

func TestListNewestFirstAndClear(t *testing.T) {
	store := newTestStore(t)
	if entries, err := store.List(); err != nil || len(entries) != 0 {
		t.Fatalf("List on missing dir = %v, %v", entries, err)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"a", "b", "c"} {
		ts := base.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return ts }
		if _, err := store.WriteFailure(FailureRecord{Path: "/m/" + name + ".mkv", ExitCode: i + 1}); err != nil {
			t.Fatalf("WriteFailure: %v", err)
		}
	}

	entries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 || entries[0].Record.Path != "/m/c.mkv" || entries[2].Record.Path != "/m/a.mkv" {
		t.Fatalf("unexpected order: %+v", entries)
	}

	removed, err := store.Clear()
	if err != nil || removed != 3 {
		t.Fatalf("Clear = %d, %v", removed, err)
	}
	if entries, _ := store.List(); len(entries) != 0 {
		t.Fatalf("entries after clear = %d", len(entries))
	}
}

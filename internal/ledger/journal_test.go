package ledger

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalRoundTrip(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	want := Record{
		AttemptID:     "3f5a",
		Path:          "/media/a.mp4",
		StartedAt:     started,
		Elapsed:       90 * time.Second,
		OriginalSize:  100,
		NewSize:       40,
		MediaDuration: 45 * time.Minute,
		AverageSpeed:  2.5,
		Successful:    true,
		Replaced:      true,
		FinalPath:     "/media/a.mkv",
	}
	if err := j.Append(ctx, want); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Append(ctx, want); err != nil {
		t.Fatalf("duplicate Append: %v", err)
	}
	if err := j.Append(ctx, Record{AttemptID: "second", Path: "/media/b.mkv", StartedAt: started}); err != nil {
		t.Fatalf("Append second: %v", err)
	}

	got, err := j.Records(ctx)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Records returned %d, want 2", len(got))
	}
	if !got[0].StartedAt.Equal(want.StartedAt) {
		t.Fatalf("StartedAt = %v, want %v", got[0].StartedAt, want.StartedAt)
	}
	got[0].StartedAt = want.StartedAt
	if got[0] != want {
		t.Fatalf("record mismatch:\n got %+v\nwant %+v", got[0], want)
	}
	if got[1].AttemptID != "second" {
		t.Fatalf("second record = %+v", got[1])
	}
}

func TestJournalReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	if err := j.Append(context.Background(), Record{AttemptID: "a", Path: "p", StartedAt: time.Now()}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j, err = OpenJournal(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	recs, err := j.Records(context.Background())
	if err != nil || len(recs) != 1 {
		t.Fatalf("Records after reopen = %v, %v", recs, err)
	}
}

func TestJournalFailureCounting(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if n, err := j.FailureCount(ctx, "x"); err != nil || n != 0 {
		t.Fatalf("FailureCount on empty = %d, %v", n, err)
	}
	for i := 1; i <= 3; i++ {
		n, err := j.RecordFailure(ctx, "x", 10+i, "/q/x.json")
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		if n != i {
			t.Fatalf("count after %d failures = %d", i, n)
		}
	}
	if _, err := j.RecordFailure(ctx, "y", 1, ""); err != nil {
		t.Fatalf("RecordFailure y: %v", err)
	}

	failures, err := j.Failures(ctx)
	if err != nil {
		t.Fatalf("Failures: %v", err)
	}
	if len(failures) != 2 {
		t.Fatalf("Failures = %+v", failures)
	}
	for _, f := range failures {
		if f.Path == "x" && (f.Count != 3 || f.LastExitCode != 13 || f.QuarantinePath != "/q/x.json") {
			t.Fatalf("failure x = %+v", f)
		}
	}

	exhausted, err := j.ExhaustedPaths(ctx, 3)
	if err != nil {
		t.Fatalf("ExhaustedPaths: %v", err)
	}
	if _, ok := exhausted["x"]; !ok || len(exhausted) != 1 {
		t.Fatalf("exhausted = %v, want only x", exhausted)
	}
	if none, _ := j.ExhaustedPaths(ctx, 0); none != nil {
		t.Fatalf("limit 0 should disable cap, got %v", none)
	}

	if err := j.ClearFailure(ctx, "x"); err != nil {
		t.Fatalf("ClearFailure: %v", err)
	}
	if n, _ := j.FailureCount(ctx, "x"); n != 0 {
		t.Fatalf("count after clear = %d", n)
	}
	removed, err := j.ClearFailures(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("ClearFailures = %d, %v", removed, err)
	}
}

func TestJournalSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	_ = j.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := OpenJournal(path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("OpenJournal err = %v, want ErrSchemaMismatch", err)
	}
}

func TestJournalUpgradesVersionOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	for _, stmt := range []string{
		"CREATE TABLE schema_version (version INTEGER NOT NULL)",
		"INSERT INTO schema_version (version) VALUES (1)",
		`CREATE TABLE job_records (
            attempt_id TEXT PRIMARY KEY, path TEXT NOT NULL, started_at TEXT NOT NULL,
            elapsed_ns INTEGER NOT NULL, original_size INTEGER NOT NULL, new_size INTEGER NOT NULL,
            media_duration_ns INTEGER NOT NULL, average_speed REAL NOT NULL,
            successful INTEGER NOT NULL, replaced INTEGER NOT NULL, recorded_at TEXT NOT NULL)`,
		`CREATE TABLE failures (
            path TEXT PRIMARY KEY, failure_count INTEGER NOT NULL, last_exit_code INTEGER NOT NULL,
            quarantine_path TEXT NOT NULL DEFAULT '', updated_at TEXT NOT NULL)`,
		`INSERT INTO job_records VALUES ('old', '/media/old.mkv', '2026-01-01T00:00:00Z', 1, 100, 50, 1, 1.0, 1, 1, '2026-01-01T00:00:00Z')`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed v1 journal: %v", err)
		}
	}
	_ = db.Close()

	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	defer j.Close()
	ctx := context.Background()
	if err := j.Append(ctx, Record{AttemptID: "new", Path: "/media/b.mp4", StartedAt: time.Now(), Successful: true, FinalPath: "/media/b.mkv"}); err != nil {
		t.Fatalf("Append after upgrade: %v", err)
	}
	recs, err := j.Records(ctx)
	if err != nil || len(recs) != 2 {
		t.Fatalf("Records = %d, %v", len(recs), err)
	}
	if recs[0].FinalPath != "" || recs[1].FinalPath != "/media/b.mkv" {
		t.Fatalf("final paths = %q, %q", recs[0].FinalPath, recs[1].FinalPath)
	}
}

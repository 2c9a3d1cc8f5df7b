package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Journal persists Records and failure counts in SQLite.
type Journal struct {
	db   *sql.DB
	path string
}

// Failure is the retry bookkeeping for a path the encoder rejected.
type Failure struct {
	Path           string
	Count          int
	LastExitCode   int
	QuarantinePath string
	UpdatedAt      time.Time
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (j *Journal) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = j.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// OpenJournal opens or creates the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	j := &Journal{db: db, path: path}
	if err := j.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Path returns the database file location.
func (j *Journal) Path() string { return j.path }

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append stores r. Re-appending the same AttemptID is a no-op.
func (j *Journal) Append(ctx context.Context, r Record) error {
	_, err := j.execWithRetry(ctx, `INSERT OR IGNORE INTO job_records
        (attempt_id, path, started_at, elapsed_ns, original_size, new_size,
         media_duration_ns, average_speed, successful, replaced, recorded_at, final_path)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.AttemptID, r.Path, r.StartedAt.UTC().Format(time.RFC3339Nano), int64(r.Elapsed),
		r.OriginalSize, r.NewSize, int64(r.MediaDuration), r.AverageSpeed,
		boolToInt(r.Successful), boolToInt(r.Replaced), time.Now().UTC().Format(time.RFC3339Nano),
		r.FinalPath,
	)
	if err != nil {
		return fmt.Errorf("append job record: %w", err)
	}
	return nil
}

// Records returns every stored record in insertion order.
func (j *Journal) Records(ctx context.Context) ([]Record, error) {
	ctx = ensureContext(ctx)
	rows, err := j.db.QueryContext(ctx, `SELECT attempt_id, path, started_at, elapsed_ns, original_size,
        new_size, media_duration_ns, average_speed, successful, replaced, final_path
        FROM job_records ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query job records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                    Record
			startedAt            string
			elapsed, mediaDur    int64
			successful, replaced int
		)
		if err := rows.Scan(&r.AttemptID, &r.Path, &startedAt, &elapsed, &r.OriginalSize,
			&r.NewSize, &mediaDur, &r.AverageSpeed, &successful, &replaced, &r.FinalPath); err != nil {
			return nil, fmt.Errorf("scan job record: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		r.Elapsed = time.Duration(elapsed)
		r.MediaDuration = time.Duration(mediaDur)
		r.Successful = successful != 0
		r.Replaced = replaced != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordFailure increments the failure count for path and returns the new count.
func (j *Journal) RecordFailure(ctx context.Context, path string, exitCode int, quarantinePath string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := j.execWithRetry(ctx, `INSERT INTO failures (path, failure_count, last_exit_code, quarantine_path, updated_at)
        VALUES (?, 1, ?, ?, ?)
        ON CONFLICT(path) DO UPDATE SET
            failure_count = failure_count + 1,
            last_exit_code = excluded.last_exit_code,
            quarantine_path = excluded.quarantine_path,
            updated_at = excluded.updated_at`,
		path, exitCode, quarantinePath, now); err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}
	return j.FailureCount(ctx, path)
}

// FailureCount returns the number of failed attempts recorded for path.
func (j *Journal) FailureCount(ctx context.Context, path string) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	err := j.db.QueryRowContext(ctx, "SELECT failure_count FROM failures WHERE path = ?", path).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read failure count: %w", err)
	}
	return count, nil
}

// ClearFailure forgets the failures recorded for path.
func (j *Journal) ClearFailure(ctx context.Context, path string) error {
	if _, err := j.execWithRetry(ctx, "DELETE FROM failures WHERE path = ?", path); err != nil {
		return fmt.Errorf("clear failure: %w", err)
	}
	return nil
}

// ClearFailures forgets every recorded failure and returns how many were removed.
func (j *Journal) ClearFailures(ctx context.Context) (int64, error) {
	res, err := j.execWithRetry(ctx, "DELETE FROM failures")
	if err != nil {
		return 0, fmt.Errorf("clear failures: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Failures lists failure bookkeeping ordered by most recent first.
func (j *Journal) Failures(ctx context.Context) ([]Failure, error) {
	ctx = ensureContext(ctx)
	rows, err := j.db.QueryContext(ctx, `SELECT path, failure_count, last_exit_code, quarantine_path, updated_at
        FROM failures ORDER BY updated_at DESC, path`)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var (
			f         Failure
			updatedAt string
		)
		if err := rows.Scan(&f.Path, &f.Count, &f.LastExitCode, &f.QuarantinePath, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ExhaustedPaths returns paths whose failure count reached limit. A limit of
// zero disables the cap and returns nil.
func (j *Journal) ExhaustedPaths(ctx context.Context, limit int) (map[string]struct{}, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)
	rows, err := j.db.QueryContext(ctx, "SELECT path FROM failures WHERE failure_count >= ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query exhausted paths: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan exhausted path: %w", err)
		}
		out[path] = struct{}{}
	}
	return out, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

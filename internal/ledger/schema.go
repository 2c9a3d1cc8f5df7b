package ledger

import (
	"context"
	"errors"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS job_records (
    attempt_id        TEXT PRIMARY KEY,
    path              TEXT NOT NULL,
    started_at        TEXT NOT NULL,
    elapsed_ns        INTEGER NOT NULL,
    original_size     INTEGER NOT NULL,
    new_size          INTEGER NOT NULL,
    media_duration_ns INTEGER NOT NULL,
    average_speed     REAL NOT NULL,
    successful        INTEGER NOT NULL,
    replaced          INTEGER NOT NULL,
    recorded_at       TEXT NOT NULL,
    final_path        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_job_records_path ON job_records(path);

CREATE TABLE IF NOT EXISTS failures (
    path            TEXT PRIMARY KEY,
    failure_count   INTEGER NOT NULL,
    last_exit_code  INTEGER NOT NULL,
    quarantine_path TEXT NOT NULL DEFAULT '',
    updated_at      TEXT NOT NULL
);
`

// schemaVersion is the current schema version. Bump this when the schema
// changes and add the step from the previous version to schemaUpgrades.
const schemaVersion = 2

// schemaUpgrades maps a version to the statements that bring the previous
// version up to it.
var schemaUpgrades = map[int]string{
	2: `ALTER TABLE job_records ADD COLUMN final_path TEXT NOT NULL DEFAULT ''`,
}

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func (j *Journal) initSchema(ctx context.Context) error {
	var tableExists int
	err := j.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return j.createSchema(ctx)
	}

	var version int
	if err := j.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion || version < 1 {
		return fmt.Errorf("%w: journal has version %d, expected %d (delete %s to start over)",
			ErrSchemaMismatch, version, schemaVersion, j.path)
	}
	if version < schemaVersion {
		return j.upgradeSchema(ctx, version)
	}
	return nil
}

func (j *Journal) upgradeSchema(ctx context.Context, from int) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upgrade tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for v := from + 1; v <= schemaVersion; v++ {
		stmt, ok := schemaUpgrades[v]
		if !ok {
			return fmt.Errorf("%w: no upgrade path to version %d (delete %s to start over)",
				ErrSchemaMismatch, v, j.path)
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("upgrade schema to %d: %w", v, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE schema_version SET version = ?", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema upgrade: %w", err)
	}
	return nil
}

func (j *Journal) createSchema(ctx context.Context) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

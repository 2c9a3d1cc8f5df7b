// Package ledger records the terminal outcome of every encode attempt.
//
// Ledger is the in-memory, append-only view the scheduler consults to decide
// whether a path is done; Journal is its SQLite-backed mirror, written the
// moment each record is produced, so a crash between checkpoints loses no
// completed work. The journal also tracks per-path failure counts that cap
// retries of files the encoder keeps rejecting.
package ledger

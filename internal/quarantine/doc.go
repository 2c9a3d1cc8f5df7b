// Package quarantine writes diagnostic records for encodes that failed and
// for attempts abandoned after an unexpected error.
//
// Failure records land in quarantine/<sanitized-name>_<timestamp>.json and
// carry the exit code, the encoder arguments, and the captured transcript.
// Crash records land in errors/error_<timestamp>.json.
package quarantine

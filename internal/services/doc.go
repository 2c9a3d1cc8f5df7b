// Package services defines shared utilities consumed by the orchestrator
// components and the encoder backends.
//
// Key responsibilities:
//   - Context helpers that stamp source paths, attempt IDs, and session
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that let callers classify
//     failures (transient vs per-job vs fatal) with errors.Is.
//
// Use these helpers when wiring new component logic so error handling and
// observability stay uniform across the batch pipeline.
package services

// Package config loads, normalizes, and validates ffbatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// FFBATCH_ENCODER. The Config type centralizes every knob the orchestrator and
// CLI need: encoder options passed opaquely to the encoder backend, batch
// concurrency and overwrite policy, persistence timings, and logging.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config

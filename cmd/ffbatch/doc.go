// Package main hosts the ffbatch CLI entrypoint and command graph.
//
// The root command runs a batch over one or more source directories; the
// subcommands inspect or adjust the per-directory workspace (ledger,
// checkpoint status, quarantine) and scaffold configuration. Heavy lifting
// lives in the internal packages; this package wires them together and maps
// failures onto process exit codes.
package main

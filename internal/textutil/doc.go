// Package textutil provides string helpers for filesystem-safe names and
// display labels.
//
// Sanitizers fold accented characters to their ASCII base before replacing
// anything unsafe, so workspace keys and quarantine record names stay stable
// and readable for media libraries with non-English titles.
package textutil

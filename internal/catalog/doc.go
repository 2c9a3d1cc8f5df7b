// Package catalog discovers candidate media files and tracks the pending set.
//
// Discover walks the source roots, skipping unreadable subtrees and retrying
// root-level failures with backoff. Reconcile and Order are pure helpers used
// when rebuilding the pending set. Catalog is the concurrency-safe container
// the scheduler pops work from and the watch feed mutates.
package catalog

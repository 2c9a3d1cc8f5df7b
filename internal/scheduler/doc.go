// Package scheduler drives a bounded pool of job runners over the work
// catalog.
//
// Workers pull the next item (largest first) whenever they go idle. The
// scheduler owns the pending catalog, the in-flight map, and the ledger;
// all shared bookkeeping sits behind one mutex in the state object, and the
// catalog and ledger are themselves concurrency-safe containers.
//
// Pause stops dequeuing while in-flight jobs finish. Stop begins a
// cooperative shutdown that waits up to the shutdown grace before killing
// in-flight encodes; ForceStop kills them at once. Either way the checkpoint
// is flushed and the tmp directory removed with bounded retries.
package scheduler

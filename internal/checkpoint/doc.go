// Package checkpoint persists the resumable batch snapshot: the pending path
// list, the completed ledger, and the byte totals derived from them.
//
// The Store is the only writer of the checkpoint file. Saves go through
// fileutil.WriteFileAtomic so a crash mid-write keeps the previous snapshot.
// A corrupt or truncated file loads as absent, which forces rediscovery.
package checkpoint

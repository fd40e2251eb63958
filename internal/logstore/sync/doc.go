// Package sync reconciles local journal partitions with a remote document
// service.
//
// Overview
//
// A sync cycle pulls every remote record stamped after the last checkpoint,
// merges each touched partition with the local copy (last writer wins by
// uuid), writes the merged partition back through the LocalStore, and then
// pushes every local entry changed since the checkpoint:
//
//	Remote ──QueryUpdatedSince──► group by partition ──► MergeLogs(local, remote)
//	                                                           │
//	                                                           ▼
//	                                             LocalStore.ApplyMerged
//	                                                           │
//	Remote ◄──Upsert (per entry)── entries changed since checkpoint
//
// Checkpoint
//
// The checkpoint is a timestamp stored as a legacy flag (FlagLastSync). It
// only advances after the pull and merge steps succeed, and it advances to
// the time the cycle started. Pushes are idempotent by uuid, so replaying a
// window is harmless.
//
// Error Handling
//
//   - No remote or no session: remote.ErrNotConfigured / remote.ErrNoSession,
//     with no network calls
//   - Pull or apply failures abort the cycle, checkpoint unchanged
//   - Push failures are counted in Result and the loop continues
//   - Undecodable records are logged and skipped
//
// Concurrency
//
// A Syncer runs one cycle at a time. A Sync call that overlaps a running
// cycle returns ErrSyncInProgress immediately; the running cycle covers the
// same window.
package sync

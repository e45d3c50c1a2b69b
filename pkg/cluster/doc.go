// Package cluster implements the metadata convergence engine at the heart of
// Statecraft. Concurrent producers submit opaque state-change tasks; a single
// serialized apply loop groups them into same-kind batches, hands each batch
// to the owning executor exactly once, commits the resulting snapshot, and
// fans out change notifications to registered snapshot appliers.
//
// The engine guarantees:
//   - at most one executor invocation in flight across the whole engine
//   - every submitted task resolves to exactly one outcome, success or failure
//   - individual task failures never abort sibling tasks in the same batch
//   - a batch-fatal executor error fails the batch but never stops the loop
//
// Snapshots are immutable and compared by pointer identity: a commit either
// republishes the exact current snapshot (a no-op) or installs a genuinely
// new value. Staged external-storage mutations and schema-change events ride
// along with the transition and are handed to the external applier during
// commit.
package cluster

// Package secondary drives deferred, idempotently-retried schema actions
// against the external storage system once the cluster snapshot satisfies
// their readiness condition.
//
// The synchronizer is a pure subscriber to snapshot-change notifications: it
// has no polling loop and costs nothing between changes. On every change it
// scans its pending-effect set against the new snapshot on the designated
// owner node only; entries whose target index is present and carries the
// expected mapping are dispatched to a bounded worker pool, and an entry
// leaves the set only when its action has been confirmed performed.
package secondary

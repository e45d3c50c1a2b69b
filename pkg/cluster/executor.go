package cluster

import (
	"context"
	"strings"
)

// Executor applies one batch of same-kind tasks to the current snapshot.
// One executor instance exists per task kind; it is stateless across calls
// except through the snapshot it receives.
type Executor interface {
	// Execute computes the next snapshot from the current one and the batch.
	// It must record exactly one outcome per input task on the returned
	// result. Returning a non-nil error is a batch-fatal failure: the apply
	// loop marks every task in the batch failed with that error and commits
	// no snapshot change. Per-task business failures belong in the result's
	// outcome map, not in the error return.
	Execute(ctx context.Context, current *Snapshot, tasks []*SubmittedTask) (*BatchResult, error)

	// RunOnlyOnOwner reports whether batches for this executor may only run
	// while the local node is the designated owner. Batches pulled while not
	// owner are deferred, never dropped.
	RunOnlyOnOwner() bool

	// OnPublished is invoked strictly after a changed snapshot has been
	// committed, never for no-op commits. Side-effect only.
	OnPublished(old, updated *Snapshot)

	// DescribeBatch builds a concise description of the tasks for
	// diagnostics. It may be called multiple times with different subsets
	// of a batch before Execute runs.
	DescribeBatch(tasks []*SubmittedTask) string
}

// OwnerGatedExecutor provides the default executor behaviors: owner-gated,
// no publish callback, comma-joined task descriptions. Embed it and override
// what differs.
type OwnerGatedExecutor struct{}

// RunOnlyOnOwner returns true.
func (OwnerGatedExecutor) RunOnlyOnOwner() bool { return true }

// OnPublished does nothing.
func (OwnerGatedExecutor) OnPublished(old, updated *Snapshot) {}

// DescribeBatch joins the non-empty task descriptions.
func (OwnerGatedExecutor) DescribeBatch(tasks []*SubmittedTask) string {
	return DescribeTasks(tasks)
}

// DescribeTasks joins the non-empty descriptions of the tasks with ", ".
// Empty descriptions are skipped rather than rendered as stray separators.
func DescribeTasks(tasks []*SubmittedTask) string {
	parts := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if d := task.Describe(); d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, ", ")
}

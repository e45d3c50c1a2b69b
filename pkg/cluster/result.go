package cluster

import "fmt"

// Mutation is an opaque descriptor for a write staged against the external
// storage system. The engine never interprets mutations; it only hands them
// to the external applier in order.
type Mutation struct {
	// Keyspace is the target keyspace of the write.
	Keyspace string `json:"keyspace"`

	// Table is the target table of the write.
	Table string `json:"table"`

	// Payload is the serialized write, opaque to the engine.
	Payload []byte `json:"payload"`
}

// SchemaEvent is an opaque descriptor for a schema-change notification that
// travels with a metadata transition.
type SchemaEvent struct {
	// Change is the kind of schema change (e.g. "created", "updated",
	// "dropped").
	Change string `json:"change"`

	// Keyspace is the affected keyspace.
	Keyspace string `json:"keyspace"`

	// Target is the affected object within the keyspace.
	Target string `json:"target"`
}

// BatchResult is the outcome of one batched executor invocation: the next
// snapshot (nil means "unchanged, keep current"), one outcome per input
// task, a durability hint, and the staged external side effects.
type BatchResult struct {
	// Snapshot is the resulting snapshot, or nil when the batch left the
	// metadata unchanged.
	Snapshot *Snapshot

	// Outcomes maps each task's submission token to its outcome. Every task
	// passed into the executor appears exactly once.
	Outcomes map[string]*TaskResult

	// ForcePersist requests that the durability hook run for this commit
	// even when the snapshot did not change.
	ForcePersist bool

	// Mutations are staged external-storage writes, in execution order.
	Mutations []Mutation

	// Events are staged schema-change notifications, in emission order.
	Events []SchemaEvent
}

// ResultBuilder accumulates per-task outcomes while an executor runs and
// freezes them into a BatchResult. Recording a second outcome for the same
// submission token is a programming error and panics.
type ResultBuilder struct {
	outcomes map[string]*TaskResult
}

// NewResultBuilder creates an empty builder.
func NewResultBuilder() *ResultBuilder {
	return &ResultBuilder{outcomes: map[string]*TaskResult{}}
}

// Success records a success outcome for the task.
func (b *ResultBuilder) Success(task *SubmittedTask) *ResultBuilder {
	return b.record(task, Success())
}

// Successes records a success outcome for every task.
func (b *ResultBuilder) Successes(tasks []*SubmittedTask) *ResultBuilder {
	for _, task := range tasks {
		b.Success(task)
	}
	return b
}

// Failure records a failure outcome for the task.
func (b *ResultBuilder) Failure(task *SubmittedTask, err error) *ResultBuilder {
	return b.record(task, Failure(err))
}

// Failures records the same failure outcome for every task.
func (b *ResultBuilder) Failures(tasks []*SubmittedTask, err error) *ResultBuilder {
	for _, task := range tasks {
		b.Failure(task, err)
	}
	return b
}

func (b *ResultBuilder) record(task *SubmittedTask, result *TaskResult) *ResultBuilder {
	if _, exists := b.outcomes[task.Token()]; exists {
		panic(fmt.Sprintf("task %q already has an outcome", task.Describe()))
	}
	b.outcomes[task.Token()] = result
	return b
}

// BuildOption configures optional fields of a built BatchResult.
type BuildOption func(*BatchResult)

// WithForcePersist marks the result as requiring the durability hook.
func WithForcePersist() BuildOption {
	return func(r *BatchResult) { r.ForcePersist = true }
}

// WithMutations stages external-storage writes on the result.
func WithMutations(mutations ...Mutation) BuildOption {
	return func(r *BatchResult) { r.Mutations = append(r.Mutations, mutations...) }
}

// WithEvents stages schema-change notifications on the result.
func WithEvents(events ...SchemaEvent) BuildOption {
	return func(r *BatchResult) { r.Events = append(r.Events, events...) }
}

// Build freezes the accumulated outcomes into a BatchResult. Pass nil for
// snapshot to signal "unchanged".
func (b *ResultBuilder) Build(snapshot *Snapshot, opts ...BuildOption) *BatchResult {
	result := &BatchResult{
		Snapshot: snapshot,
		Outcomes: b.outcomes,
	}
	for _, opt := range opts {
		opt(result)
	}
	return result
}

// BuildFrom freezes the accumulated outcomes around a nested result,
// substituting previous when the nested result reported no snapshot change.
// This guarantees "unchanged" always resolves to a concrete snapshot before
// commit. The nested result's staged side effects and durability hint are
// carried over unless overridden by opts.
func (b *ResultBuilder) BuildFrom(nested *BatchResult, previous *Snapshot, opts ...BuildOption) *BatchResult {
	snapshot := nested.Snapshot
	if snapshot == nil {
		snapshot = previous
	}
	result := &BatchResult{
		Snapshot:     snapshot,
		Outcomes:     b.outcomes,
		ForcePersist: nested.ForcePersist,
		Mutations:    nested.Mutations,
		Events:       nested.Events,
	}
	for _, opt := range opts {
		opt(result)
	}
	return result
}

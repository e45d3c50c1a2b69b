package cluster

import (
	"github.com/google/uuid"
)

// Task is an opaque, caller-defined request to change the snapshot. The
// engine never inspects a task beyond its description; interpretation is the
// owning executor's business.
type Task interface {
	// Describe returns a concise diagnostic description of the task. An
	// empty string is allowed and is skipped when batch descriptions are
	// assembled.
	Describe() string
}

// TaskListener receives the outcome of a single submitted task. Exactly one
// of the two methods is invoked, exactly once, after the batch containing
// the task has been committed.
type TaskListener interface {
	OnSuccess(task Task)
	OnFailure(task Task, err error)
}

// SubmittedTask wraps a caller task with its submission identity. Two
// value-equal tasks submitted separately receive distinct tokens, so outcome
// tracking can never conflate them.
type SubmittedTask struct {
	token    string
	kind     string
	task     Task
	listener TaskListener
}

func newSubmittedTask(kind string, task Task, listener TaskListener) *SubmittedTask {
	return &SubmittedTask{
		token:    uuid.New().String(),
		kind:     kind,
		task:     task,
		listener: listener,
	}
}

// Token returns the unique submission token assigned at submit time.
func (t *SubmittedTask) Token() string { return t.token }

// Kind returns the executor kind that owns the task.
func (t *SubmittedTask) Kind() string { return t.kind }

// Task returns the wrapped caller task.
func (t *SubmittedTask) Task() Task { return t.task }

// Describe returns the wrapped task's description.
func (t *SubmittedTask) Describe() string { return t.task.Describe() }

// TaskResult is the outcome of one task: success, or failure with the
// triggering error. Results are immutable once produced.
type TaskResult struct {
	failure error
}

// taskSuccess is the shared success singleton; Success carries no payload.
var taskSuccess = &TaskResult{}

// Success returns the shared success outcome.
func Success() *TaskResult { return taskSuccess }

// Failure returns a failure outcome carrying err.
func Failure(err error) *TaskResult {
	return &TaskResult{failure: err}
}

// IsSuccess reports whether the outcome is a success.
func (r *TaskResult) IsSuccess() bool { return r.failure == nil }

// Err returns the failure error, or nil for a success outcome.
func (r *TaskResult) Err() error { return r.failure }

package cluster

import (
	"context"
	"sync"
)

// TaskQueue is the concurrent ingress of the engine. Any goroutine may
// submit; only the apply loop pulls. Submission never blocks the producer.
type TaskQueue struct {
	mu    sync.Mutex
	tasks []*SubmittedTask

	// signal wakes the apply loop after a submission. Capacity one: a
	// pending token means "the queue may be non-empty, look again".
	signal chan struct{}
}

// NewTaskQueue creates an empty task queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		signal: make(chan struct{}, 1),
	}
}

// Submit appends the task to the tail of the queue and wakes the apply loop.
// Safe under unbounded concurrent producers; never blocks.
func (q *TaskQueue) Submit(task *SubmittedTask) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	q.wake()
}

// RequeueFront returns a parked batch to the head of the queue, preserving
// its internal order, and wakes the apply loop.
func (q *TaskQueue) RequeueFront(batch []*SubmittedTask) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	q.tasks = append(append(make([]*SubmittedTask, 0, len(batch)+len(q.tasks)), batch...), q.tasks...)
	q.mu.Unlock()
	q.wake()
}

// TakeNextBatch atomically removes and returns the longest contiguous prefix
// of queued tasks sharing the executor kind of the head task. Grouping is
// bounded by the queue length observed at the start of the pull, so tasks
// arriving concurrently go to the next batch and same-kind producers cannot
// starve the loop. Blocks while the queue is empty until a task is submitted
// or ctx is cancelled. Cancellation wins over queued work, so shutdown never
// keeps executing a backlog. Called only by the apply loop.
func (q *TaskQueue) TakeNextBatch(ctx context.Context) ([]*SubmittedTask, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if batch := q.takeBatch(); batch != nil {
			return batch, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *TaskQueue) takeBatch() []*SubmittedTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil
	}

	kind := q.tasks[0].Kind()
	end := 1
	for end < len(q.tasks) && q.tasks[end].Kind() == kind {
		end++
	}

	batch := q.tasks[:end:end]
	q.tasks = append([]*SubmittedTask(nil), q.tasks[end:]...)
	return batch
}

func (q *TaskQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

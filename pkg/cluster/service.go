package cluster

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/statecraft-io/statecraft/pkg/telemetry"
)

// ExternalApplier receives the staged side effects of a commit. It is
// invoked synchronously within the commit step; a failure is reported as a
// divergence warning and never rolls back the snapshot swap.
type ExternalApplier interface {
	Apply(ctx context.Context, mutations []Mutation, events []SchemaEvent) error
}

// Persister is the durability hook invoked when a batch result sets
// ForcePersist.
type Persister interface {
	PersistSnapshot(ctx context.Context, s *Snapshot) error
}

// SnapshotApplier is notified after every commit that changed the snapshot.
// Notifications run on the apply loop; implementations must not re-enter the
// engine and must not block beyond one pass over their own state.
type SnapshotApplier interface {
	ApplySnapshotChange(old, updated *Snapshot)
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// LocalNodeID is the identity of this node, compared against the
	// snapshot by the ownership predicate.
	LocalNodeID string

	// IsOwner is the ownership predicate. Defaults to StateUUIDOwner.
	IsOwner OwnerPredicate

	// Initial is the snapshot the engine starts from. Defaults to a fresh
	// snapshot owned by LocalNodeID.
	Initial *Snapshot

	// Applier receives staged mutations and schema events at commit time.
	// Optional; staged effects are dropped with a warning when nil.
	Applier ExternalApplier

	// Persister is the durability hook for ForcePersist commits. Optional.
	Persister Persister

	// Logger is the structured logger for the engine. Defaults to a nop
	// logger.
	Logger zerolog.Logger

	// Metrics records engine metrics. Optional.
	Metrics *telemetry.Metrics

	// Tracer traces batch execution. Optional.
	Tracer *telemetry.Tracer

	// Events publishes operational events. Optional.
	Events *telemetry.EventPublisher
}

// Service is the serialized apply loop: the single logical writer of the
// snapshot. At most one executor invocation is in flight at any time across
// the whole engine.
type Service struct {
	localID   string
	isOwner   OwnerPredicate
	applier   ExternalApplier
	persister Persister

	queue   *TaskQueue
	current atomic.Pointer[Snapshot]

	mu        sync.RWMutex
	executors map[string]Executor
	appliers  []SnapshotApplier
	running   bool
	stopped   bool

	// deferred holds owner-gated batches pulled while the local node was
	// not owner. Touched only by the loop goroutine.
	deferred [][]*SubmittedTask

	log     zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates an engine service from the configuration.
func NewService(cfg ServiceConfig) *Service {
	if cfg.IsOwner == nil {
		cfg.IsOwner = StateUUIDOwner
	}
	if cfg.Initial == nil {
		cfg.Initial = NewSnapshot(cfg.LocalNodeID)
	}
	s := &Service{
		localID:   cfg.LocalNodeID,
		isOwner:   cfg.IsOwner,
		applier:   cfg.Applier,
		persister: cfg.Persister,
		queue:     NewTaskQueue(),
		executors: map[string]Executor{},
		log:       cfg.Logger.With().Str("component", "cluster-service").Logger(),
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		events:    cfg.Events,
		done:      make(chan struct{}),
	}
	s.current.Store(cfg.Initial)
	return s
}

// RegisterExecutor registers the executor owning the given task kind.
// Registering the same kind twice is an error.
func (s *Service) RegisterExecutor(kind string, executor Executor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executors[kind]; exists {
		return NewPermanentError(fmt.Sprintf("executor already registered for kind %q", kind), nil).WithKind(kind)
	}
	s.executors[kind] = executor
	return nil
}

// RegisterApplier registers a subscriber for snapshot-change notifications.
func (s *Service) RegisterApplier(applier SnapshotApplier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appliers = append(s.appliers, applier)
}

// CurrentSnapshot returns the latest committed snapshot. Safe to call
// concurrently with the apply loop.
func (s *Service) CurrentSnapshot() *Snapshot {
	return s.current.Load()
}

// Submit enqueues a task for the executor owning kind and returns the
// submission token assigned to it. The listener, if non-nil, receives the
// task's outcome exactly once after the containing batch commits. Submit
// never blocks on the apply loop.
//
// The stopped check and the enqueue happen under the same lock: a submission
// either lands before the shutdown drain (and is failed by it) or is
// rejected, so no task can slip into the queue unobserved after the drain.
func (s *Service) Submit(kind string, task Task, listener TaskListener) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return "", NewPermanentError("engine is stopped", nil).WithCode(ErrCodeEngineStopped)
	}
	if _, known := s.executors[kind]; !known {
		return "", NewPermanentError(fmt.Sprintf("no executor registered for kind %q", kind), nil).
			WithCode(ErrCodeUnknownExecutor).WithKind(kind)
	}

	submitted := newSubmittedTask(kind, task, listener)
	s.queue.Submit(submitted)
	s.metrics.SetQueueDepth(s.queue.Len())
	return submitted.Token(), nil
}

// Start launches the apply loop. The loop runs until ctx is cancelled or
// Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return NewPermanentError("service already started", nil)
	}
	if s.stopped {
		return NewPermanentError("service already stopped", nil).WithCode(ErrCodeEngineStopped)
	}
	s.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(loopCtx)
	return nil
}

// Stop terminates the apply loop and waits for it to drain. Tasks still
// queued at shutdown fail with an engine-stopped error.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.done
}

// run is the apply loop. States: idle (blocked on the queue), draining a
// batch, committing its result, notifying listeners and subscribers.
func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	for {
		batch, err := s.queue.TakeNextBatch(ctx)
		if err != nil {
			// Mark stopped before draining so concurrent Submit calls are
			// rejected rather than enqueued behind the drain.
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()
			s.failRemaining()
			return
		}
		s.metrics.SetQueueDepth(s.queue.Len())
		s.processBatch(ctx, batch)
	}
}

func (s *Service) processBatch(ctx context.Context, batch []*SubmittedTask) {
	kind := batch[0].Kind()
	executor := s.executor(kind)
	if executor == nil {
		err := NewPermanentError("no executor registered", nil).WithCode(ErrCodeUnknownExecutor).WithKind(kind)
		s.resolveOutcomes(batch, NewResultBuilder().Failures(batch, err).Build(nil))
		return
	}

	current := s.current.Load()

	// Owner-gated batches pulled while not owner are parked, not failed.
	// They are requeued at the front on the next snapshot change.
	if executor.RunOnlyOnOwner() && !s.isOwner(s.localID, current) {
		s.deferred = append(s.deferred, batch)
		s.log.Debug().Str("kind", kind).Int("tasks", len(batch)).
			Msg("Deferring owner-gated batch, local node is not owner")
		return
	}

	start := time.Now()
	spanCtx, span := s.tracer.StartBatchSpan(ctx, kind, len(batch))

	result, fatal := s.runExecutor(spanCtx, executor, current, batch)
	if fatal != nil {
		// Batch-fatal: every task fails with the executor error, the
		// snapshot is unchanged, and the loop keeps running.
		s.log.Error().Err(fatal).Str("kind", kind).
			Str("batch", executor.DescribeBatch(batch)).
			Msg("Executor failed, failing whole batch")
		result = NewResultBuilder().Failures(batch, fatal).Build(nil)
		s.events.PublishBatchFailed(kind, fatal.Error())
	}
	s.ensureOutcomes(result, batch, kind)

	changed := s.commit(spanCtx, executor, current, result)

	s.resolveOutcomes(batch, result)
	if changed {
		s.notifyAppliers(current, s.current.Load())
		s.flushDeferred()
	}

	status := batchStatus(result, fatal)
	s.metrics.RecordBatch(kind, status, len(batch), time.Since(start))
	telemetry.RecordError(span, fatal)
	span.End()
	s.events.PublishBatchCompleted(kind, status, len(batch))
}

// runExecutor invokes the executor, converting a panic into a batch-fatal
// error so a misbehaving executor can never terminate the loop.
func (s *Service) runExecutor(ctx context.Context, executor Executor, current *Snapshot, batch []*SubmittedTask) (result *BatchResult, fatal error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			fatal = NewPermanentError(fmt.Sprintf("executor panicked: %v", r), nil).
				WithCode(ErrCodeExecutorPanicked).WithKind(batch[0].Kind())
		}
	}()

	result, err := executor.Execute(ctx, current, batch)
	if err != nil {
		return nil, NewPermanentError("executor returned a batch-fatal error", err).
			WithCode(ErrCodeExecutorFailed).WithKind(batch[0].Kind())
	}
	if result == nil {
		return nil, NewPermanentError("executor returned a nil result", nil).
			WithCode(ErrCodeExecutorFailed).WithKind(batch[0].Kind())
	}
	return result, nil
}

// ensureOutcomes enforces the outcome invariant: every task in the batch has
// exactly one outcome. Missing outcomes are an executor bug; the affected
// tasks fail rather than hang their submitters.
func (s *Service) ensureOutcomes(result *BatchResult, batch []*SubmittedTask, kind string) {
	for _, task := range batch {
		if _, ok := result.Outcomes[task.Token()]; ok {
			continue
		}
		s.log.Error().Str("kind", kind).Str("task", task.Describe()).
			Msg("Executor returned no outcome for task")
		result.Outcomes[task.Token()] = Failure(
			NewPermanentError("executor returned no outcome for task", nil).
				WithCode(ErrCodeMissingOutcome).WithKind(kind))
	}
}

// commit applies the batch result: resolves the next snapshot, swaps the
// current pointer when it changed, hands staged side effects to the external
// applier, runs the durability hook, and fires OnPublished. Returns whether
// the snapshot changed.
func (s *Service) commit(ctx context.Context, executor Executor, previous *Snapshot, result *BatchResult) bool {
	resolved := result.Snapshot
	if resolved == nil {
		resolved = previous
	}
	changed := resolved != previous

	if changed {
		s.current.Store(resolved)
		s.metrics.SetSnapshotVersion(resolved.Version)
		s.log.Debug().Int64("version", resolved.Version).Msg("Snapshot published")
	}

	// Staged side effects and durability are decoupled from snapshot-identity
	// change: a no-op commit still delivers them.
	if len(result.Mutations) > 0 || len(result.Events) > 0 {
		s.applyStaged(ctx, result)
	}
	if result.ForcePersist {
		s.persist(ctx, resolved)
	}

	if changed {
		executor.OnPublished(previous, resolved)
		s.events.PublishSnapshotPublished(resolved.Version)
	}
	return changed
}

func (s *Service) applyStaged(ctx context.Context, result *BatchResult) {
	if s.applier == nil {
		s.log.Warn().Int("mutations", len(result.Mutations)).Int("events", len(result.Events)).
			Msg("No external applier configured, dropping staged side effects")
		return
	}
	if err := s.applier.Apply(ctx, result.Mutations, result.Events); err != nil {
		// The snapshot has already swapped; the metadata and the external
		// system diverge until the next convergence pass heals them.
		divergence := NewTransientError("external applier failed after commit", err).WithCode(ErrCodeApplierDiverged)
		s.log.Warn().Err(divergence).Msg("Staged side effects not applied, state may transiently diverge")
		s.metrics.RecordApplierFailure()
		s.events.PublishApplierDiverged(err.Error())
	}
}

func (s *Service) persist(ctx context.Context, snapshot *Snapshot) {
	if s.persister == nil {
		return
	}
	if err := s.persister.PersistSnapshot(ctx, snapshot); err != nil {
		s.log.Warn().Err(err).Int64("version", snapshot.Version).
			Msg("Durability hook failed")
		s.metrics.RecordPersistFailure()
	}
}

// resolveOutcomes reports each task's outcome to its listener exactly once.
// A panicking listener is contained so it cannot take down the loop.
func (s *Service) resolveOutcomes(batch []*SubmittedTask, result *BatchResult) {
	for _, task := range batch {
		outcome := result.Outcomes[task.Token()]
		s.metrics.RecordTaskOutcome(task.Kind(), outcome.IsSuccess())
		if task.listener == nil {
			continue
		}
		s.notifyListener(task, outcome)
	}
}

func (s *Service) notifyListener(task *SubmittedTask, outcome *TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("task", task.Describe()).Interface("panic", r).
				Msg("Task listener panicked")
		}
	}()
	if outcome.IsSuccess() {
		task.listener.OnSuccess(task.Task())
	} else {
		task.listener.OnFailure(task.Task(), outcome.Err())
	}
}

func (s *Service) notifyAppliers(old, updated *Snapshot) {
	s.mu.RLock()
	appliers := append([]SnapshotApplier(nil), s.appliers...)
	s.mu.RUnlock()

	for _, applier := range appliers {
		s.notifyApplier(applier, old, updated)
	}
}

func (s *Service) notifyApplier(applier SnapshotApplier, old, updated *Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("Snapshot applier panicked")
		}
	}()
	applier.ApplySnapshotChange(old, updated)
}

// flushDeferred requeues parked owner-gated batches at the front of the
// queue so they are re-evaluated against the new snapshot. Requeued in
// reverse so the original arrival order is preserved.
func (s *Service) flushDeferred() {
	for i := len(s.deferred) - 1; i >= 0; i-- {
		s.queue.RequeueFront(s.deferred[i])
	}
	s.deferred = nil
}

// failRemaining resolves every still-queued and deferred task with an
// engine-stopped failure so no submitter hangs across shutdown.
func (s *Service) failRemaining() {
	stopErr := NewPermanentError("engine stopped before the task was executed", nil).WithCode(ErrCodeEngineStopped)

	remaining := s.deferred
	s.deferred = nil
	for {
		batch := s.queue.takeBatch()
		if batch == nil {
			break
		}
		remaining = append(remaining, batch)
	}
	for _, batch := range remaining {
		for _, task := range batch {
			if task.listener != nil {
				s.notifyListener(task, Failure(stopErr))
			}
		}
	}
}

func (s *Service) executor(kind string) Executor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executors[kind]
}

func batchStatus(result *BatchResult, fatal error) string {
	if fatal != nil {
		return "failed"
	}
	failures := 0
	for _, outcome := range result.Outcomes {
		if !outcome.IsSuccess() {
			failures++
		}
	}
	switch {
	case failures == 0:
		return "succeeded"
	case failures == len(result.Outcomes):
		return "failed"
	default:
		return "partial"
	}
}

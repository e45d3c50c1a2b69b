package secondary

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/statecraft-io/statecraft/pkg/cluster"
	"github.com/statecraft-io/statecraft/pkg/telemetry"
)

// SchemaManager performs the deferred external schema action. The action
// must be idempotent at the target: during membership churn two nodes may
// transiently both consider themselves owner and perform it twice.
type SchemaManager interface {
	CreateSecondaryIndex(ctx context.Context, keyspace, table, indexClass string) error
}

// Effect is one deferred action: create the secondary index backing the
// given mapping type of an index once the snapshot shows it ready.
type Effect struct {
	// Index is the target index name, the readiness lookup key.
	Index string `json:"index"`

	// MappingType is the mapping type whose presence in the snapshot
	// signals readiness.
	MappingType string `json:"mapping_type"`
}

// EffectStore persists the pending-effect set so it survives restarts.
// Implementations must treat saves as idempotent upserts.
type EffectStore interface {
	SavePendingEffect(ctx context.Context, key string, effect Effect) error
	DeletePendingEffect(ctx context.Context, key string) error
	ListPendingEffects(ctx context.Context) (map[string]Effect, error)
}

// Config configures a Synchronizer.
type Config struct {
	// LocalNodeID is the identity of this node.
	LocalNodeID string

	// IsOwner is the ownership predicate. Defaults to
	// cluster.StateUUIDOwner.
	IsOwner cluster.OwnerPredicate

	// Schema performs the external schema actions.
	Schema SchemaManager

	// Store persists pending effects. Optional; without it the pending set
	// is in-memory only.
	Store EffectStore

	// Workers is the size of the background worker pool performing schema
	// actions. Defaults to 2.
	Workers int

	// Logger is the structured logger. Defaults to a nop logger.
	Logger zerolog.Logger

	// Metrics records synchronizer metrics. Optional.
	Metrics *telemetry.Metrics

	// Tracer traces effect actions. Optional.
	Tracer *telemetry.Tracer

	// Events publishes operational events. Optional.
	Events *telemetry.EventPublisher
}

type job struct {
	key      string
	effect   Effect
	keyspace string
	class    string
}

// Synchronizer owns the pending-effect and pending-initialization sets and
// implements cluster.SnapshotApplier. One convergence pass runs per
// snapshot-change notification; the pass never blocks the apply loop beyond
// dispatching ready entries to the worker pool.
type Synchronizer struct {
	localID string
	isOwner cluster.OwnerPredicate
	schema  SchemaManager
	store   EffectStore

	mu           sync.Mutex
	pending      map[string]Effect
	initializing map[string]struct{}
	inflight     map[string]struct{}

	jobs   chan job
	wg     sync.WaitGroup
	cancel context.CancelFunc

	log     zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher
}

// New creates a synchronizer and reloads any persisted pending effects.
func New(cfg Config) *Synchronizer {
	if cfg.IsOwner == nil {
		cfg.IsOwner = cluster.StateUUIDOwner
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}

	s := &Synchronizer{
		localID:      cfg.LocalNodeID,
		isOwner:      cfg.IsOwner,
		schema:       cfg.Schema,
		store:        cfg.Store,
		pending:      map[string]Effect{},
		initializing: map[string]struct{}{},
		inflight:     map[string]struct{}{},
		jobs:         make(chan job, cfg.Workers*4),
		log:          cfg.Logger.With().Str("component", "secondary-synchronizer").Logger(),
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		events:       cfg.Events,
	}

	if s.store != nil {
		persisted, err := s.store.ListPendingEffects(context.Background())
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to reload persisted pending effects, starting empty")
		} else {
			s.pending = persisted
			if s.pending == nil {
				s.pending = map[string]Effect{}
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	return s
}

// Close stops the worker pool. Pending entries remain persisted for the
// next start.
func (s *Synchronizer) Close() {
	s.cancel()
	s.wg.Wait()
}

// RequestEffect adds a deferred effect for the index. Idempotent: requesting
// an effect for a key already pending is a no-op.
func (s *Synchronizer) RequestEffect(index string, mappingType string) {
	effect := Effect{Index: index, MappingType: mappingType}
	key := index

	s.mu.Lock()
	if _, exists := s.pending[key]; exists {
		s.mu.Unlock()
		return
	}
	s.pending[key] = effect
	count := len(s.pending)
	s.mu.Unlock()

	s.metrics.SetPendingEffects(count)
	s.events.PublishEffectRequested(index, mappingType)

	if s.store != nil {
		if err := s.store.SavePendingEffect(context.Background(), key, effect); err != nil {
			s.log.Warn().Err(err).Str("index", index).
				Msg("Failed to persist pending effect, continuing in memory")
		}
	}
}

// MarkInitializing records that the target is in a not-yet-ready state.
// Effects for it are held back until MarkStarted.
func (s *Synchronizer) MarkInitializing(index string) {
	s.mu.Lock()
	s.initializing[index] = struct{}{}
	s.mu.Unlock()
}

// MarkStarted clears the initializing state for the target.
func (s *Synchronizer) MarkStarted(index string) {
	s.mu.Lock()
	delete(s.initializing, index)
	s.mu.Unlock()
}

// PendingCount returns the number of effects still awaiting readiness.
func (s *Synchronizer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ApplySnapshotChange runs one convergence pass against the new snapshot.
// Implements cluster.SnapshotApplier; runs on the apply loop, so it only
// inspects state and dispatches ready entries without waiting for them.
func (s *Synchronizer) ApplySnapshotChange(old, updated *cluster.Snapshot) {
	if !s.isOwner(s.localID, updated) {
		return
	}

	for key, effect := range s.snapshotPending() {
		rec, found := updated.Index(effect.Index)
		if !found {
			s.log.Warn().Str("index", effect.Index).Int64("version", updated.Version).
				Msg("Index not found in new snapshot metadata")
			continue
		}
		if s.held(key, effect.Index) {
			continue
		}
		if _, ready := rec.Mappings[effect.MappingType]; !ready {
			s.metrics.RecordEffectResolution("skipped")
			continue
		}

		s.dispatch(job{
			key:      key,
			effect:   effect,
			keyspace: rec.Keyspace,
			class:    resolveIndexClass(rec, updated),
		})
	}
}

// resolveIndexClass picks the secondary index implementation: the index
// setting wins over the cluster-wide setting, which wins over the default.
func resolveIndexClass(rec cluster.IndexRecord, s *cluster.Snapshot) string {
	if class := rec.Settings[cluster.SettingSecondaryIndexClass]; class != "" {
		return class
	}
	if class := s.Settings[cluster.ClusterSettingSecondaryIndexClass]; class != "" {
		return class
	}
	return cluster.DefaultSecondaryIndexClass
}

// snapshotPending copies the pending set so the pass iterates a stable view.
func (s *Synchronizer) snapshotPending() map[string]Effect {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]Effect, len(s.pending))
	for key, effect := range s.pending {
		copied[key] = effect
	}
	return copied
}

// held reports whether the entry is initializing or already in flight.
func (s *Synchronizer) held(key, index string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, init := s.initializing[index]; init {
		return true
	}
	_, busy := s.inflight[key]
	return busy
}

// dispatch hands a ready entry to the worker pool without blocking. When the
// pool is saturated the entry simply stays pending for the next pass.
func (s *Synchronizer) dispatch(j job) {
	s.mu.Lock()
	s.inflight[j.key] = struct{}{}
	s.mu.Unlock()

	select {
	case s.jobs <- j:
	default:
		s.mu.Lock()
		delete(s.inflight, j.key)
		s.mu.Unlock()
		s.log.Debug().Str("index", j.effect.Index).
			Msg("Worker pool saturated, effect retried on next notification")
	}
}

func (s *Synchronizer) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			s.perform(ctx, j)
		}
	}
}

// perform executes one schema action. The entry leaves the pending set only
// on confirmed success; a failure leaves it for the next convergence pass.
func (s *Synchronizer) perform(ctx context.Context, j job) {
	spanCtx, span := s.tracer.StartEffectSpan(ctx, j.effect.Index, j.effect.MappingType)
	defer span.End()

	s.log.Debug().
		Str("keyspace", j.keyspace).
		Str("table", j.effect.MappingType).
		Str("class", j.class).
		Msg("Creating secondary indices")

	err := s.schema.CreateSecondaryIndex(spanCtx, j.keyspace, j.effect.MappingType, j.class)
	telemetry.RecordError(span, err)

	s.mu.Lock()
	delete(s.inflight, j.key)
	if err == nil {
		delete(s.pending, j.key)
	}
	count := len(s.pending)
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).
			Str("keyspace", j.keyspace).
			Str("table", j.effect.MappingType).
			Msg("Failed to create secondary indices")
		s.metrics.RecordEffectResolution("failed")
		s.events.PublishEffectFailed(j.effect.Index, j.effect.MappingType, err.Error())
		return
	}

	s.metrics.SetPendingEffects(count)
	s.metrics.RecordEffectResolution("applied")
	s.events.PublishEffectApplied(j.effect.Index, j.effect.MappingType)

	if s.store != nil {
		if err := s.store.DeletePendingEffect(context.Background(), j.key); err != nil {
			s.log.Warn().Err(err).Str("index", j.effect.Index).
				Msg("Failed to delete persisted pending effect")
		}
	}
}

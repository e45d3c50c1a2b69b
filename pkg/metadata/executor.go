package metadata

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/statecraft-io/statecraft/pkg/cluster"
	"github.com/statecraft-io/statecraft/pkg/secondary"
)

// KindIndexMetadata is the executor kind owning index-metadata tasks.
const KindIndexMetadata = "index-metadata"

// CreateIndexTask requests a new index record on the snapshot.
type CreateIndexTask struct {
	// Index is the new index name.
	Index string

	// Keyspace is the backing storage keyspace.
	Keyspace string

	// Settings are per-index settings.
	Settings map[string]string
}

// Describe implements cluster.Task.
func (t CreateIndexTask) Describe() string {
	return fmt.Sprintf("create-index [%s]", t.Index)
}

// PutMappingTask registers or updates a mapping type on an existing index.
type PutMappingTask struct {
	// Index is the target index name.
	Index string

	// Type is the mapping type name.
	Type string

	// Source is the serialized mapping definition.
	Source string
}

// Describe implements cluster.Task.
func (t PutMappingTask) Describe() string {
	return fmt.Sprintf("put-mapping [%s/%s]", t.Index, t.Type)
}

// Executor applies index-metadata batches. Owner-gated: index and mapping
// changes are coordinated by the designated owner only.
type Executor struct {
	cluster.OwnerGatedExecutor

	effects *secondary.Synchronizer
	log     zerolog.Logger

	// published collects the mappings applied by the last Execute call so
	// OnPublished can request their secondary indices. Safe without locking:
	// the apply loop serializes Execute and OnPublished.
	published []PutMappingTask
}

// NewExecutor creates the index-metadata executor. The synchronizer is
// optional; without it published mappings trigger no secondary effects.
func NewExecutor(effects *secondary.Synchronizer, logger zerolog.Logger) *Executor {
	return &Executor{
		effects: effects,
		log:     logger.With().Str("component", "index-metadata").Logger(),
	}
}

// Execute applies each task independently: a conflicting task fails alone
// and never aborts its siblings.
func (e *Executor) Execute(ctx context.Context, current *cluster.Snapshot, tasks []*cluster.SubmittedTask) (*cluster.BatchResult, error) {
	builder := cluster.NewResultBuilder()
	next := current
	var mutations []cluster.Mutation
	var events []cluster.SchemaEvent
	e.published = nil

	for _, submitted := range tasks {
		switch task := submitted.Task().(type) {
		case CreateIndexTask:
			if _, exists := next.Index(task.Index); exists {
				builder.Failure(submitted, cluster.NewConflictError(
					fmt.Sprintf("index %q already exists", task.Index), nil))
				continue
			}
			next = next.WithIndex(cluster.IndexRecord{
				Name:     task.Index,
				Keyspace: task.Keyspace,
				Mappings: map[string]cluster.MappingRecord{},
				Settings: task.Settings,
			})
			mutations = append(mutations, cluster.Mutation{
				Keyspace: task.Keyspace,
				Table:    task.Index,
				Payload:  []byte(fmt.Sprintf(`{"op":"create_table","index":%q}`, task.Index)),
			})
			events = append(events, cluster.SchemaEvent{
				Change:   "created",
				Keyspace: task.Keyspace,
				Target:   task.Index,
			})
			builder.Success(submitted)

		case PutMappingTask:
			rec, exists := next.Index(task.Index)
			if !exists {
				builder.Failure(submitted, cluster.NewConflictError(
					fmt.Sprintf("index %q does not exist", task.Index), nil))
				continue
			}
			mappings := make(map[string]cluster.MappingRecord, len(rec.Mappings)+1)
			for name, m := range rec.Mappings {
				mappings[name] = m
			}
			mappings[task.Type] = cluster.MappingRecord{Type: task.Type, Source: task.Source}
			rec.Mappings = mappings
			next = next.WithIndex(rec)
			mutations = append(mutations, cluster.Mutation{
				Keyspace: rec.Keyspace,
				Table:    task.Type,
				Payload:  []byte(fmt.Sprintf(`{"op":"alter_table","index":%q,"type":%q}`, task.Index, task.Type)),
			})
			events = append(events, cluster.SchemaEvent{
				Change:   "updated",
				Keyspace: rec.Keyspace,
				Target:   task.Type,
			})
			e.published = append(e.published, task)
			builder.Success(submitted)

		default:
			builder.Failure(submitted, cluster.NewPermanentError(
				fmt.Sprintf("unsupported task type %T", task), nil))
		}
	}

	if next == current {
		return builder.Build(nil,
			cluster.WithMutations(mutations...),
			cluster.WithEvents(events...)), nil
	}
	return builder.Build(next,
		cluster.WithForcePersist(),
		cluster.WithMutations(mutations...),
		cluster.WithEvents(events...)), nil
}

// OnPublished requests secondary-index creation for every mapping applied
// by the committed batch.
func (e *Executor) OnPublished(old, updated *cluster.Snapshot) {
	if e.effects == nil {
		return
	}
	for _, mapping := range e.published {
		e.log.Debug().Str("index", mapping.Index).Str("type", mapping.Type).
			Msg("Requesting secondary index for published mapping")
		e.effects.RequestEffect(mapping.Index, mapping.Type)
	}
	e.published = nil
}

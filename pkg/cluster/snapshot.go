package cluster

// Snapshot is an immutable, versioned view of the cluster metadata. A
// snapshot is never modified after construction; derivation helpers return a
// new value with Version incremented. Consumers decide whether a commit
// changed anything by comparing snapshot pointers, never by deep equality.
type Snapshot struct {
	// Version increases by one with every derived snapshot.
	Version int64 `json:"version"`

	// StateUUID identifies the node currently owning the metadata. The
	// ownership predicate compares it against the local node identity.
	StateUUID string `json:"state_uuid"`

	// Indices holds the named index records known to the cluster.
	Indices map[string]IndexRecord `json:"indices"`

	// Settings holds cluster-wide settings, consulted where no per-index
	// setting overrides them.
	Settings map[string]string `json:"settings,omitempty"`
}

// IndexRecord describes one index entity carried by the snapshot.
type IndexRecord struct {
	// Name is the index name, unique within a snapshot.
	Name string `json:"name"`

	// Keyspace is the backing storage keyspace for the index.
	Keyspace string `json:"keyspace"`

	// Mappings maps a mapping type name to its record.
	Mappings map[string]MappingRecord `json:"mappings,omitempty"`

	// Settings holds per-index settings.
	Settings map[string]string `json:"settings,omitempty"`
}

// MappingRecord describes one mapping type of an index.
type MappingRecord struct {
	// Type is the mapping type name.
	Type string `json:"type"`

	// Source is the serialized mapping definition.
	Source string `json:"source,omitempty"`
}

// Settings consulted by the secondary synchronizer. Resolution order: the
// index setting, then the cluster-wide setting, then the compiled-in default.
const (
	// SettingSecondaryIndexClass selects the secondary index implementation
	// for one index, overriding the cluster-wide setting.
	SettingSecondaryIndexClass = "index.secondary_index_class"

	// ClusterSettingSecondaryIndexClass selects the secondary index
	// implementation for every index that does not set its own.
	ClusterSettingSecondaryIndexClass = "cluster.secondary_index_class"

	// DefaultSecondaryIndexClass is used when neither the index nor the
	// cluster configures an implementation class.
	DefaultSecondaryIndexClass = "ElasticSecondaryIndex"
)

// NewSnapshot creates the initial snapshot for a cluster owned by the node
// identified by stateUUID.
func NewSnapshot(stateUUID string) *Snapshot {
	return &Snapshot{
		Version:   1,
		StateUUID: stateUUID,
		Indices:   map[string]IndexRecord{},
		Settings:  map[string]string{},
	}
}

// Index returns the named index record, if present.
func (s *Snapshot) Index(name string) (IndexRecord, bool) {
	rec, ok := s.Indices[name]
	return rec, ok
}

// Mapping returns the mapping record for the given index and type, if both
// exist in this snapshot.
func (s *Snapshot) Mapping(index, mappingType string) (MappingRecord, bool) {
	rec, ok := s.Indices[index]
	if !ok {
		return MappingRecord{}, false
	}
	m, ok := rec.Mappings[mappingType]
	return m, ok
}

// WithIndex returns a new snapshot containing rec, replacing any existing
// record with the same name. The receiver is not modified.
func (s *Snapshot) WithIndex(rec IndexRecord) *Snapshot {
	next := s.clone()
	next.Indices[rec.Name] = rec
	return next
}

// WithoutIndex returns a new snapshot without the named index. The receiver
// is not modified.
func (s *Snapshot) WithoutIndex(name string) *Snapshot {
	next := s.clone()
	delete(next.Indices, name)
	return next
}

// WithOwner returns a new snapshot owned by the given node identity.
func (s *Snapshot) WithOwner(stateUUID string) *Snapshot {
	next := s.clone()
	next.StateUUID = stateUUID
	return next
}

// WithSetting returns a new snapshot with the cluster-wide setting applied.
func (s *Snapshot) WithSetting(key, value string) *Snapshot {
	next := s.clone()
	next.Settings[key] = value
	return next
}

// clone copies the snapshot with Version+1 and fresh maps. Records are value
// types, so a shallow map copy is sufficient as long as callers never mutate
// nested maps of a record taken from a snapshot.
func (s *Snapshot) clone() *Snapshot {
	indices := make(map[string]IndexRecord, len(s.Indices))
	for name, rec := range s.Indices {
		indices[name] = rec
	}
	settings := make(map[string]string, len(s.Settings))
	for key, value := range s.Settings {
		settings[key] = value
	}
	return &Snapshot{
		Version:   s.Version + 1,
		StateUUID: s.StateUUID,
		Indices:   indices,
		Settings:  settings,
	}
}

// OwnerPredicate reports whether the node identified by localID is the
// designated owner under the given snapshot. It must be a pure function of
// its inputs. It may transiently evaluate true on more than one node during
// membership churn, which is tolerated only because every owner-gated action
// must be idempotent at its target.
type OwnerPredicate func(localID string, s *Snapshot) bool

// StateUUIDOwner is the default ownership predicate: the local node owns the
// metadata when the snapshot's state UUID equals its identity.
func StateUUIDOwner(localID string, s *Snapshot) bool {
	return s != nil && s.StateUUID == localID
}

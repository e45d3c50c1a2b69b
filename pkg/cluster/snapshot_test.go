package cluster

import "testing"

func TestSnapshot_DerivationLeavesReceiverUntouched(t *testing.T) {
	base := NewSnapshot("node-1")

	next := base.WithIndex(IndexRecord{Name: "logs", Keyspace: "logs_ks"})

	if next == base {
		t.Fatal("derivation must return a new snapshot value")
	}
	if next.Version != base.Version+1 {
		t.Errorf("expected version %d, got %d", base.Version+1, next.Version)
	}
	if _, ok := base.Index("logs"); ok {
		t.Error("the base snapshot must not see the new index")
	}
	if _, ok := next.Index("logs"); !ok {
		t.Error("the derived snapshot must contain the new index")
	}
}

func TestSnapshot_WithoutIndex(t *testing.T) {
	base := NewSnapshot("node-1").WithIndex(IndexRecord{Name: "logs", Keyspace: "logs_ks"})

	next := base.WithoutIndex("logs")

	if _, ok := next.Index("logs"); ok {
		t.Error("the derived snapshot must not contain the removed index")
	}
	if _, ok := base.Index("logs"); !ok {
		t.Error("the base snapshot must keep the index")
	}
}

func TestSnapshot_WithSetting(t *testing.T) {
	base := NewSnapshot("node-1")

	next := base.WithSetting(ClusterSettingSecondaryIndexClass, "ClusterWideIndex")

	if next.Settings[ClusterSettingSecondaryIndexClass] != "ClusterWideIndex" {
		t.Error("the derived snapshot must carry the cluster-wide setting")
	}
	if _, ok := base.Settings[ClusterSettingSecondaryIndexClass]; ok {
		t.Error("the base snapshot must not see the new setting")
	}
	if next.Version != base.Version+1 {
		t.Errorf("expected version %d, got %d", base.Version+1, next.Version)
	}
}

func TestSnapshot_MappingLookup(t *testing.T) {
	s := NewSnapshot("node-1").WithIndex(IndexRecord{
		Name:     "logs",
		Keyspace: "logs_ks",
		Mappings: map[string]MappingRecord{
			"event": {Type: "event", Source: `{"properties":{}}`},
		},
	})

	if _, ok := s.Mapping("logs", "event"); !ok {
		t.Error("expected the mapping to be found")
	}
	if _, ok := s.Mapping("logs", "missing"); ok {
		t.Error("unknown mapping type must not be found")
	}
	if _, ok := s.Mapping("missing", "event"); ok {
		t.Error("unknown index must not be found")
	}
}

func TestStateUUIDOwner(t *testing.T) {
	s := NewSnapshot("node-1")

	if !StateUUIDOwner("node-1", s) {
		t.Error("the node matching the state UUID must be owner")
	}
	if StateUUIDOwner("node-2", s) {
		t.Error("a non-matching node must not be owner")
	}
	if StateUUIDOwner("node-1", nil) {
		t.Error("a nil snapshot has no owner")
	}

	handed := s.WithOwner("node-2")
	if StateUUIDOwner("node-1", handed) || !StateUUIDOwner("node-2", handed) {
		t.Error("WithOwner must move ownership to the new identity")
	}
}

func TestDescribeTasks_SkipsEmptyDescriptions(t *testing.T) {
	tasks := []*SubmittedTask{
		submitted("k", "first"),
		submitted("k", ""),
		submitted("k", "third"),
	}

	if got := DescribeTasks(tasks); got != "first, third" {
		t.Errorf("expected %q, got %q", "first, third", got)
	}
	if got := DescribeTasks(nil); got != "" {
		t.Errorf("expected empty description, got %q", got)
	}
}

package stores

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/statecraft-io/statecraft/pkg/cluster"
	"github.com/statecraft-io/statecraft/pkg/secondary"
)

func newTestStore(t *testing.T) *MetadataStore {
	t.Helper()
	store, err := NewMetadataStore(Config{Path: filepath.Join(t.TempDir(), "meta.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewMetadataStore_RequiresPath(t *testing.T) {
	if _, err := NewMetadataStore(Config{}); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestMetadataStore_LatestSnapshotEmpty(t *testing.T) {
	store := newTestStore(t)

	snapshot, err := store.LatestSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot != nil {
		t.Fatal("an empty store must report no snapshot, not an error")
	}
}

func TestMetadataStore_PersistAndLoadSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := cluster.NewSnapshot("node-1").
		WithSetting(cluster.ClusterSettingSecondaryIndexClass, "ClusterWideIndex")
	second := first.WithIndex(cluster.IndexRecord{
		Name:     "logs",
		Keyspace: "logs_ks",
		Mappings: map[string]cluster.MappingRecord{
			"event": {Type: "event", Source: `{"properties":{}}`},
		},
		Settings: map[string]string{cluster.SettingSecondaryIndexClass: "CustomIndex"},
	})

	if err := store.PersistSnapshot(ctx, first); err != nil {
		t.Fatalf("failed to persist first snapshot: %v", err)
	}
	if err := store.PersistSnapshot(ctx, second); err != nil {
		t.Fatalf("failed to persist second snapshot: %v", err)
	}

	loaded, err := store.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a snapshot")
	}
	if loaded.Version != second.Version || loaded.StateUUID != "node-1" {
		t.Errorf("expected version %d owned by node-1, got version %d owned by %s",
			second.Version, loaded.Version, loaded.StateUUID)
	}
	rec, ok := loaded.Index("logs")
	if !ok {
		t.Fatal("expected the logs index to round-trip")
	}
	if rec.Keyspace != "logs_ks" {
		t.Errorf("unexpected keyspace %q", rec.Keyspace)
	}
	if m, ok := rec.Mappings["event"]; !ok || m.Source != `{"properties":{}}` {
		t.Errorf("mapping did not round-trip: %+v", rec.Mappings)
	}
	if rec.Settings[cluster.SettingSecondaryIndexClass] != "CustomIndex" {
		t.Errorf("index settings did not round-trip: %+v", rec.Settings)
	}
	if loaded.Settings[cluster.ClusterSettingSecondaryIndexClass] != "ClusterWideIndex" {
		t.Errorf("cluster settings did not round-trip: %+v", loaded.Settings)
	}
}

func TestMetadataStore_PersistSameVersionIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snapshot := cluster.NewSnapshot("node-1")
	if err := store.PersistSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("first persist failed: %v", err)
	}
	if err := store.PersistSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("repeated persist of the same version must not fail: %v", err)
	}
}

func TestMetadataStore_PendingEffectLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	effect := secondary.Effect{Index: "logs", MappingType: "event"}
	if err := store.SavePendingEffect(ctx, "logs", effect); err != nil {
		t.Fatalf("failed to save effect: %v", err)
	}
	// Saving the same key again keeps the first write.
	if err := store.SavePendingEffect(ctx, "logs", secondary.Effect{Index: "logs", MappingType: "other"}); err != nil {
		t.Fatalf("repeated save must not fail: %v", err)
	}

	effects, err := store.ListPendingEffects(ctx)
	if err != nil {
		t.Fatalf("failed to list effects: %v", err)
	}
	if len(effects) != 1 {
		t.Fatalf("expected 1 effect, got %d", len(effects))
	}
	if effects["logs"] != effect {
		t.Errorf("expected %+v, got %+v", effect, effects["logs"])
	}

	if err := store.DeletePendingEffect(ctx, "logs"); err != nil {
		t.Fatalf("failed to delete effect: %v", err)
	}
	if err := store.DeletePendingEffect(ctx, "logs"); err != nil {
		t.Fatalf("deleting an absent key must be a no-op: %v", err)
	}

	effects, err = store.ListPendingEffects(ctx)
	if err != nil {
		t.Fatalf("failed to list effects: %v", err)
	}
	if len(effects) != 0 {
		t.Fatalf("expected no effects, got %d", len(effects))
	}
}

func TestMetadataStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.db")
	ctx := context.Background()

	store, err := NewMetadataStore(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	snapshot := cluster.NewSnapshot("node-1").WithIndex(cluster.IndexRecord{Name: "logs", Keyspace: "ks"})
	if err := store.PersistSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("failed to persist snapshot: %v", err)
	}
	if err := store.SavePendingEffect(ctx, "logs", secondary.Effect{Index: "logs", MappingType: "event"}); err != nil {
		t.Fatalf("failed to save effect: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened, err := NewMetadataStore(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to recreate store: %v", err)
	}
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("failed to reinit store: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	loaded, err := reopened.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if loaded == nil || loaded.Version != snapshot.Version {
		t.Fatal("the persisted snapshot must survive a reopen")
	}
	effects, err := reopened.ListPendingEffects(ctx)
	if err != nil {
		t.Fatalf("failed to list effects: %v", err)
	}
	if len(effects) != 1 {
		t.Fatalf("the pending effect must survive a reopen, got %d", len(effects))
	}
}

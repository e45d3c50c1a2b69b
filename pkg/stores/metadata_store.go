package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/statecraft-io/statecraft/pkg/cluster"
	"github.com/statecraft-io/statecraft/pkg/secondary"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MetadataStore persists committed snapshots and pending secondary effects
// in SQLite. It implements cluster.Persister and secondary.EffectStore.
type MetadataStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewMetadataStore creates a new store instance. Call Init before use.
func NewMetadataStore(cfg Config) (*MetadataStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &MetadataStore{path: cfg.Path}, nil
}

// Init opens the database connection, enables WAL mode, and runs migrations.
func (s *MetadataStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
func (s *MetadataStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *MetadataStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// PersistSnapshot writes the committed snapshot. Writing the same version
// twice is an upsert, so the durability hook is idempotent.
func (s *MetadataStore) PersistSnapshot(ctx context.Context, snapshot *cluster.Snapshot) error {
	indices, err := json.Marshal(snapshot.Indices)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot indices: %w", err)
	}
	settings, err := json.Marshal(snapshot.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (version, state_uuid, indices, settings)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(version) DO UPDATE SET
		   state_uuid = excluded.state_uuid,
		   indices = excluded.indices,
		   settings = excluded.settings`,
		snapshot.Version, snapshot.StateUUID, string(indices), string(settings),
	)
	if err != nil {
		return fmt.Errorf("failed to persist snapshot version %d: %w", snapshot.Version, err)
	}
	return nil
}

// LatestSnapshot returns the highest-version persisted snapshot, or nil when
// none has been persisted yet.
func (s *MetadataStore) LatestSnapshot(ctx context.Context) (*cluster.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, state_uuid, indices, settings FROM snapshots ORDER BY version DESC LIMIT 1`)

	var (
		version   int64
		stateUUID string
		indices   string
		settings  string
	)
	if err := row.Scan(&version, &stateUUID, &indices, &settings); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}

	snapshot := &cluster.Snapshot{
		Version:   version,
		StateUUID: stateUUID,
		Indices:   map[string]cluster.IndexRecord{},
		Settings:  map[string]string{},
	}
	if err := json.Unmarshal([]byte(indices), &snapshot.Indices); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot indices: %w", err)
	}
	if err := json.Unmarshal([]byte(settings), &snapshot.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot settings: %w", err)
	}
	return snapshot, nil
}

// SavePendingEffect upserts one pending effect.
func (s *MetadataStore) SavePendingEffect(ctx context.Context, key string, effect secondary.Effect) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_effects (key, idx, mapping_type)
		 VALUES (?, ?, ?)
		 ON CONFLICT(key) DO NOTHING`,
		key, effect.Index, effect.MappingType,
	)
	if err != nil {
		return fmt.Errorf("failed to save pending effect %q: %w", key, err)
	}
	return nil
}

// DeletePendingEffect removes one pending effect. Deleting an absent key is
// a no-op.
func (s *MetadataStore) DeletePendingEffect(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_effects WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete pending effect %q: %w", key, err)
	}
	return nil
}

// ListPendingEffects returns all persisted pending effects keyed by their
// request key.
func (s *MetadataStore) ListPendingEffects(ctx context.Context) (map[string]secondary.Effect, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, idx, mapping_type FROM pending_effects`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending effects: %w", err)
	}
	defer rows.Close()

	effects := map[string]secondary.Effect{}
	for rows.Next() {
		var (
			key    string
			effect secondary.Effect
		)
		if err := rows.Scan(&key, &effect.Index, &effect.MappingType); err != nil {
			return nil, fmt.Errorf("failed to scan pending effect: %w", err)
		}
		effects[key] = effect
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending effects: %w", err)
	}
	return effects, nil
}

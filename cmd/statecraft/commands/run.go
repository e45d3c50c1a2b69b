package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/statecraft-io/statecraft/pkg/cluster"
	"github.com/statecraft-io/statecraft/pkg/config"
	"github.com/statecraft-io/statecraft/pkg/metadata"
	"github.com/statecraft-io/statecraft/pkg/secondary"
	"github.com/statecraft-io/statecraft/pkg/stores"
	"github.com/statecraft-io/statecraft/pkg/telemetry"
)

func newRunCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the convergence engine",
		Long: `Start the convergence engine and block until interrupted.

The engine loads the latest persisted snapshot (when storage is configured),
registers the built-in index-metadata executor, and serves Prometheus
metrics on the configured listen address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), version)
		},
	}
}

func runEngine(ctx context.Context, version string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	provider, err := telemetry.NewProvider(cfg.Telemetry(version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	logger := telemetry.NodeLogger(provider.Logger, cfg.Node.ID)
	if err := provider.Metrics.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	var (
		store   *stores.MetadataStore
		initial *cluster.Snapshot
	)
	if cfg.Storage.Path != "" {
		store, err = stores.NewMetadataStore(stores.Config{Path: cfg.Storage.Path})
		if err != nil {
			return err
		}
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize metadata store: %w", err)
		}
		defer func() { _ = store.Close() }()

		initial, err = store.LatestSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("failed to load persisted snapshot: %w", err)
		}
		if initial != nil {
			logger.Info().Int64("version", initial.Version).Msg("Recovered persisted snapshot")
		}
	}

	serviceCfg := cluster.ServiceConfig{
		LocalNodeID: cfg.Node.ID,
		Initial:     initial,
		Applier:     &loggingApplier{log: logger},
		Logger:      logger,
		Metrics:     provider.Metrics,
		Tracer:      provider.Tracer,
		Events:      provider.Events,
	}
	if store != nil {
		serviceCfg.Persister = store
	}
	service := cluster.NewService(serviceCfg)

	syncCfg := secondary.Config{
		LocalNodeID: cfg.Node.ID,
		Schema:      &loggingSchemaManager{log: logger},
		Workers:     cfg.Synchronizer.Workers,
		Logger:      logger,
		Metrics:     provider.Metrics,
		Tracer:      provider.Tracer,
		Events:      provider.Events,
	}
	if store != nil {
		syncCfg.Store = store
	}
	synchronizer := secondary.New(syncCfg)
	defer synchronizer.Close()

	service.RegisterApplier(synchronizer)
	if err := service.RegisterExecutor(metadata.KindIndexMetadata,
		metadata.NewExecutor(synchronizer, logger)); err != nil {
		return err
	}

	// Watch the config file so the log level can change at runtime.
	watcher, err := config.NewWatcher(configPath, logger, func(next *config.Config) {
		zerolog.SetGlobalLevel(telemetry.ParseLevel(next.Logging.Level))
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Config watcher unavailable, log level fixed for this run")
	} else {
		defer func() { _ = watcher.Close() }()
	}

	if err := service.Start(ctx); err != nil {
		return err
	}
	logger.Info().Str("node", cfg.Node.ID).Msg("Convergence engine started")

	<-ctx.Done()
	service.Stop()
	logger.Info().Msg("Convergence engine stopped")
	return nil
}

// loggingApplier stands in for the storage-system transport: staged
// mutations and schema events are logged instead of executed. Embedding
// deployments supply a real applier.
type loggingApplier struct {
	log zerolog.Logger
}

func (a *loggingApplier) Apply(_ context.Context, mutations []cluster.Mutation, events []cluster.SchemaEvent) error {
	for _, m := range mutations {
		a.log.Info().Str("keyspace", m.Keyspace).Str("table", m.Table).
			Msg("Staged mutation")
	}
	for _, e := range events {
		a.log.Info().Str("change", e.Change).Str("keyspace", e.Keyspace).
			Str("target", e.Target).Msg("Staged schema event")
	}
	return nil
}

// loggingSchemaManager stands in for the storage-system schema interface.
type loggingSchemaManager struct {
	log zerolog.Logger
}

func (m *loggingSchemaManager) CreateSecondaryIndex(_ context.Context, keyspace, table, indexClass string) error {
	m.log.Info().Str("keyspace", keyspace).Str("table", table).Str("class", indexClass).
		Msg("Secondary index created")
	return nil
}

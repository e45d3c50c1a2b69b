package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/statecraft-io/statecraft/pkg/telemetry"
)

// Config is the root engine configuration.
type Config struct {
	// Node identifies the local node.
	Node NodeConfig `yaml:"node" validate:"required"`

	// Synchronizer configures the secondary-effect synchronizer.
	Synchronizer SynchronizerConfig `yaml:"synchronizer"`

	// Storage configures the SQLite metadata store.
	Storage StorageConfig `yaml:"storage"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures OpenTelemetry tracing.
	Tracing TracingConfig `yaml:"tracing"`
}

// NodeConfig identifies the local node.
type NodeConfig struct {
	// ID is the node identity compared against the snapshot's owner field.
	ID string `yaml:"id" validate:"required"`

	// Name is a human-readable node name.
	Name string `yaml:"name"`
}

// SynchronizerConfig configures the secondary-effect synchronizer.
type SynchronizerConfig struct {
	// Workers is the background worker pool size for schema actions.
	Workers int `yaml:"workers" validate:"gte=0,lte=64"`
}

// StorageConfig configures the metadata store.
type StorageConfig struct {
	// Path is the SQLite database path. Empty disables persistence.
	Path string `yaml:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"oneof=console json"`
	Output string `yaml:"output"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address" validate:"required_if=Enabled true"`
	Namespace     string `yaml:"namespace"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// Default returns the default configuration. The node ID must still be set
// by the caller or the file.
func Default() *Config {
	return &Config{
		Synchronizer: SynchronizerConfig{Workers: 2},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9464",
			Namespace:     "statecraft",
		},
		Tracing: TracingConfig{
			Exporter:     "stdout",
			SamplingRate: 1.0,
		},
	}
}

// Load reads, merges over defaults, and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Telemetry maps the configuration onto the telemetry layer.
func (c *Config) Telemetry(version string) *telemetry.Config {
	return &telemetry.Config{
		ServiceName:    "statecraft",
		ServiceVersion: version,
		Environment:    "production",
		Logging: telemetry.LoggingConfig{
			Level:  c.Logging.Level,
			Format: c.Logging.Format,
			Output: c.Logging.Output,
		},
		Tracing: telemetry.TracingConfig{
			Enabled:       c.Tracing.Enabled,
			Exporter:      c.Tracing.Exporter,
			Endpoint:      c.Tracing.Endpoint,
			SamplingRate:  c.Tracing.SamplingRate,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: telemetry.MetricsConfig{
			Enabled:       c.Metrics.Enabled,
			ListenAddress: c.Metrics.ListenAddress,
			Path:          "/metrics",
			Namespace:     c.Metrics.Namespace,
		},
		Events: telemetry.EventsConfig{
			Enabled:    true,
			BufferSize: 1024,
		},
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statecraft.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
node:
  id: node-1
  name: rack1-a
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Node.ID != "node-1" || cfg.Node.Name != "rack1-a" {
		t.Errorf("node config not loaded: %+v", cfg.Node)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %q", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Logging.Format != "console" {
		t.Errorf("expected default console format, got %q", cfg.Logging.Format)
	}
	if cfg.Synchronizer.Workers != 2 {
		t.Errorf("expected default 2 workers, got %d", cfg.Synchronizer.Workers)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.ListenAddress != ":9464" {
		t.Errorf("expected default metrics config, got %+v", cfg.Metrics)
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoad_MalformedYAMLFails(t *testing.T) {
	path := writeConfig(t, "node: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}

func TestLoad_MissingNodeIDFails(t *testing.T) {
	path := writeConfig(t, `
node:
  name: unnamed
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected a validation error for a missing node id")
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"negative workers", func(c *Config) { c.Synchronizer.Workers = -1 }},
		{"too many workers", func(c *Config) { c.Synchronizer.Workers = 1000 }},
		{"bad tracing exporter", func(c *Config) { c.Tracing.Exporter = "jaeger2" }},
		{"sampling rate above one", func(c *Config) { c.Tracing.SamplingRate = 1.5 }},
		{"metrics enabled without address", func(c *Config) { c.Metrics.ListenAddress = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Node.ID = "node-1"
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestTelemetryMapping(t *testing.T) {
	cfg := Default()
	cfg.Node.ID = "node-1"
	cfg.Logging.Level = "warn"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "collector:4317"

	tel := cfg.Telemetry("1.2.3")

	if tel.ServiceVersion != "1.2.3" {
		t.Errorf("expected version to pass through, got %q", tel.ServiceVersion)
	}
	if tel.Logging.Level != "warn" {
		t.Errorf("expected warn level, got %q", tel.Logging.Level)
	}
	if !tel.Tracing.Enabled || tel.Tracing.Exporter != "otlp" || tel.Tracing.Endpoint != "collector:4317" {
		t.Errorf("tracing config did not map: %+v", tel.Tracing)
	}
	if tel.Metrics.Path != "/metrics" {
		t.Errorf("expected the fixed metrics path, got %q", tel.Metrics.Path)
	}
}

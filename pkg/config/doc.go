// Package config loads and validates the Statecraft engine configuration
// from YAML and watches the file for runtime log-level changes.
package config

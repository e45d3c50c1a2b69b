package telemetry

import (
	"context"

	"github.com/rs/zerolog"
)

// Provider bundles the telemetry components built from one configuration.
type Provider struct {
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewProvider creates all telemetry components from the configuration.
func NewProvider(cfg *Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Provider{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// Shutdown gracefully shuts down the telemetry components in reverse order
// of initialization. The metrics endpoint keeps serving until process exit.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.Events.Shutdown(ctx); err != nil {
		return err
	}
	return p.Tracer.Shutdown(ctx)
}

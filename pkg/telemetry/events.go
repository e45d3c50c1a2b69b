package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents one operational event emitted by the engine.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Kind is the executor kind involved, if applicable.
	Kind string `json:"kind,omitempty"`

	// Index is the index involved, if applicable.
	Index string `json:"index,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message,omitempty"`

	// Data contains additional event-specific fields.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event type constants.
const (
	EventTypeBatchCompleted    = "batch.completed"
	EventTypeBatchFailed       = "batch.failed"
	EventTypeSnapshotPublished = "snapshot.published"
	EventTypeApplierDiverged   = "applier.diverged"
	EventTypeEffectRequested   = "effect.requested"
	EventTypeEffectApplied     = "effect.applied"
	EventTypeEffectFailed      = "effect.failed"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventPublisher fans operational events out to subscribers from a buffered
// channel so publishing never blocks the apply loop. A nil *EventPublisher
// is valid and publishes nothing.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	mu          sync.RWMutex
	subscribers []EventSubscriber
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewEventPublisher creates a new event publisher with the given
// configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go ep.dispatch(ctx)
	return ep, nil
}

// Subscribe registers a subscriber for all subsequent events.
func (p *EventPublisher) Subscribe(fn EventSubscriber) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.subscribers = append(p.subscribers, fn)
	p.mu.Unlock()
}

// Publish enqueues an event. When the buffer is full the event is dropped;
// the operational stream is best-effort by design.
func (p *EventPublisher) Publish(event Event) {
	if p == nil || !p.config.Enabled {
		return
	}
	event.ID = uuid.New().String()
	event.Timestamp = time.Now()
	select {
	case p.buffer <- event:
	default:
	}
}

// Shutdown stops the dispatch loop after draining buffered events.
func (p *EventPublisher) Shutdown(ctx context.Context) error {
	if p == nil || !p.config.Enabled {
		return nil
	}
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *EventPublisher) dispatch(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case event := <-p.buffer:
			p.deliver(event)
		case <-ctx.Done():
			// Drain what is already buffered before exiting.
			for {
				select {
				case event := <-p.buffer:
					p.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (p *EventPublisher) deliver(event Event) {
	p.mu.RLock()
	subscribers := append([]EventSubscriber(nil), p.subscribers...)
	p.mu.RUnlock()
	for _, fn := range subscribers {
		fn(event)
	}
}

// PublishBatchCompleted reports one executed batch.
func (p *EventPublisher) PublishBatchCompleted(kind, status string, size int) {
	p.Publish(Event{
		Type: EventTypeBatchCompleted,
		Kind: kind,
		Data: map[string]interface{}{"status": status, "size": size},
	})
}

// PublishBatchFailed reports a batch-fatal executor failure.
func (p *EventPublisher) PublishBatchFailed(kind, message string) {
	p.Publish(Event{Type: EventTypeBatchFailed, Kind: kind, Message: message})
}

// PublishSnapshotPublished reports a committed snapshot change.
func (p *EventPublisher) PublishSnapshotPublished(version int64) {
	p.Publish(Event{
		Type: EventTypeSnapshotPublished,
		Data: map[string]interface{}{"version": version},
	})
}

// PublishApplierDiverged reports an external applier failure after commit.
func (p *EventPublisher) PublishApplierDiverged(message string) {
	p.Publish(Event{Type: EventTypeApplierDiverged, Message: message})
}

// PublishEffectRequested reports a newly requested secondary effect.
func (p *EventPublisher) PublishEffectRequested(index, mappingType string) {
	p.Publish(Event{
		Type:  EventTypeEffectRequested,
		Index: index,
		Data:  map[string]interface{}{"mapping_type": mappingType},
	})
}

// PublishEffectApplied reports a confirmed secondary effect.
func (p *EventPublisher) PublishEffectApplied(index, mappingType string) {
	p.Publish(Event{
		Type:  EventTypeEffectApplied,
		Index: index,
		Data:  map[string]interface{}{"mapping_type": mappingType},
	})
}

// PublishEffectFailed reports a transient secondary effect failure.
func (p *EventPublisher) PublishEffectFailed(index, mappingType, message string) {
	p.Publish(Event{
		Type:    EventTypeEffectFailed,
		Index:   index,
		Message: message,
		Data:    map[string]interface{}{"mapping_type": mappingType},
	})
}

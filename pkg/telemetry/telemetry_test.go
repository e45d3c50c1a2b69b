package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace": zerolog.TraceLevel,
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"fatal": zerolog.FatalLevel,
		"bogus": zerolog.InfoLevel,
		"":      zerolog.InfoLevel,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestMetrics_NilAndDisabledAreSafe(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.RecordBatch("meta", "succeeded", 3, time.Millisecond)
	nilMetrics.RecordTaskOutcome("meta", true)
	nilMetrics.SetQueueDepth(1)
	nilMetrics.SetSnapshotVersion(42)
	nilMetrics.RecordApplierFailure()
	nilMetrics.SetPendingEffects(1)
	nilMetrics.RecordEffectResolution("applied")

	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	disabled.RecordBatch("meta", "succeeded", 3, time.Millisecond)
	if disabled.Registry() != nil {
		t.Error("a disabled collector must not build a registry")
	}
}

func TestMetrics_RecordsCounters(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.RecordBatch("meta", "succeeded", 3, 5*time.Millisecond)
	m.RecordBatch("meta", "succeeded", 1, time.Millisecond)
	m.RecordTaskOutcome("meta", true)
	m.RecordTaskOutcome("meta", false)
	m.SetSnapshotVersion(7)

	if got := testutil.ToFloat64(m.batchesExecuted.WithLabelValues("meta", "succeeded")); got != 2 {
		t.Errorf("expected 2 executed batches, got %v", got)
	}
	if got := testutil.ToFloat64(m.taskOutcomes.WithLabelValues("meta", "failure")); got != 1 {
		t.Errorf("expected 1 task failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.snapshotVersion); got != 7 {
		t.Errorf("expected snapshot version 7, got %v", got)
	}
}

func TestEventPublisher_DeliversToSubscribers(t *testing.T) {
	publisher, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 16})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var mu sync.Mutex
	var received []Event
	done := make(chan struct{}, 4)
	publisher.Subscribe(func(event Event) {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
		done <- struct{}{}
	})

	publisher.PublishBatchCompleted("meta", "succeeded", 3)
	publisher.PublishEffectApplied("logs", "event")

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event delivery")
		}
	}
	if err := publisher.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("expected 2 events, got %d", len(received))
	}
	if received[0].Type != EventTypeBatchCompleted || received[1].Type != EventTypeEffectApplied {
		t.Errorf("unexpected event order: %s, %s", received[0].Type, received[1].Type)
	}
	for _, event := range received {
		if event.ID == "" || event.Timestamp.IsZero() {
			t.Error("delivered events must carry an ID and timestamp")
		}
	}
}

func TestEventPublisher_NilAndDisabledAreSafe(t *testing.T) {
	var nilPublisher *EventPublisher
	nilPublisher.Publish(Event{Type: EventTypeBatchCompleted})
	nilPublisher.Subscribe(func(Event) {})
	if err := nilPublisher.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil shutdown must succeed: %v", err)
	}

	disabled, err := NewEventPublisher(EventsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	disabled.PublishBatchFailed("meta", "boom")
	if err := disabled.Shutdown(context.Background()); err != nil {
		t.Fatalf("disabled shutdown must succeed: %v", err)
	}
}

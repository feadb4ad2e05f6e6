package events

import (
	"context"
	"errors"
	"testing"
)

func TestDispatcherDeliversToSubscribers(t *testing.T) {
	d := NewInMemoryDispatcher()

	var created, transferred int
	d.Subscribe(EventAssignmentCreated, func(ctx context.Context, e Event) error {
		created++
		return nil
	})
	d.Subscribe(EventAssignmentTransferred, func(ctx context.Context, e Event) error {
		transferred++
		return nil
	})

	if err := d.Publish(context.Background(), Event{Type: EventAssignmentCreated}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if created != 1 || transferred != 0 {
		t.Fatalf("delivered = (%d, %d), want (1, 0)", created, transferred)
	}
}

func TestDispatcherHandlerErrorDoesNotStopDelivery(t *testing.T) {
	d := NewInMemoryDispatcher()

	var second bool
	d.Subscribe(EventAssignmentCompleted, func(ctx context.Context, e Event) error {
		return errors.New("handler failed")
	})
	d.Subscribe(EventAssignmentCompleted, func(ctx context.Context, e Event) error {
		second = true
		return nil
	})

	if err := d.Publish(context.Background(), Event{Type: EventAssignmentCompleted}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !second {
		t.Fatal("second handler skipped after first errored")
	}
}

func TestDispatcherNoSubscribersIsNoop(t *testing.T) {
	d := NewInMemoryDispatcher()
	if err := d.Publish(context.Background(), Event{Type: EventAssignmentCancelled}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestAllTypesCoversLifecycle(t *testing.T) {
	want := map[EventType]bool{
		EventAssignmentCreated:     true,
		EventAssignmentTransferred: true,
		EventAssignmentEscalated:   true,
		EventAssignmentCompleted:   true,
		EventAssignmentCancelled:   true,
	}
	got := AllTypes()
	if len(got) != len(want) {
		t.Fatalf("AllTypes() = %v, want %d entries", got, len(want))
	}
	for _, eventType := range got {
		if !want[eventType] {
			t.Errorf("unexpected event type %s", eventType)
		}
	}
}

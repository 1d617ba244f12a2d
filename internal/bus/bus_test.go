package bus

import (
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/socratat-b/orderbean/internal/event"
)

func newTestBus() *Bus {
	return New(zerolog.Nop())
}

func TestPublishPreservesOrder(t *testing.T) {
	b := newTestBus()
	var got []string
	sub := b.Subscribe(event.TopicOrderCreated, func(_ event.Topic, ev event.OrderEvent) {
		got = append(got, ev.OrderID)
	})
	defer sub.Cancel()

	want := []string{"o1", "o2", "o3", "o4"}
	for _, id := range want {
		b.Publish(event.TopicOrderCreated, event.OrderEvent{OrderID: id})
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("delivery order %v, want %v", got, want)
	}
}

func TestPanickingSubscriberIsolated(t *testing.T) {
	b := newTestBus()
	var first, second []string
	b.Subscribe(event.TopicOrderUpdated, func(_ event.Topic, ev event.OrderEvent) {
		if ev.OrderID == "boom" {
			panic("subscriber broke")
		}
		first = append(first, ev.OrderID)
	})
	b.Subscribe(event.TopicOrderUpdated, func(_ event.Topic, ev event.OrderEvent) {
		second = append(second, ev.OrderID)
	})

	b.Publish(event.TopicOrderUpdated, event.OrderEvent{OrderID: "boom"})
	b.Publish(event.TopicOrderUpdated, event.OrderEvent{OrderID: "ok"})

	if !reflect.DeepEqual(first, []string{"ok"}) {
		t.Fatalf("first subscriber got %v", first)
	}
	if !reflect.DeepEqual(second, []string{"boom", "ok"}) {
		t.Fatalf("second subscriber got %v, want both events", second)
	}
}

func TestNoReplayForLateSubscriber(t *testing.T) {
	b := newTestBus()
	b.Publish(event.TopicOrderCreated, event.OrderEvent{OrderID: "early"})

	var got []string
	b.Subscribe(event.TopicOrderCreated, func(_ event.Topic, ev event.OrderEvent) {
		got = append(got, ev.OrderID)
	})
	b.Publish(event.TopicOrderCreated, event.OrderEvent{OrderID: "late"})

	if !reflect.DeepEqual(got, []string{"late"}) {
		t.Fatalf("late subscriber got %v, want only the late event", got)
	}
}

func TestStatusChangedDeliveredExactly(t *testing.T) {
	b := newTestBus()
	var got []event.OrderEvent
	b.Subscribe(event.TopicOrderStatusChanged, func(_ event.Topic, ev event.OrderEvent) {
		got = append(got, ev)
	})

	want := event.OrderEvent{OrderID: "o1", UserID: "u1", Status: event.StatusPreparing, TimestampMs: 1700000000000}
	b.Publish(event.TopicOrderStatusChanged, want)

	if len(got) != 1 {
		t.Fatalf("want exactly one invocation, got %d", len(got))
	}
	if got[0] != want {
		t.Fatalf("payload %+v, want %+v", got[0], want)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := newTestBus()
	n := 0
	sub := b.Subscribe(event.TopicOrderCreated, func(event.Topic, event.OrderEvent) { n++ })
	b.Publish(event.TopicOrderCreated, event.OrderEvent{OrderID: "a"})
	sub.Cancel()
	sub.Cancel() // second cancel is a no-op
	b.Publish(event.TopicOrderCreated, event.OrderEvent{OrderID: "b"})
	if n != 1 {
		t.Fatalf("deliveries after cancel: got %d, want 1", n)
	}
	if b.Len(event.TopicOrderCreated) != 0 {
		t.Fatalf("expected empty subscriber set")
	}
}

func TestCloseClearsSubscriptions(t *testing.T) {
	b := newTestBus()
	n := 0
	b.Subscribe(event.TopicOrderUpdated, func(event.Topic, event.OrderEvent) { n++ })
	b.Close()
	b.Publish(event.TopicOrderUpdated, event.OrderEvent{OrderID: "x"})
	if n != 0 {
		t.Fatalf("delivery after close")
	}
	if b.Len(event.TopicOrderUpdated) != 0 {
		t.Fatalf("subscriptions survived close")
	}
}

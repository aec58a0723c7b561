package bus

import (
	"fmt"
	"testing"
)

func TestPublishFanOut(t *testing.T) {
	b := NewEventBus(nil)
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel1()
	defer cancel2()

	b.Publish(EventApprovalNeeded, map[string]any{"id": "abc"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != EventApprovalNeeded || ev.Data["id"] != "abc" {
				t.Fatalf("subscriber %d got unexpected event: %+v", i, ev)
			}
		default:
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestPublishOrderPerSubscriber(t *testing.T) {
	b := NewEventBus(nil)
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		b.Publish(EventDiscordMessage, map[string]any{"seq": i})
	}
	for i := 0; i < 5; i++ {
		ev := <-ch
		if ev.Data["seq"] != i {
			t.Fatalf("out of order: got %v at position %d", ev.Data["seq"], i)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := NewEventBus(nil)
	slow, cancelSlow := b.Subscribe()
	live, cancelLive := b.Subscribe()
	defer cancelSlow()
	defer cancelLive()

	// Overfill the slow subscriber while draining the live one.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(EventDiscordMessage, map[string]any{"seq": i})
		<-live
	}

	if len(slow) != subscriberBuffer {
		t.Fatalf("expected slow queue capped at %d, got %d", subscriberBuffer, len(slow))
	}
	// The live subscriber saw everything despite the stalled peer.
	b.Publish(EventSchedulerChanged, nil)
	if ev := <-live; ev.Type != EventSchedulerChanged {
		t.Fatalf("live subscriber starved: %+v", ev)
	}
}

func TestCancelUnregisters(t *testing.T) {
	b := NewEventBus(nil)
	_, cancel := b.Subscribe()
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.SubscriberCount())
	}
	cancel()
	cancel() // idempotent
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.SubscriberCount())
	}
	// Publishing to nobody must not panic.
	b.Publish(EventApprovalResult, map[string]any{"id": fmt.Sprint(1)})
}

// Package bus provides the async event bus that fans household events out
// to live subscribers (the SSE stream, the approval bridge, tests).
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event type constants.
const (
	EventDiscordMessage   = "discord_message"
	EventDiscordReaction  = "discord_reaction"
	EventApprovalNeeded   = "approval_needed"
	EventApprovalResult   = "approval_result"
	EventSchedulerChanged = "scheduler_changed"
)

// Event is a single broadcast payload.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const subscriberBuffer = 100

// EventBus fans events out to subscribers. Each subscriber owns a bounded
// queue; publish never blocks and drops for subscribers whose queue is
// full, so one stalled consumer cannot hold back the rest.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	logger *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		subs:   make(map[int]chan Event),
		logger: logger.With("component", "bus"),
	}
}

// Subscribe registers a new subscriber and returns its receive channel
// plus a cancel func that unregisters it and closes the channel.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every current subscriber without blocking.
// Events are in order per subscriber; a full queue drops the event for
// that subscriber only.
func (b *EventBus) Publish(eventType string, data map[string]any) {
	ev := Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("dropping event for slow subscriber", "type", eventType, "subscriber", id)
		}
	}
}

// Next blocks until an event arrives on ch or the context is cancelled.
func Next(ctx context.Context, ch <-chan Event) (Event, error) {
	select {
	case ev, ok := <-ch:
		if !ok {
			return Event{}, context.Canceled
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

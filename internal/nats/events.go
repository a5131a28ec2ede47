package nats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// Event is a lifecycle notification published on NATS core pub/sub.
type Event struct {
	Type string         `json:"type"`
	Time string         `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// EventBroker publishes and subscribes to lifecycle events using NATS core
// pub/sub. Events are fire-and-forget; nothing is persisted.
type EventBroker struct {
	nc   *nats.Conn
	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewEventBroker creates a new EventBroker using the given NATS connection.
func NewEventBroker(nc *nats.Conn) *EventBroker {
	return &EventBroker{nc: nc}
}

// Publish emits an event of the given type. Failures are logged and returned.
func (b *EventBroker) Publish(eventType string, data map[string]any) error {
	event := Event{
		Type: eventType,
		Time: core.FormatTime(time.Now()),
		Data: data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.nc.Publish(EventSubject(eventType), payload); err != nil {
		slog.Error("failed to publish event", "error", err, "type", eventType)
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// SubscribeAll subscribes to every event. The returned func unsubscribes
// and closes the channel.
func (b *EventBroker) SubscribeAll() (<-chan *Event, func(), error) {
	return b.subscribe(EventsAllSubject())
}

// Subscribe subscribes to one event type.
func (b *EventBroker) Subscribe(eventType string) (<-chan *Event, func(), error) {
	return b.subscribe(EventSubject(eventType))
}

func (b *EventBroker) subscribe(subject string) (<-chan *Event, func(), error) {
	ch := make(chan *Event, 64)
	var closeOnce sync.Once
	var mu sync.Mutex
	closed := false

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Error("failed to unmarshal event", "error", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- &event:
		default:
			slog.Warn("dropping event, subscriber channel full", "subject", subject)
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	unsubscribe := func() {
		closeOnce.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}

	return ch, unsubscribe, nil
}

// Close unsubscribes all subscriptions.
func (b *EventBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	return nil
}

package observability

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event is a structured lifecycle notification emitted by the routing and
// experimentation services.
type Event struct {
	Type string
	At   time.Time
	Data map[string]interface{}
}

// EventBus publishes structured events to the log and, when a subscriber
// channel is attached, forwards them without blocking the publisher.
type EventBus struct {
	subscriber chan<- Event
}

// NewEventBus creates a new event bus with no subscriber attached.
func NewEventBus() *EventBus {
	return &EventBus{subscriber: nil}
}

// Subscribe attaches a channel that receives a copy of every published event.
// Events are dropped rather than blocking when the channel is full.
func (e *EventBus) Subscribe(ch chan<- Event) {
	e.subscriber = ch
}

// Publish publishes an event with the given type and data.
func (e *EventBus) Publish(ctx context.Context, eventType string, data map[string]interface{}) {
	event := Event{
		Type: eventType,
		At:   time.Now(),
		Data: data,
	}

	logger := FromContext(ctx)
	attrs := make([]zap.Field, 0, len(data))
	for k, v := range data {
		attrs = append(attrs, zap.Any(k, v))
	}
	logger.Info(eventType, attrs...)

	if e.subscriber != nil {
		select {
		case e.subscriber <- event:
		default:
		}
	}
}

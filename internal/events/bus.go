// Package events provides the in-process lifecycle event bus. Consumers
// (status API streams, metrics glue, tests) subscribe to typed monitor and
// companion lifecycle events without coupling to the monitor runtime.
package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher for lifecycle broadcasting.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish publishes an event to all subscribers.
// The generic event.Publish needs the concrete type, hence the switch.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case MonitorStartedEvent:
		event.Publish(b.dispatcher, e)
	case MonitorStoppedEvent:
		event.Publish(b.dispatcher, e)
	case CompanionSpawnedEvent:
		event.Publish(b.dispatcher, e)
	case CompanionExitedEvent:
		event.Publish(b.dispatcher, e)
	case QueueDrainedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes a typed handler; the handler's parameter type
// selects the events it receives. Returns an unsubscribe function.
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(MonitorStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(MonitorStoppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CompanionSpawnedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CompanionExitedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(QueueDrainedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// SubscribeToChannel forwards events of type T to ch, dropping when the
// channel is full. Returns an unsubscribe function.
func SubscribeToChannel[T Event](b *Bus, ch chan<- any) func() {
	return event.Subscribe(b.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

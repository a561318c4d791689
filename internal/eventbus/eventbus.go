// Package eventbus fans optimizer events out to in-process subscribers.
package eventbus

// Event is any value published on an untyped bus.
type Event interface{}

// EventBus is the untyped publish/subscribe contract used by the engine.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// New returns an untyped bus.
func New(opts ...Option) *TypedBus[Event] { return NewTyped[Event](opts...) }

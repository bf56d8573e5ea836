package events

import (
	"context"
	"fmt"
)

// Handler consumes one delivery. A nil return acknowledges the message; any
// error leaves it to the bus for redelivery. Handlers never retry internally.
type Handler func(ctx context.Context, env Envelope) error

// HandlerFor adapts a typed consumer function into a Handler.
func HandlerFor[T Event](fn func(ctx context.Context, ev T) error) Handler {
	return func(ctx context.Context, env Envelope) error {
		ev, err := Decode[T](env)
		if err != nil {
			return err
		}
		return fn(ctx, ev)
	}
}

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber registers handlers and runs the consume loop until ctx is done.
// Subscribe must be called before Run; at most one handler exists per type.
type Subscriber interface {
	Subscribe(t Type, h Handler) error
	Run(ctx context.Context) error
}

// Bus is a Publisher and Subscriber backed by one transport.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// handlerSet is shared by bus implementations.
type handlerSet map[Type]Handler

func (hs handlerSet) add(t Type, h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler for %s", t)
	}
	if _, exists := hs[t]; exists {
		return fmt.Errorf("handler for %s already registered", t)
	}
	hs[t] = h
	return nil
}

// NopPublisher discards every event. Used when event publishing is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

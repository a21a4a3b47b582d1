// Package bus delivers committed lifecycle events to in-process
// subscribers.
//
// Delivery is synchronous and in commit order: Publish invokes every
// subscriber before returning, so a caller that commits event A and
// then event B knows each subscriber saw A before B. Subscriber
// failures are isolated; one failing handler never prevents the
// remaining handlers from seeing the event.
package bus

import (
	"context"
	"sync"

	"github.com/eddie-energy/eddie-sub000/pkg/eddie/permission"
)

// Handler processes a single committed event. Handlers are invoked at
// least once per event and must be idempotent.
type Handler func(ctx context.Context, evt permission.Event) error

// Bus fans committed events out to named subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	deadLetters *DeadLetter

	// OnError is called when a handler returns an error, after the
	// failure has been parked. May be nil.
	OnError func(subscriber string, evt permission.Event, err error)
}

type subscriber struct {
	name    string
	handler Handler
}

// Option configures a Bus.
type Option func(*Bus)

// WithDeadLetter parks failed deliveries in the given queue so a
// sweeper can re-drive them later.
func WithDeadLetter(dl *DeadLetter) Option {
	return func(b *Bus) { b.deadLetters = dl }
}

// WithErrorCallback registers a callback for handler failures.
func WithErrorCallback(fn func(subscriber string, evt permission.Event, err error)) Option {
	return func(b *Bus) { b.OnError = fn }
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a named handler. Subscribers are invoked in
// registration order. The name identifies the subscriber in dead
// letters and logs; registering the same name twice replaces the
// earlier handler.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.name == name {
			b.subscribers[i].handler = h
			return
		}
	}
	b.subscribers = append(b.subscribers, subscriber{name: name, handler: h})
}

// Publish delivers the event to every subscriber synchronously.
//
// Publish always attempts all subscribers. Failures are parked in the
// dead-letter queue (when configured) and reported through OnError;
// Publish itself returns nil once every subscriber has been attempted,
// because the failure is owned by the dead-letter queue from then on.
func (b *Bus) Publish(ctx context.Context, evt permission.Event) error {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sub.handler(ctx, evt); err != nil {
			if b.deadLetters != nil {
				b.deadLetters.Park(evt, sub.name, err)
			}
			if b.OnError != nil {
				b.OnError(sub.name, evt, err)
			}
		}
	}
	return nil
}

// Redeliver invokes a single named subscriber with the event. Used by
// the sweeper when re-driving dead letters.
func (b *Bus) Redeliver(ctx context.Context, name string, evt permission.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.name == name {
			return sub.handler(ctx, evt)
		}
	}
	return &UnknownSubscriberError{Name: name}
}

// SubscriberNames returns the registered subscriber names in
// registration order.
func (b *Bus) SubscriberNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, len(b.subscribers))
	for i, sub := range b.subscribers {
		names[i] = sub.name
	}
	return names
}

// UnknownSubscriberError reports a redelivery to a subscriber that is
// no longer registered.
type UnknownSubscriberError struct {
	Name string
}

func (e *UnknownSubscriberError) Error() string {
	return "unknown subscriber: " + e.Name
}

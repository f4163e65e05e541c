// Package eventbus implements a typed, synchronous publish/subscribe dispatcher.
//
// # Delivery Contract
//
// Publish runs every handler registered for the event's type on the calling
// goroutine, in registration order, and returns only after all of them have
// completed. A handler that publishes further events triggers a nested,
// depth-first delivery: the nested events are fully delivered before the
// outer handler returns and before the next outer handler starts.
//
// A handler error never short-circuits delivery. All handlers for the event
// run to completion; their errors are joined and returned to the publisher.
// This lets a subscriber raise a hard failure (for example a verification
// error) while diagnostic subscribers registered after it still observe the
// event before the failure unwinds the publisher.
package eventbus

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

// Handler processes one event of type E.
type Handler[E any] func(ctx context.Context, event E) error

// Bus dispatches events to handlers keyed by the event's dynamic type.
//
// Thread-safety: Subscribe and Publish are safe for concurrent use.
// Handlers are invoked without holding the bus lock, so handlers may publish
// or subscribe themselves.
type Bus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]func(context.Context, any) error
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[reflect.Type][]func(context.Context, any) error),
	}
}

// Subscribe registers h for events whose dynamic type is exactly E.
//
// Handlers for the same type run in registration order.
func Subscribe[E any](b *Bus, h Handler[E]) {
	key := reflect.TypeOf((*E)(nil)).Elem()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[key] = append(b.handlers[key], func(ctx context.Context, event any) error {
		return h(ctx, event.(E))
	})
}

// Publish delivers event to every handler registered for its type.
//
// Returns nil when no handler failed, the single handler error when exactly
// one failed, and an errors.Join of all handler errors otherwise.
// Publishing an event with no subscribers is a no-op.
func (b *Bus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return nil
	}

	b.mu.RLock()
	// Snapshot so handlers can subscribe during delivery without deadlocking.
	hs := append([]func(context.Context, any) error(nil), b.handlers[reflect.TypeOf(event)]...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range hs {
		if err := h(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}

	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

// HandlerCount returns the number of handlers registered for events of type E.
func HandlerCount[E any](b *Bus) int {
	key := reflect.TypeOf((*E)(nil)).Elem()

	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[key])
}

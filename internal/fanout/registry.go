// Publish/subscribe registry with copy-on-write subscriber lists.
// Publish walks the list that was current when it started, so concurrent
// Subscribe/Unsubscribe never disturb a broadcast in progress.
package fanout

import (
	"context"
	"fmt"
	"runtime/debug"
	"simbridge/internal/global"
	"simbridge/internal/logctx"
	"sync"
	"sync/atomic"
)

// Subscription handle
type ID uint64

type Handler[T any] func(value T)

type subscriber[T any] struct {
	id      ID
	handler Handler[T]
}

type Registry[T any] struct {
	mu          sync.Mutex // serializes writers of subscribers
	nextID      ID
	subscribers atomic.Pointer[[]subscriber[T]] // never mutated in place
}

func New[T any]() (new *Registry[T]) {
	new = &Registry[T]{}
	new.subscribers.Store(&[]subscriber[T]{})
	return
}

// Adds handler, returned ID removes it again
func (registry *Registry[T]) Subscribe(handler Handler[T]) (id ID) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.nextID++
	id = registry.nextID

	current := *registry.subscribers.Load()
	updated := make([]subscriber[T], 0, len(current)+1)
	updated = append(updated, current...)
	updated = append(updated, subscriber[T]{id: id, handler: handler})
	registry.subscribers.Store(&updated)
	return
}

// Removes a subscription, false when id is unknown
func (registry *Registry[T]) Unsubscribe(id ID) (removed bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	current := *registry.subscribers.Load()
	updated := make([]subscriber[T], 0, len(current))
	for _, sub := range current {
		if sub.id == id {
			removed = true
			continue
		}
		updated = append(updated, sub)
	}
	if removed {
		registry.subscribers.Store(&updated)
	}
	return
}

// Drops every subscription
func (registry *Registry[T]) Clear() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.subscribers.Store(&[]subscriber[T]{})
}

func (registry *Registry[T]) Len() (count int) {
	count = len(*registry.subscribers.Load())
	return
}

// Calls every current subscriber in subscription order.
// A panicking handler is logged and skipped, the rest still receive the value.
func (registry *Registry[T]) Publish(ctx context.Context, value T) (delivered int) {
	snapshot := *registry.subscribers.Load()
	for _, sub := range snapshot {
		if err := deliver(sub, value); err != nil {
			logctx.LogEvent(ctx, global.VerbosityStandard, global.ErrorLog,
				"subscriber %d: %v\n", sub.id, err)
			continue
		}
		delivered++
	}
	return
}

func deliver[T any](sub subscriber[T], value T) (err error) {
	defer func() {
		if fatalError := recover(); fatalError != nil {
			err = fmt.Errorf("panic in handler: %v\n%s", fatalError, debug.Stack())
		}
	}()
	sub.handler(value)
	return
}

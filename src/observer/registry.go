// Package observer implements a set of callback handles that tolerates
// subscribe and unsubscribe calls made from inside a callback.
package observer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Registry holds subscribed handlers for values of type T.
type Registry[T any] struct {
	mu      sync.RWMutex
	handles []*handle[T] // copy-on-write, never mutated in place
	logger  zerolog.Logger
	panics  atomic.Uint64
	onPanic func()
}

type handle[T any] struct {
	id     string
	fn     func(T)
	active atomic.Bool
}

// New creates an empty registry.
func New[T any](logger zerolog.Logger) *Registry[T] {
	return &Registry[T]{logger: logger}
}

// OnPanic registers a hook invoked after a handler panic was recovered.
func (r *Registry[T]) OnPanic(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPanic = fn
}

// Subscribe adds fn and returns a function that removes it. After the
// returned function returns, fn is never invoked again. Calling it more
// than once is a no-op.
func (r *Registry[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	h := &handle[T]{id: uuid.New().String(), fn: fn}
	h.active.Store(true)

	r.mu.Lock()
	next := make([]*handle[T], len(r.handles), len(r.handles)+1)
	copy(next, r.handles)
	r.handles = append(next, h)
	r.mu.Unlock()

	r.logger.Debug().Str("subscriber_id", h.id).Msg("subscribed")

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(h) })
	}
}

func (r *Registry[T]) remove(h *handle[T]) {
	h.active.Store(false)

	r.mu.Lock()
	next := make([]*handle[T], 0, len(r.handles))
	for _, cur := range r.handles {
		if cur != h {
			next = append(next, cur)
		}
	}
	r.handles = next
	r.mu.Unlock()

	r.logger.Debug().Str("subscriber_id", h.id).Msg("unsubscribed")
}

// Len returns the number of subscribed handlers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Dispatch calls every subscribed handler with v, in subscription order.
// A handler that panics is logged and skipped; the rest still run.
func (r *Registry[T]) Dispatch(v T) {
	r.mu.RLock()
	handles := r.handles
	r.mu.RUnlock()

	for _, h := range handles {
		// Removed during this dispatch pass.
		if !h.active.Load() {
			continue
		}
		r.call(h, v)
	}
}

func (r *Registry[T]) call(h *handle[T], v T) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panics.Add(1)
			r.logger.Error().
				Str("subscriber_id", h.id).
				Err(fmt.Errorf("%v", rec)).
				Msg("subscriber panicked")
			r.mu.RLock()
			hook := r.onPanic
			r.mu.RUnlock()
			if hook != nil {
				hook()
			}
		}
	}()
	h.fn(v)
}

// Panics returns the number of recovered handler panics.
func (r *Registry[T]) Panics() uint64 {
	return r.panics.Load()
}

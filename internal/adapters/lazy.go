package adapters

import (
	"context"
	"errors"
	"sync"
)

// lazy memoizes the result of a single initialization shared by concurrent
// callers. Waiters block on the in-flight call or their own context. A
// failure caused by cancellation is not memoized, and a waiter whose own
// context is still live starts a fresh call instead of inheriting it.
type lazy[T any] struct {
	mu   sync.Mutex
	call *lazyCall[T]
}

type lazyCall[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func (l *lazy[T]) get(ctx context.Context, init func(context.Context) (T, error)) (T, error) {
	for {
		l.mu.Lock()
		call := l.call
		owner := call == nil
		if owner {
			call = &lazyCall[T]{done: make(chan struct{})}
			l.call = call
			l.mu.Unlock()
			l.run(ctx, call, init)
		} else {
			l.mu.Unlock()
		}

		select {
		case <-call.done:
			if !owner && ctx.Err() == nil && l.dropped(call) {
				continue
			}
			return call.value, call.err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// dropped reports whether call ended in a cancellation that was not memoized.
func (l *lazy[T]) dropped(call *lazyCall[T]) bool {
	if call.err == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.call != call
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (l *lazy[T]) run(ctx context.Context, call *lazyCall[T], init func(context.Context) (T, error)) {
	defer close(call.done)
	defer func() {
		if call.err == nil {
			return
		}
		if ctx.Err() != nil || isCancellation(call.err) {
			l.mu.Lock()
			if l.call == call {
				l.call = nil
			}
			l.mu.Unlock()
		}
	}()
	call.value, call.err = init(ctx)
}

// lazyMap memoizes one lazy value per key.
type lazyMap[T any] struct {
	mu    sync.Mutex
	items map[string]*lazy[T]
}

func (m *lazyMap[T]) get(ctx context.Context, key string, init func(context.Context) (T, error)) (T, error) {
	m.mu.Lock()
	if m.items == nil {
		m.items = map[string]*lazy[T]{}
	}
	entry, ok := m.items[key]
	if !ok {
		entry = &lazy[T]{}
		m.items[key] = entry
	}
	m.mu.Unlock()
	return entry.get(ctx, init)
}

func (m *lazyMap[T]) forget(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

package events

import (
	"context"
	"sync"
)

// Latest holds the most recent value of some state and replays it to every
// reader. Readers wait for changes on the channel returned with the value.
type Latest[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	changed chan struct{}
}

// NewLatest creates a Latest holding initial.
func NewLatest[T any](initial T) *Latest[T] {
	return &Latest[T]{
		value:   initial,
		changed: make(chan struct{}),
	}
}

// Get returns the current value and a channel closed on the next change.
func (l *Latest[T]) Get() (T, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.changed
}

// Versioned returns the current value, its version and a channel closed on the
// next change. The version starts at zero and grows by one with every change.
func (l *Latest[T]) Versioned() (T, uint64, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.version, l.changed
}

// Set stores v and wakes every waiter.
func (l *Latest[T]) Set(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = v
	l.bump()
}

// Update applies fn to the current value atomically and returns the result.
func (l *Latest[T]) Update(fn func(T) T) T {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = fn(l.value)
	l.bump()
	return l.value
}

func (l *Latest[T]) bump() {
	l.version++
	close(l.changed)
	l.changed = make(chan struct{})
}

// Watchable is anything that exposes a current value and a change notification.
type Watchable[T any] interface {
	Get() (T, <-chan struct{})
}

// WaitFor blocks until pred holds for the current value of w and returns that
// value. The predicate is checked immediately, then after every change.
func WaitFor[T any](ctx context.Context, w Watchable[T], pred func(T) bool) (T, error) {
	for {
		v, changed := w.Get()
		if pred(v) {
			return v, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

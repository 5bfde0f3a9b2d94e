package persist

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/statesync/pkg/events"
	"github.com/stacklok/statesync/pkg/statetree"
	"github.com/stacklok/statesync/pkg/status"
)

const (
	// DefaultDebounce is how long a state change waits before it is committed
	DefaultDebounce = 5 * time.Second

	// DefaultLocalStorageKey is the cache key used when none is configured
	DefaultLocalStorageKey = "persist:root"
)

// Selector extracts one slice from the application state
type Selector func(state any) statetree.Slice

// SliceSelector binds a slice key to its selector
type SliceSelector struct {
	Key    string
	Select Selector
}

// StateSource exposes the application state
type StateSource interface {
	// Current returns the state, its version and a channel closed on its next
	// change. The version grows with every change.
	Current() (state any, version uint64, changed <-chan struct{})
}

// StatusSource exposes the persistence status
type StatusSource interface {
	// Get returns the status and a channel closed on its next change
	Get() (status.Status, <-chan struct{})
}

// Option is a function that configures the engine
type Option func(*Engine)

// WithBus sets the bus the engine publishes on and listens to
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithStatusSource replaces the built-in status tracker
func WithStatusSource(src StatusSource) Option {
	return func(e *Engine) {
		e.status = src
	}
}

// WithLocalStorageKey sets the local cache key
func WithLocalStorageKey(key string) Option {
	return func(e *Engine) {
		e.localKey = key
	}
}

// WithDebounce sets the persistence debounce time
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		e.debounce = d
	}
}

// WithPersistSlice registers a slice to persist. Registration order is kept.
func WithPersistSlice(key string, sel Selector) Option {
	return func(e *Engine) {
		e.persistSlices = append(e.persistSlices, SliceSelector{Key: key, Select: sel})
	}
}

// WithRehydrateSlice registers a slice to rehydrate. Slices are rehydrated in registration order.
func WithRehydrateSlice(key string, sel Selector) Option {
	return func(e *Engine) {
		e.rehydrateSlices = append(e.rehydrateSlices, SliceSelector{Key: key, Select: sel})
	}
}

// WithSlice registers a slice that is both persisted and rehydrated
func WithSlice(key string, sel Selector) Option {
	return func(e *Engine) {
		WithPersistSlice(key, sel)(e)
		WithRehydrateSlice(key, sel)(e)
	}
}

// WithErrorHandler sets the factory for remote error handlers
func WithErrorHandler(factory ErrorHandlerFactory) Option {
	return func(e *Engine) {
		e.errorHandler = factory
	}
}

// WithTracer sets the OpenTelemetry tracer for storage operations.
// If not set, tracing is disabled (no-op).
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

package persist

import (
	"context"
	"errors"
	"log/slog"

	"github.com/stacklok/statesync/pkg/events"
)

var (
	// ErrEngineRunning is returned by Start when the engine was already started
	ErrEngineRunning = errors.New("persistence engine already started")

	// ErrEngineClosed is returned when the engine was stopped
	ErrEngineClosed = errors.New("persistence engine stopped")
)

// ErrorHandler turns a remote error into the events to publish in its place
type ErrorHandler func(ctx context.Context, err error) []events.Event

// ErrorHandlerFactory builds the error handler for one remote operation. The
// failure function builds that operation's failure event. The engine never
// retries a remote operation itself; a handler may surface the failure,
// replace it with other events or recover out of band.
type ErrorHandlerFactory func(src events.Source, failure func(error) events.Event) ErrorHandler

// DefaultErrorHandler logs the error and publishes the failure event
func DefaultErrorHandler(src events.Source, failure func(error) events.Event) ErrorHandler {
	return func(_ context.Context, err error) []events.Event {
		slog.Error("Remote storage operation failed", "source", src, "error", err)
		return []events.Event{failure(err)}
	}
}

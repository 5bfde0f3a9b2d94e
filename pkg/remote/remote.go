// Package remote defines the contract of the authoritative remote settings store
// and the helpers shared by its implementations.
package remote

import (
	"context"
	"errors"

	"github.com/stacklok/statesync/pkg/statetree"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=remote.go Store

// ErrNoAccessToken is returned when the remote store requires a token and none is available
var ErrNoAccessToken = errors.New("no access token")

// Store is the remote tier of the sync engine
type Store interface {
	// Fetch reads the full envelope held by the remote store
	Fetch(ctx context.Context) (statetree.Envelope, error)

	// Update applies diff as a partial update and returns the store's response
	Update(ctx context.Context, diff statetree.Envelope) (any, error)
}

type readyContextKey struct{}

// WithReadyContext returns ctx carrying ready. A store that has to wait before
// it can send an update, for example for an access token, waits on ready and
// sends nothing once ready is done. The request itself runs on ctx.
func WithReadyContext(ctx, ready context.Context) context.Context {
	return context.WithValue(ctx, readyContextKey{}, ready)
}

// ReadyContext returns the context to wait on before sending a request: the
// one set with WithReadyContext, or ctx itself.
func ReadyContext(ctx context.Context) context.Context {
	if ready, ok := ctx.Value(readyContextKey{}).(context.Context); ok {
		return ready
	}
	return ctx
}

// Apply returns current with diff applied: diff fields replace current fields,
// objects merge member by member and fields missing from diff are kept.
func Apply(current, diff statetree.Envelope) statetree.Envelope {
	cur := statetree.Unwrap(current)
	changes := statetree.Unwrap(diff)
	for key, slice := range changes {
		cur[key] = statetree.Merge(cur[key], slice)
	}
	return statetree.Wrap(cur)
}

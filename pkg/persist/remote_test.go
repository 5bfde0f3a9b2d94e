package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/statesync/pkg/events"
	remotemocks "github.com/stacklok/statesync/pkg/remote/mocks"
	"github.com/stacklok/statesync/pkg/statetree"
)

func TestRemoteAdapter_ExhaustsConcurrentFetches(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := remotemocks.NewMockStore(ctrl)

	entered := make(chan struct{})
	release := make(chan struct{})
	payload := statetree.Envelope{"settings": {"themeName": {Value: "dark"}}}

	gomock.InOrder(
		store.EXPECT().Fetch(gomock.Any()).DoAndReturn(func(context.Context) (statetree.Envelope, error) {
			close(entered)
			<-release
			return payload, nil
		}),
		store.EXPECT().Fetch(gomock.Any()).Return(statetree.Envelope{}, nil),
	)

	env := newTestEnv(t, store, nil, map[string]statetree.Slice{})

	env.bus.Publish(events.RemoteFetchRequest{})
	<-entered
	env.bus.Publish(events.RemoteFetchRequest{}, events.RemoteFetchRequest{})
	env.bus.Publish(events.RemoteFetchRequest{})
	close(release)

	env.rec.waitCount(t, events.KindRemoteFetchSucceeded, 1)
	assert.Equal(t, events.RemoteFetchSucceeded{Payload: payload}, env.rec.ofKind(events.KindRemoteFetchSucceeded)[0])

	// a request after the outcome starts a new read
	env.bus.Publish(events.RemoteFetchRequest{})
	env.rec.waitCount(t, events.KindRemoteFetchSucceeded, 2)

	time.Sleep(50 * time.Millisecond)
	env.rec.sync(t)
	assert.Len(t, env.rec.ofKind(events.KindRemoteFetchSucceeded), 2)
	assert.Empty(t, env.rec.ofKind(events.KindRemoteFetchFailed))
}

func TestRemoteAdapter_FailureGoesThroughErrorHandler(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := remotemocks.NewMockStore(ctrl)
	store.EXPECT().Fetch(gomock.Any()).Return(nil, errors.New("connection refused")).Times(2)

	var (
		mu      sync.Mutex
		sources []events.Source
	)
	handler := func(src events.Source, failure func(error) events.Event) ErrorHandler {
		return func(_ context.Context, err error) []events.Event {
			mu.Lock()
			sources = append(sources, src)
			mu.Unlock()
			return []events.Event{failure(fmt.Errorf("wrapped: %w", err))}
		}
	}

	env := newTestEnv(t, store, nil, map[string]statetree.Slice{}, WithErrorHandler(handler))

	env.bus.Publish(events.RemoteFetchRequest{})
	env.rec.waitCount(t, events.KindRemoteFetchFailed, 1)

	failed := env.rec.ofKind(events.KindRemoteFetchFailed)[0]
	assert.EqualError(t, events.Err(failed), "wrapped: connection refused")

	// the adapter is ready again after a failure
	env.bus.Publish(events.RemoteFetchRequest{})
	env.rec.waitCount(t, events.KindRemoteFetchFailed, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, sources, events.SourceRemoteFetch)
}

func TestRemoteAdapter_HandlerWithoutTerminalEvent(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := remotemocks.NewMockStore(ctrl)
	store.EXPECT().Fetch(gomock.Any()).Return(nil, errors.New("unauthorized"))
	store.EXPECT().Fetch(gomock.Any()).Return(statetree.Envelope{}, nil).MinTimes(1)

	swallow := func(events.Source, func(error) events.Event) ErrorHandler {
		return func(context.Context, error) []events.Event { return nil }
	}
	env := newTestEnv(t, store, nil, map[string]statetree.Slice{}, WithErrorHandler(swallow))

	env.bus.Publish(events.RemoteFetchRequest{})
	// the swallowed failure must not leave the adapter stuck
	require.Eventually(t, func() bool {
		env.bus.Publish(events.RemoteFetchRequest{})
		return len(env.rec.ofKind(events.KindRemoteFetchSucceeded)) == 1
	}, waitTimeout, 20*time.Millisecond)
}

package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for event")
		return nil
	}
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Close()

	require.True(t, bus.Publish(Flush{}, UpdateQueued{}, UpdateRequested{}))
	bus.Publish(UpdateSucceeded{})

	assert.Equal(t, Flush{}, receive(t, sub))
	assert.Equal(t, UpdateQueued{}, receive(t, sub))
	assert.Equal(t, UpdateRequested{}, receive(t, sub))
	assert.Equal(t, UpdateSucceeded{}, receive(t, sub))
}

func TestBus_FiltersByKind(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe(KindPurge, KindRehydrate)
	defer sub.Close()

	bus.Publish(Flush{}, Purge{}, UpdateQueued{}, Rehydrate{Manual: true})

	assert.Equal(t, Purge{}, receive(t, sub))
	ev := receive(t, sub)
	require.IsType(t, Rehydrate{}, ev)
	assert.True(t, ev.(Rehydrate).Manual)
}

func TestBus_ReducersRunBeforeSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var seen []Kind
	bus.AddReducer(ReducerFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Kind())
	}))
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish(Flush{}, FlushSucceeded{})
	receive(t, sub)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Kind{KindFlush, KindFlushSucceeded}, seen)
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Close()

	for range 1000 {
		bus.Publish(UpdateQueued{})
	}
	for range 1000 {
		assert.Equal(t, UpdateQueued{}, receive(t, sub))
	}
}

func TestBus_Close(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.Subscribe()
	bus.Close()

	assert.False(t, bus.Publish(Flush{}))
	select {
	case _, ok := <-sub.C():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "subscription channel not closed")
	}

	late := bus.Subscribe()
	_, ok := <-late.C()
	assert.False(t, ok)
}

func TestSubscription_Close(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe()
	sub.Close()
	sub.Close()

	bus.Publish(Flush{})
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestErr(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name  string
		event Event
		want  error
	}{
		{name: "remote fetch", event: RemoteFetchFailed{Err: boom}, want: boom},
		{name: "remote update", event: RemoteUpdateFailed{Err: boom}, want: boom},
		{name: "local fetch", event: LocalFetchFailed{Err: boom}, want: boom},
		{name: "local update", event: LocalUpdateFailed{ID: uuid.New(), Err: boom}, want: boom},
		{name: "local purge", event: LocalPurgeFailed{Err: boom}, want: boom},
		{name: "not a failure", event: UpdateSucceeded{}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Err(tt.event))
		})
	}
}

func TestLatest_WaitFor(t *testing.T) {
	t.Parallel()

	l := NewLatest(0)
	go func() {
		for i := 1; i <= 5; i++ {
			l.Set(i)
		}
	}()

	v, err := WaitFor[int](context.Background(), l, func(v int) bool { return v == 5 })
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = WaitFor[int](ctx, l, func(v int) bool { return v > 10 })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLatest_Update(t *testing.T) {
	t.Parallel()

	l := NewLatest(1)
	_, changed := l.Get()
	got := l.Update(func(v int) int { return v + 1 })
	assert.Equal(t, 2, got)

	select {
	case <-changed:
	default:
		assert.Fail(t, "change channel not closed")
	}
}

func TestLatest_Versioned(t *testing.T) {
	t.Parallel()

	l := NewLatest("a")
	v, version, _ := l.Versioned()
	assert.Equal(t, "a", v)
	assert.Equal(t, uint64(0), version)

	l.Set("b")
	l.Update(func(s string) string { return s + "c" })
	v, version, _ = l.Versioned()
	assert.Equal(t, "bc", v)
	assert.Equal(t, uint64(2), version)
}

func TestBus_PublishCtx(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	bus.AddReducer(ReducerFunc(func(e Event) {
		if _, ok := e.(Purge); ok {
			cancel()
		}
	}))

	require.True(t, bus.PublishCtx(ctx, UpdateQueued{}))
	bus.Publish(Purge{})
	assert.False(t, bus.PublishCtx(ctx, UpdateRequested{}))
	bus.Publish(Flush{})

	assert.Equal(t, UpdateQueued{}, receive(t, sub))
	assert.Equal(t, Purge{}, receive(t, sub))
	assert.Equal(t, Flush{}, receive(t, sub))
}

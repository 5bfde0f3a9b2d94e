package persist

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/statesync/pkg/events"
	"github.com/stacklok/statesync/pkg/memstore"
	"github.com/stacklok/statesync/pkg/remote"
	"github.com/stacklok/statesync/pkg/statetree"
	"github.com/stacklok/statesync/pkg/status"
	"github.com/stacklok/statesync/pkg/storage"
)

const (
	testKey     = "persist:test"
	waitTimeout = 3 * time.Second
	pollEvery   = 5 * time.Millisecond
)

// errBarrier marks events published by recorder.sync; they are not recorded
var errBarrier = errors.New("recorder barrier")

// recorder keeps every event published on a bus, in bus order
type recorder struct {
	bus *events.Bus

	mu       sync.Mutex
	events   []events.Event
	barriers int
	sent     int
}

func record(t *testing.T, bus *events.Bus) *recorder {
	t.Helper()
	r := &recorder{bus: bus}
	sub := bus.Subscribe()
	t.Cleanup(sub.Close)
	go func() {
		for ev := range sub.C() {
			r.mu.Lock()
			if errors.Is(events.Err(ev), errBarrier) {
				r.barriers++
			} else {
				r.events = append(r.events, ev)
			}
			r.mu.Unlock()
		}
	}()
	return r
}

// sync waits until every event published so far has been recorded
func (r *recorder) sync(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	r.sent++
	want := r.sent
	r.mu.Unlock()

	require.True(t, r.bus.Publish(events.LocalPurgeFailed{Err: errBarrier}))
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.barriers >= want
	}, waitTimeout, pollEvery)
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *recorder) ofKind(k events.Kind) []events.Event {
	var out []events.Event
	for _, ev := range r.all() {
		if ev.Kind() == k {
			out = append(out, ev)
		}
	}
	return out
}

// kinds returns the kinds of recorded events, keeping only the given ones
func (r *recorder) kinds(keep ...events.Kind) []events.Kind {
	var out []events.Kind
	for _, ev := range r.all() {
		if len(keep) == 0 || slices.Contains(keep, ev.Kind()) {
			out = append(out, ev.Kind())
		}
	}
	return out
}

func (r *recorder) waitCount(t *testing.T, k events.Kind, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.ofKind(k)) >= n }, waitTimeout, pollEvery,
		"waiting for %d %s events", n, k)
}

// index returns the position of the first event of kind k, or -1
func (r *recorder) index(k events.Kind) int {
	return slices.IndexFunc(r.all(), func(ev events.Event) bool { return ev.Kind() == k })
}

type testEnv struct {
	engine  *Engine
	bus     *events.Bus
	state   *memstore.Store
	backend storage.Backend
	rec     *recorder
}

func newTestEnv(t *testing.T, store remote.Store, backend storage.Backend, defaults map[string]statetree.Slice, opts ...Option) *testEnv {
	t.Helper()
	if backend == nil {
		backend = storage.NewMemoryBackend()
	}
	if defaults == nil {
		defaults = map[string]statetree.Slice{
			"settings":    {"themeName": "light"},
			"storeReview": {},
		}
	}

	state := memstore.New(defaults)
	bus := events.NewBus()
	bus.AddReducer(state)
	rec := record(t, bus)

	base := []Option{
		WithBus(bus),
		WithLocalStorageKey(testKey),
		WithDebounce(time.Hour),
	}
	for _, key := range state.Keys() {
		base = append(base, WithSlice(key, memstore.Select(key)))
	}

	e, err := New(state, backend, store, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		_ = e.Stop()
		bus.Close()
	})

	return &testEnv{engine: e, bus: bus, state: state, backend: backend, rec: rec}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	state := memstore.New(nil)
	backend := storage.NewMemoryBackend()
	store := remote.NewMemoryStore(nil)
	sel := memstore.Select("settings")

	tests := []struct {
		name    string
		state   StateSource
		backend storage.Backend
		store   remote.Store
		opts    []Option
		wantErr string
	}{
		{name: "valid", state: state, backend: backend, store: store, opts: []Option{WithSlice("settings", sel)}},
		{name: "missing state", backend: backend, store: store, wantErr: "state source is required"},
		{name: "missing backend", state: state, store: store, wantErr: "local storage backend is required"},
		{name: "missing store", state: state, backend: backend, wantErr: "remote store is required"},
		{
			name: "empty local key", state: state, backend: backend, store: store,
			opts:    []Option{WithLocalStorageKey("")},
			wantErr: "local storage key must not be empty",
		},
		{
			name: "negative debounce", state: state, backend: backend, store: store,
			opts:    []Option{WithDebounce(-time.Second)},
			wantErr: "debounce must not be negative, got -1s",
		},
		{
			name: "duplicate persist slice", state: state, backend: backend, store: store,
			opts:    []Option{WithSlice("settings", sel), WithPersistSlice("settings", sel)},
			wantErr: `persist slice "settings" registered twice`,
		},
		{
			name: "rehydrate slice without selector", state: state, backend: backend, store: store,
			opts:    []Option{WithRehydrateSlice("settings", nil)},
			wantErr: `rehydrate slice "settings" has no selector`,
		},
		{
			name: "empty slice key", state: state, backend: backend, store: store,
			opts:    []Option{WithPersistSlice("", sel)},
			wantErr: "persist slice key must not be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e, err := New(tt.state, tt.backend, tt.store, tt.opts...)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				assert.Nil(t, e)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, e.Bus())
			assert.Equal(t, status.Initial(), e.Status())
		})
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	t.Parallel()

	e, err := New(memstore.New(nil), storage.NewMemoryBackend(), remote.NewMemoryStore(nil))
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	assert.ErrorIs(t, e.Start(context.Background()), ErrEngineRunning)

	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
	assert.ErrorIs(t, e.Start(context.Background()), ErrEngineClosed)
}

func TestEngine_ClosedBus(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	e, err := New(memstore.New(nil), storage.NewMemoryBackend(), remote.NewMemoryStore(nil), WithBus(bus))
	require.NoError(t, err)
	bus.Close()

	ctx := testContext(t)
	assert.ErrorIs(t, e.Purge(), ErrEngineClosed)
	assert.ErrorIs(t, e.Persist(nil), ErrEngineClosed)
	assert.ErrorIs(t, e.Flush(ctx), ErrEngineClosed)
	assert.ErrorIs(t, e.Rehydrate(ctx, true), ErrEngineClosed)
}

func TestEngine_FetchRemote(t *testing.T) {
	t.Parallel()

	initial := statetree.Envelope{"settings": {"themeName": {Value: "dark"}}}
	e, err := New(memstore.New(nil), storage.NewMemoryBackend(), remote.NewMemoryStore(initial))
	require.NoError(t, err)

	env, err := e.FetchRemote(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, initial, env)
}

func TestDefaultErrorHandler(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	handler := DefaultErrorHandler(events.SourceRemoteUpdate, func(err error) events.Event {
		return events.RemoteUpdateFailed{Err: err}
	})

	evs := handler(context.Background(), boom)
	require.Len(t, evs, 1)
	assert.Equal(t, events.RemoteUpdateFailed{Err: boom}, evs[0])
}

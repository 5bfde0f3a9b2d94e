package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/statesync/internal/otel"
	"github.com/stacklok/statesync/pkg/events"
	"github.com/stacklok/statesync/pkg/remote"
	"github.com/stacklok/statesync/pkg/statetree"
	"github.com/stacklok/statesync/pkg/status"
	"github.com/stacklok/statesync/pkg/storage"
)

const tracerName = "github.com/stacklok/statesync/pkg/persist"

// Engine wires the coordinators of the sync engine to one bus
type Engine struct {
	bus     *events.Bus
	state   StateSource
	status  StatusSource
	tracker *status.Tracker
	backend storage.Backend
	remote  remote.Store

	localKey        string
	debounce        time.Duration
	persistSlices   []SliceSelector
	rehydrateSlices []SliceSelector
	errorHandler    ErrorHandlerFactory
	tracer          trace.Tracer

	// shared by the remote adapter and FetchRemote
	fetches singleflight.Group

	mu         sync.Mutex
	started    bool
	stopped    bool
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New creates an engine over the given state, local cache backend and remote store.
// Without WithBus the engine owns a private bus; without WithStatusSource it
// tracks status on that bus itself.
func New(state StateSource, backend storage.Backend, store remote.Store, opts ...Option) (*Engine, error) {
	if state == nil {
		return nil, errors.New("state source is required")
	}
	if backend == nil {
		return nil, errors.New("local storage backend is required")
	}
	if store == nil {
		return nil, errors.New("remote store is required")
	}

	e := &Engine{
		state:        state,
		backend:      backend,
		remote:       store,
		localKey:     DefaultLocalStorageKey,
		debounce:     DefaultDebounce,
		errorHandler: DefaultErrorHandler,
		tracer:       noop.NewTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.localKey == "" {
		return nil, errors.New("local storage key must not be empty")
	}
	if e.debounce < 0 {
		return nil, fmt.Errorf("debounce must not be negative, got %s", e.debounce)
	}
	if err := checkSelectors("persist", e.persistSlices); err != nil {
		return nil, err
	}
	if err := checkSelectors("rehydrate", e.rehydrateSlices); err != nil {
		return nil, err
	}

	if e.bus == nil {
		e.bus = events.NewBus()
	}
	if e.status == nil {
		e.tracker = status.NewTracker()
		e.bus.AddReducer(e.tracker)
		e.status = e.tracker
	}

	return e, nil
}

func checkSelectors(kind string, sels []SliceSelector) error {
	seen := make(map[string]struct{}, len(sels))
	for _, sel := range sels {
		if sel.Key == "" {
			return fmt.Errorf("%s slice key must not be empty", kind)
		}
		if sel.Select == nil {
			return fmt.Errorf("%s slice %q has no selector", kind, sel.Key)
		}
		if _, ok := seen[sel.Key]; ok {
			return fmt.Errorf("%s slice %q registered twice", kind, sel.Key)
		}
		seen[sel.Key] = struct{}{}
	}
	return nil
}

// Bus returns the bus the engine runs on
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Status returns the current persistence status
func (e *Engine) Status() status.Status {
	s, _ := e.status.Get()
	return s
}

// StatusSource returns the source the engine reads status from
func (e *Engine) StatusSource() StatusSource {
	return e.status
}

// Start subscribes every coordinator to the bus and starts them in the
// background. It returns once all subscriptions are in place, so events
// published after Start are seen by the engine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrEngineClosed
	}
	if e.started {
		return ErrEngineRunning
	}
	e.started = true

	runCtx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel

	local := newLocalAdapter(e)
	localSub := e.bus.Subscribe(events.KindLocalFetchRequest, events.KindLocalUpdateRequest, events.KindPurge)

	rem := newRemoteAdapter(e)
	remoteSub := e.bus.Subscribe(events.KindRemoteFetchRequest, events.KindRemoteFetchSucceeded, events.KindRemoteFetchFailed)

	rehydrate := newRehydrateCoordinator(e)
	rehydrateSub := e.bus.Subscribe(
		events.KindRehydrate,
		events.KindRemoteFetchSucceeded, events.KindRemoteFetchFailed,
		events.KindLocalFetchSucceeded, events.KindLocalFetchFailed,
	)

	pipelines := newPipelineManager(e, runCtx)
	e.bus.AddReducer(pipelines)

	flush := newFlushCoordinator(e, pipelines)
	flushSub := e.bus.Subscribe(events.KindFlush, events.KindFlushSucceeded)

	e.goRun(func() { local.run(runCtx, localSub) })
	e.goRun(func() { rem.run(runCtx, remoteSub) })
	e.goRun(func() { rehydrate.run(runCtx, rehydrateSub) })
	e.goRun(func() { flush.run(runCtx, flushSub) })
	e.goRun(func() { pipelines.run(runCtx) })

	slog.Info("Starting persistence engine",
		"local_storage_key", e.localKey,
		"debounce", e.debounce,
		"persist_slices", len(e.persistSlices),
		"rehydrate_slices", len(e.rehydrateSlices))
	return nil
}

// Stop cancels every coordinator and waits for them to exit
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	cancel := e.cancelFunc
	e.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping persistence engine")
		cancel()
	}
	e.wg.Wait()
	return nil
}

func (e *Engine) goRun(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// Rehydrate publishes a Rehydrate and waits until its slices were applied.
// A rehydrate superseded by a newer one never completes; the call then returns
// when ctx is done.
func (e *Engine) Rehydrate(ctx context.Context, manual bool) error {
	done := make(chan struct{})
	var once sync.Once
	ev := events.Rehydrate{
		Manual: manual,
		Done:   func() { once.Do(func() { close(done) }) },
	}
	if !e.bus.Publish(ev) {
		return ErrEngineClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush publishes a Flush and waits for the next FlushSucceeded
func (e *Engine) Flush(ctx context.Context) error {
	sub := e.bus.Subscribe(events.KindFlushSucceeded)
	defer sub.Close()
	if !e.bus.Publish(events.Flush{}) {
		return ErrEngineClosed
	}
	select {
	case _, ok := <-sub.C():
		if !ok {
			return ErrEngineClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Purge stops persistence and removes the local cache entry
func (e *Engine) Purge() error {
	if !e.bus.Publish(events.Purge{}) {
		return ErrEngineClosed
	}
	return nil
}

// Persist starts persistence with baseline as the confirmed remote state
func (e *Engine) Persist(baseline statetree.Collection) error {
	if !e.bus.Publish(events.Persist{InitialState: baseline}) {
		return ErrEngineClosed
	}
	return nil
}

// FetchRemote reads the remote envelope. Concurrent reads, including the
// remote adapter's, share one call.
func (e *Engine) FetchRemote(ctx context.Context) (statetree.Envelope, error) {
	v, err, _ := e.fetches.Do("remote-fetch", func() (any, error) {
		ctx, span := otel.StartSpan(ctx, e.tracer, "persist.remote.fetch")
		defer span.End()
		env, err := e.remote.Fetch(ctx)
		if err != nil {
			otel.RecordError(span, err)
			return nil, err
		}
		return env, nil
	})
	if err != nil {
		return nil, err
	}
	env, _ := v.(statetree.Envelope)
	if env == nil {
		env = statetree.Envelope{}
	}
	return env, nil
}

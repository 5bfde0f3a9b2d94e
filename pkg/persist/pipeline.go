package persist

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/statesync/internal/otel"
	"github.com/stacklok/statesync/pkg/events"
	"github.com/stacklok/statesync/pkg/remote"
	"github.com/stacklok/statesync/pkg/statetree"
)

// pipelineManager runs at most one persistence pipeline. It is a bus reducer,
// so a run is cancelled at the exact position of the Purge, Rehydrate or
// Persist that ends it and every later publish of that run is dropped.
type pipelineManager struct {
	e      *Engine
	parent context.Context

	// only touched by Reduce, which the bus serializes
	current *pipelineRun
	starts  *queue[*pipelineRun]

	// current run for readers outside the bus
	active *events.Latest[*pipelineRun]
}

// pipelineRun is one persistence run, from Persist to teardown
type pipelineRun struct {
	ctx      context.Context
	cancel   context.CancelFunc
	baseline statetree.Collection

	// one past the state version the latest Flush observed, zero before any flush
	flushMark atomic.Uint64
	flushed   chan struct{}

	// flush mark the watcher has reconciled: every state change up to it is
	// committed or requested
	synced *events.Latest[uint64]
}

func newPipelineManager(e *Engine, parent context.Context) *pipelineManager {
	return &pipelineManager{
		e:      e,
		parent: parent,
		starts: newQueue[*pipelineRun](),
		active: events.NewLatest[*pipelineRun](nil),
	}
}

// Reduce implements events.Reducer
func (m *pipelineManager) Reduce(e events.Event) {
	switch ev := e.(type) {
	case events.Persist:
		m.stopCurrent()
		if m.parent.Err() != nil {
			return
		}
		ctx, cancel := context.WithCancel(m.parent)
		run := &pipelineRun{
			ctx:      ctx,
			cancel:   cancel,
			baseline: ev.InitialState,
			flushed:  make(chan struct{}, 1),
			synced:   events.NewLatest[uint64](0),
		}
		m.current = run
		m.active.Set(run)
		m.starts.push(run)
	case events.Purge, events.Rehydrate:
		m.stopCurrent()
	case events.Flush:
		if m.current == nil {
			return
		}
		_, version, _ := m.e.state.Current()
		m.current.flushMark.Store(version + 1)
		select {
		case m.current.flushed <- struct{}{}:
		default:
		}
	}
}

func (m *pipelineManager) stopCurrent() {
	if m.current != nil {
		m.current.cancel()
		m.current = nil
		m.active.Set(nil)
	}
}

// synced reports whether the active run has reconciled every state change
// the latest Flush observed. The channels are closed when the answer may change.
func (m *pipelineManager) synced() (bool, <-chan struct{}, <-chan struct{}) {
	run, runChanged := m.active.Get()
	if run == nil {
		return true, runChanged, nil
	}
	synced, syncChanged := run.synced.Get()
	return synced >= run.flushMark.Load(), runChanged, syncChanged
}

func (m *pipelineManager) run(ctx context.Context) {
	for {
		run, ok := m.starts.pop(ctx)
		if !ok {
			return
		}
		if run.ctx.Err() != nil {
			continue
		}
		p := newPipeline(m.e, run, m.parent)
		m.e.goRun(p.run)
	}
}

// pipeline turns state changes into local and remote commits
type pipeline struct {
	e         *Engine
	r         *pipelineRun
	ioCtx     context.Context
	handleErr ErrorHandler
	commits   *queue[statetree.Collection]
	outcomes  *events.Subscription
}

func newPipeline(e *Engine, run *pipelineRun, ioCtx context.Context) *pipeline {
	return &pipeline{
		e:     e,
		r:     run,
		ioCtx: ioCtx,
		handleErr: e.errorHandler(events.SourceRemoteUpdate, func(err error) events.Event {
			return events.RemoteUpdateFailed{Err: err}
		}),
		commits: newQueue[statetree.Collection](),
	}
}

func (p *pipeline) run() {
	ctx := p.r.ctx
	p.outcomes = p.e.bus.Subscribe(events.KindLocalUpdateSucceeded, events.KindLocalUpdateFailed)
	defer p.outcomes.Close()

	baseline, err := normalizeCollection(p.r.baseline)
	if err != nil {
		slog.Warn("Persist baseline is not encodable, starting from empty", "error", err)
		baseline = statetree.Collection{}
	}

	slog.Info("Persistence started", "baseline_slices", len(baseline), "debounce", p.e.debounce)

	var wg sync.WaitGroup
	wg.Go(func() { p.commitLoop(ctx, baseline) })
	p.watch(ctx)
	wg.Wait()

	if n := len(p.commits.drain()); n > 0 {
		slog.Debug("Dropped requested commits on teardown", "count", n)
	}
	slog.Info("Persistence stopped")
}

// watch detects state changes, holds them while a flush is running and
// debounces admitted values into commit requests. A value carrying a change
// that a Flush may have observed is requested at once.
func (p *pipeline) watch(ctx context.Context) {
	det := newChangeDetector(p.e.persistSlices)

	timer := time.NewTimer(p.e.debounce)
	timer.Stop()
	defer timer.Stop()

	var (
		held, queued     statetree.Collection
		isHeld, isQueued bool
		// lowest state version an unsent change in the value may come from;
		// the first value may carry any earlier change
		heldSince, queuedSince uint64
	)

	state, version, changed := p.e.state.Current()
	held, isHeld = det.next(state)

	for {
		mark := p.r.flushMark.Load()

		var gate <-chan struct{}
		if isHeld {
			st, stChanged := p.e.status.Get()
			if st.IsFlushing && heldSince >= mark {
				gate = stChanged
			} else {
				if !p.e.bus.PublishCtx(ctx, events.UpdateQueued{}) {
					return
				}
				if !isQueued {
					queuedSince = heldSince
				}
				queued, isQueued = held, true
				held, isHeld = nil, false
				timer.Reset(p.e.debounce)
			}
		}

		if isQueued && queuedSince < mark {
			timer.Stop()
			if !p.request(ctx, queued) {
				return
			}
			queued, isQueued = nil, false
		}

		if synced := min(mark, version+1); synced > 0 {
			if current, _ := p.r.synced.Get(); synced > current {
				p.r.synced.Set(synced)
			}
		}

		var fire <-chan time.Time
		if isQueued {
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case <-changed:
			prev := version
			state, version, changed = p.e.state.Current()
			if v, ok := det.next(state); ok {
				if !isHeld {
					heldSince = prev + 1
				}
				held, isHeld = v, true
			}
		case <-gate:
		case <-fire:
			if !p.request(ctx, queued) {
				return
			}
			queued, isQueued = nil, false
		case <-p.r.flushed:
		}
	}
}

func (p *pipeline) request(ctx context.Context, next statetree.Collection) bool {
	if !p.e.bus.PublishCtx(ctx, events.UpdateRequested{}) {
		return false
	}
	p.commits.push(next)
	return true
}

// commitLoop runs one commit at a time. The baseline only moves to a value
// the remote store confirmed.
func (p *pipeline) commitLoop(ctx context.Context, baseline statetree.Collection) {
	for {
		next, ok := p.commits.pop(ctx)
		if !ok {
			return
		}
		confirmed, err := p.commit(ctx, next, baseline)
		if err != nil {
			return
		}
		if confirmed {
			baseline = next
		}
	}
}

func (p *pipeline) commit(ctx context.Context, next, baseline statetree.Collection) (bool, error) {
	ctx, span := otel.StartSpan(ctx, p.e.tracer, "persist.commit",
		trace.WithAttributes(otel.AttrSliceCount.Int(len(next))))
	defer span.End()

	env := statetree.Wrap(next)
	id := uuid.New()
	if err := p.publish(ctx, events.LocalUpdateRequest{ID: id, Payload: env}); err != nil {
		return false, err
	}

	var confirmed bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.awaitLocal(gctx, id)
	})
	g.Go(func() error {
		var err error
		confirmed, err = p.updateRemote(ctx, env, baseline)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	if err := p.publish(ctx, events.UpdateSucceeded{}); err != nil {
		return false, err
	}
	return confirmed, nil
}

// awaitLocal waits for the outcome of the local update with id
func (p *pipeline) awaitLocal(ctx context.Context, id uuid.UUID) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-p.outcomes.C():
			if !ok {
				return ErrEngineClosed
			}
			switch ev := ev.(type) {
			case events.LocalUpdateSucceeded:
				if ev.ID == id {
					return nil
				}
			case events.LocalUpdateFailed:
				if ev.ID == id {
					return nil
				}
			}
		}
	}
}

// updateRemote sends the diff against baseline and reports whether the
// remote store confirmed it. Once sent, the request is not bound to the run,
// only the publication of its outcome is.
func (p *pipeline) updateRemote(ctx context.Context, env statetree.Envelope, baseline statetree.Collection) (bool, error) {
	diff := statetree.Diff(env, statetree.Wrap(baseline))
	if diff.IsEmpty() {
		slog.Debug("State matches confirmed remote state, skipping remote update")
		return false, nil
	}

	// waiting to send is bound to the run, the request itself is not
	ioCtx := remote.WithReadyContext(p.ioCtx, ctx)
	ioCtx = trace.ContextWithSpan(ioCtx, trace.SpanFromContext(ctx))
	ioCtx, span := otel.StartSpan(ioCtx, p.e.tracer, "persist.remote.update",
		trace.WithAttributes(otel.AttrDiffSlices.Int(len(diff))))
	resp, err := p.e.remote.Update(ioCtx, diff)
	otel.RecordError(span, err)
	span.End()

	var evs []events.Event
	if err != nil {
		evs = p.handleErr(ctx, err)
	} else {
		evs = []events.Event{events.RemoteUpdateSucceeded{Response: resp, Diff: diff}}
	}
	if perr := p.publish(ctx, evs...); perr != nil {
		return false, perr
	}
	return err == nil, nil
}

func (p *pipeline) publish(ctx context.Context, evs ...events.Event) error {
	if p.e.bus.PublishCtx(ctx, evs...) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrEngineClosed
}

// changeDetector combines the persisted slices and reports only real changes
type changeDetector struct {
	sels   []SliceSelector
	refs   []statetree.Slice
	last   statetree.Collection
	primed bool
}

func newChangeDetector(sels []SliceSelector) *changeDetector {
	return &changeDetector{sels: sels}
}

// next returns the combined collection for state, or false when neither the
// selected slices nor their contents changed since the last emitted value.
func (d *changeDetector) next(state any) (statetree.Collection, bool) {
	raw := make([]statetree.Slice, len(d.sels))
	same := d.primed
	for i, sel := range d.sels {
		raw[i] = sel.Select(state)
		if same && !sameSlice(raw[i], d.refs[i]) {
			same = false
		}
	}
	if same {
		return nil, false
	}
	d.refs = raw

	combined := make(statetree.Collection, len(d.sels))
	for i, sel := range d.sels {
		slice, err := statetree.NormalizeSlice(raw[i])
		if err != nil {
			slog.Warn("Ignoring unencodable slice value", "slice", sel.Key, "error", err)
			slice = d.last[sel.Key]
			if slice == nil {
				slice = statetree.Slice{}
			}
		}
		combined[sel.Key] = slice
	}
	if d.primed && statetree.Equal(combined, d.last) {
		return nil, false
	}
	d.primed = true
	d.last = combined
	return combined, true
}

func sameSlice(a, b statetree.Slice) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).UnsafePointer() == reflect.ValueOf(b).UnsafePointer()
}

func normalizeCollection(c statetree.Collection) (statetree.Collection, error) {
	out := make(statetree.Collection, len(c))
	for key, slice := range c {
		n, err := statetree.NormalizeSlice(slice)
		if err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, nil
}

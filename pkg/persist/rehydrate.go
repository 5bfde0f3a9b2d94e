package persist

import (
	"context"
	"log/slog"

	"github.com/stacklok/statesync/pkg/events"
	"github.com/stacklok/statesync/pkg/statetree"
)

// fetchResult is the first terminal outcome of one fetch
type fetchResult struct {
	done    bool
	payload statetree.Envelope
}

func (r *fetchResult) settle(payload statetree.Envelope) {
	if r.done {
		return
	}
	r.done = true
	r.payload = payload
}

// rehydrateJob joins one remote and one local fetch for a Rehydrate
type rehydrateJob struct {
	req    events.Rehydrate
	remote fetchResult
	local  fetchResult
}

func (j *rehydrateJob) ready() bool {
	return j.remote.done && j.local.done
}

// rehydrateCoordinator merges remote, local and memory state into memory.
// A new Rehydrate replaces the job in progress.
type rehydrateCoordinator struct {
	e *Engine
}

func newRehydrateCoordinator(e *Engine) *rehydrateCoordinator {
	return &rehydrateCoordinator{e: e}
}

func (r *rehydrateCoordinator) run(ctx context.Context, sub *events.Subscription) {
	defer sub.Close()
	var job *rehydrateJob
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			switch ev := ev.(type) {
			case events.Rehydrate:
				if job != nil {
					slog.Debug("Rehydrate superseded by a newer request")
				}
				slog.Info("Rehydrating state", "manual", ev.Manual)
				job = &rehydrateJob{req: ev}
				r.e.bus.PublishCtx(ctx, events.RemoteFetchRequest{}, events.LocalFetchRequest{})
				continue
			case events.RemoteFetchSucceeded:
				if job != nil {
					job.remote.settle(ev.Payload)
				}
			case events.RemoteFetchFailed:
				if job != nil {
					job.remote.settle(statetree.Envelope{})
				}
			case events.LocalFetchSucceeded:
				if job != nil {
					job.local.settle(ev.Payload)
				}
			case events.LocalFetchFailed:
				if job != nil {
					job.local.settle(statetree.Envelope{})
				}
			}
			if job != nil && job.ready() {
				r.complete(ctx, job)
				job = nil
			}
		}
	}
}

func (r *rehydrateCoordinator) complete(ctx context.Context, job *rehydrateJob) {
	remote := r.unwrap("remote", job.remote.payload)
	local := r.unwrap("local", job.local.payload)

	for _, sel := range r.e.rehydrateSlices {
		state, _, _ := r.e.state.Current()
		mem, err := statetree.NormalizeSlice(sel.Select(state))
		if err != nil {
			slog.Warn("Ignoring unencodable memory value during rehydrate", "slice", sel.Key, "error", err)
			mem = statetree.Slice{}
		}
		merged := statetree.Merge(mem, local[sel.Key], remote[sel.Key])
		if !r.e.bus.PublishCtx(ctx, events.SliceRehydrated{Key: sel.Key, Payload: merged}) {
			return
		}
	}

	if !r.e.bus.PublishCtx(ctx, events.RehydrateCompleted{}) {
		return
	}
	slog.Info("Rehydrate completed", "slices", len(r.e.rehydrateSlices), "manual", job.req.Manual)
	if job.req.Done != nil {
		job.req.Done()
	}
	if !job.req.Manual {
		r.e.bus.PublishCtx(ctx, events.Persist{InitialState: remote})
	}
}

// unwrap returns the plain, JSON-shaped collection held by env
func (r *rehydrateCoordinator) unwrap(tier string, env statetree.Envelope) statetree.Collection {
	c, err := normalizeCollection(statetree.Unwrap(env))
	if err != nil {
		slog.Warn("Ignoring unencodable state during rehydrate", "tier", tier, "error", err)
		return statetree.Collection{}
	}
	return c
}

package persist

import (
	"context"
	"log/slog"

	"github.com/stacklok/statesync/pkg/events"
)

// remoteAdapter reads the remote store on request. Requests that arrive while
// a read is in flight are dropped; their callers get the in-flight result.
type remoteAdapter struct {
	e         *Engine
	handleErr ErrorHandler

	// signalled by a fetch whose outcome did not reach the bus as a terminal event
	done chan struct{}
}

func newRemoteAdapter(e *Engine) *remoteAdapter {
	return &remoteAdapter{
		e: e,
		handleErr: e.errorHandler(events.SourceRemoteFetch, func(err error) events.Event {
			return events.RemoteFetchFailed{Err: err}
		}),
		done: make(chan struct{}, 1),
	}
}

// run clears the in-flight flag when the fetch outcome comes back through the
// subscription, so a request published after the outcome always starts a new read.
func (a *remoteAdapter) run(ctx context.Context, sub *events.Subscription) {
	defer sub.Close()
	inflight := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			inflight = false
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			switch ev.(type) {
			case events.RemoteFetchSucceeded, events.RemoteFetchFailed:
				inflight = false
			case events.RemoteFetchRequest:
				if inflight {
					slog.Debug("Remote fetch already in flight, request dropped")
					continue
				}
				inflight = true
				a.e.goRun(func() { a.fetch(ctx) })
			}
		}
	}
}

func (a *remoteAdapter) fetch(ctx context.Context) {
	var evs []events.Event
	env, err := a.e.FetchRemote(ctx)
	if err != nil {
		evs = a.handleErr(ctx, err)
	} else {
		evs = []events.Event{events.RemoteFetchSucceeded{Payload: env}}
	}

	terminal := false
	for _, ev := range evs {
		switch ev.(type) {
		case events.RemoteFetchSucceeded, events.RemoteFetchFailed:
			terminal = true
		}
	}
	if !a.e.bus.PublishCtx(ctx, evs...) || !terminal {
		select {
		case a.done <- struct{}{}:
		default:
		}
	}
}

package persist

import (
	"context"
	"log/slog"

	"github.com/stacklok/statesync/pkg/events"
)

// flushCoordinator answers a Flush with FlushSucceeded once the pipeline has
// picked up every change made before the Flush and the status shows nothing
// queued and nothing pending. While a flush is outstanding further Flush
// events are ignored.
type flushCoordinator struct {
	e         *Engine
	pipelines *pipelineManager
}

func newFlushCoordinator(e *Engine, pipelines *pipelineManager) *flushCoordinator {
	return &flushCoordinator{e: e, pipelines: pipelines}
}

func (f *flushCoordinator) run(ctx context.Context, sub *events.Subscription) {
	defer sub.Close()
	outstanding := false
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			switch ev.(type) {
			case events.FlushSucceeded:
				outstanding = false
			case events.Flush:
				if outstanding {
					slog.Debug("Flush already outstanding, request ignored")
					continue
				}
				outstanding = true
				f.e.goRun(func() { f.await(ctx) })
			}
		}
	}
}

func (f *flushCoordinator) await(ctx context.Context) {
	for {
		st, statusChanged := f.e.status.Get()
		synced, runChanged, syncChanged := f.pipelines.synced()
		if synced && st.IsSettled() {
			f.e.bus.PublishCtx(ctx, events.FlushSucceeded{})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-statusChanged:
		case <-runChanged:
		case <-syncChanged:
		}
	}
}

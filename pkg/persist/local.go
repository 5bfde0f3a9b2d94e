package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/statesync/internal/otel"
	"github.com/stacklok/statesync/pkg/events"
	"github.com/stacklok/statesync/pkg/statetree"
	"github.com/stacklok/statesync/pkg/storage"
)

// localAdapter owns the local cache entry. Requests are handled one at a time
// in the order they were published.
type localAdapter struct {
	e *Engine
}

func newLocalAdapter(e *Engine) *localAdapter {
	return &localAdapter{e: e}
}

func (a *localAdapter) run(ctx context.Context, sub *events.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			a.e.bus.PublishCtx(ctx, a.handle(ctx, ev))
		}
	}
}

func (a *localAdapter) handle(ctx context.Context, ev events.Event) events.Event {
	switch req := ev.(type) {
	case events.LocalFetchRequest:
		env, err := a.fetch(ctx)
		if err != nil {
			slog.Warn("Failed to read local cache", "key", a.e.localKey, "error", err)
			return events.LocalFetchFailed{Err: err}
		}
		return events.LocalFetchSucceeded{Payload: env}

	case events.LocalUpdateRequest:
		if err := a.update(ctx, req.Payload); err != nil {
			slog.Warn("Failed to write local cache", "key", a.e.localKey, "id", req.ID, "error", err)
			return events.LocalUpdateFailed{ID: req.ID, Err: err}
		}
		return events.LocalUpdateSucceeded{ID: req.ID}

	case events.Purge:
		if err := a.purge(ctx); err != nil {
			slog.Warn("Failed to purge local cache", "key", a.e.localKey, "error", err)
			return events.LocalPurgeFailed{Err: err}
		}
		slog.Info("Local cache purged", "key", a.e.localKey)
		return events.LocalPurgeSucceeded{}
	}
	return nil
}

func (a *localAdapter) fetch(ctx context.Context) (statetree.Envelope, error) {
	ctx, span := a.startSpan(ctx, "persist.local.fetch")
	defer span.End()

	data, err := a.e.backend.Get(ctx, a.e.localKey)
	if errors.Is(err, storage.ErrNotFound) {
		return statetree.Envelope{}, nil
	}
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(otel.AttrBytes.Int(len(data)))

	var env statetree.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		err = fmt.Errorf("failed to decode cached state: %w", err)
		otel.RecordError(span, err)
		return nil, err
	}
	if env == nil {
		env = statetree.Envelope{}
	}
	return env, nil
}

func (a *localAdapter) update(ctx context.Context, env statetree.Envelope) error {
	ctx, span := a.startSpan(ctx, "persist.local.update")
	defer span.End()

	data, err := json.Marshal(env)
	if err != nil {
		err = fmt.Errorf("failed to encode state: %w", err)
		otel.RecordError(span, err)
		return err
	}
	span.SetAttributes(otel.AttrBytes.Int(len(data)))
	if err := a.e.backend.Set(ctx, a.e.localKey, data); err != nil {
		otel.RecordError(span, err)
		return err
	}
	return nil
}

func (a *localAdapter) purge(ctx context.Context) error {
	ctx, span := a.startSpan(ctx, "persist.local.purge")
	defer span.End()

	if err := a.e.backend.Remove(ctx, a.e.localKey); err != nil {
		otel.RecordError(span, err)
		return err
	}
	return nil
}

func (a *localAdapter) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.StartSpan(ctx, a.e.tracer, name,
		trace.WithAttributes(otel.AttrStorageKey.String(a.e.localKey)))
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/stacklok/statesync/pkg/events"
	"github.com/stacklok/statesync/pkg/memstore"
	"github.com/stacklok/statesync/pkg/persist"
	"github.com/stacklok/statesync/pkg/statetree"
	"github.com/stacklok/statesync/pkg/status"
)

// syncService implements SyncService over a running engine
type syncService struct {
	engine *persist.Engine
	store  *memstore.Store
	// slice key to in-memory path
	paths map[string]string
	ready atomic.Bool
}

var _ SyncService = (*syncService)(nil)

// NewSyncService creates the service. paths maps every slice key to its path
// in the store; an empty path means the key itself.
func NewSyncService(engine *persist.Engine, store *memstore.Store, paths map[string]string) (SyncService, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	resolved := resolvePaths(paths)
	registered := store.Keys()
	for key, path := range resolved {
		if !slices.Contains(registered, path) {
			return nil, fmt.Errorf("slice %q: path %q is not registered in the state store", key, path)
		}
	}
	return &syncService{engine: engine, store: store, paths: resolved}, nil
}

func resolvePaths(paths map[string]string) map[string]string {
	resolved := make(map[string]string, len(paths))
	for key, path := range paths {
		if path == "" {
			path = key
		}
		resolved[key] = path
	}
	return resolved
}

func (s *syncService) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return ErrNotReady
	}
	return nil
}

func (s *syncService) Status(_ context.Context) status.Status {
	return s.engine.Status()
}

func (s *syncService) ListSlices(_ context.Context) statetree.Collection {
	snapshot := s.store.Snapshot()
	out := make(statetree.Collection, len(s.paths))
	for key, path := range s.paths {
		out[key] = snapshot[path].Clone()
	}
	return out
}

func (s *syncService) GetSlice(_ context.Context, key string) (statetree.Slice, error) {
	path, ok := s.paths[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSliceNotFound, key)
	}
	slice, _ := s.store.Get(path)
	return slice, nil
}

func (s *syncService) PatchSlice(ctx context.Context, key string, fields statetree.Slice) (statetree.Slice, error) {
	path, ok := s.paths[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSliceNotFound, key)
	}
	if err := s.store.Patch(path, fields); err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "Slice patched", "slice", key, "fields", slices.Sorted(maps.Keys(fields)))
	slice, _ := s.store.Get(path)
	return slice, nil
}

func (s *syncService) Flush(ctx context.Context) error {
	return s.engine.Flush(ctx)
}

func (s *syncService) Rehydrate(ctx context.Context, manual bool) error {
	slog.InfoContext(ctx, "Rehydrating state", "manual", manual)
	if err := s.engine.Rehydrate(ctx, manual); err != nil {
		return err
	}
	s.ready.Store(true)
	slog.InfoContext(ctx, "State rehydrated")
	return nil
}

func (s *syncService) Purge(ctx context.Context) error {
	if err := s.engine.Purge(); err != nil {
		return err
	}
	if !s.engine.Bus().Publish(events.ResetState{}) {
		return persist.ErrEngineClosed
	}
	slog.InfoContext(ctx, "State purged and reset to defaults")
	return nil
}

// NewStateReducer applies rehydrated slices and resets to store, translating
// slice keys to their in-memory paths. Register it on the engine bus.
func NewStateReducer(store *memstore.Store, paths map[string]string) events.Reducer {
	resolved := resolvePaths(paths)
	return events.ReducerFunc(func(e events.Event) {
		if ev, ok := e.(events.SliceRehydrated); ok {
			path, ok := resolved[ev.Key]
			if !ok {
				return
			}
			ev.Key = path
			e = ev
		}
		store.Reduce(e)
	})
}

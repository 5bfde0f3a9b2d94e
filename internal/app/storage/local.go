package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacklok/statesync/internal/config"
	localstorage "github.com/stacklok/statesync/pkg/storage"
)

// CreateLocalBackend implements Factory
func (f *ConfigFactory) CreateLocalBackend(ctx context.Context) (localstorage.Backend, error) {
	lc := f.config.LocalCache
	slog.Info("Creating local cache backend", "driver", lc.GetDriver(), "path", lc.Path)

	switch lc.GetDriver() {
	case config.LocalCacheFile:
		return localstorage.NewFileBackend(lc.Path), nil
	case config.LocalCacheSQLite:
		backend, err := localstorage.OpenSQLite(ctx, lc.Path)
		if err != nil {
			return nil, err
		}
		f.onCleanup("sqlite", backend)
		return backend, nil
	case config.LocalCacheMemory:
		return localstorage.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown local cache driver: %s", lc.Driver)
	}
}

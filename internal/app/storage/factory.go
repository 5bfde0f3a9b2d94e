// Package storage builds the local cache backend and the remote store described
// by the configuration, and owns the resources they hold.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/statesync/internal/config"
	"github.com/stacklok/statesync/pkg/remote"
	localstorage "github.com/stacklok/statesync/pkg/storage"
)

// Factory creates the two storage tiers of the engine
type Factory interface {
	// CreateLocalBackend creates the local cache backend
	CreateLocalBackend(ctx context.Context) (localstorage.Backend, error)

	// CreateRemoteStore creates the remote store
	CreateRemoteStore(ctx context.Context) (remote.Store, error)

	// Cleanup releases connections and files held by created components.
	// Should be called when the application shuts down.
	Cleanup()
}

// ConfigFactory creates the components selected by a configuration
type ConfigFactory struct {
	config  *config.Config
	tracer  trace.Tracer
	closers []func()
}

var _ Factory = (*ConfigFactory)(nil)

// FactoryOption configures a ConfigFactory
type FactoryOption func(*ConfigFactory)

// WithTracer sets the tracer passed to stores that emit spans
func WithTracer(tracer trace.Tracer) FactoryOption {
	return func(f *ConfigFactory) {
		f.tracer = tracer
	}
}

// NewStorageFactory creates a factory for cfg
func NewStorageFactory(cfg *config.Config, opts ...FactoryOption) (*ConfigFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	f := &ConfigFactory{config: cfg}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Cleanup implements Factory
func (f *ConfigFactory) Cleanup() {
	for i := len(f.closers) - 1; i >= 0; i-- {
		f.closers[i]()
	}
	f.closers = nil
}

func (f *ConfigFactory) onCleanup(name string, c io.Closer) {
	f.closers = append(f.closers, func() {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close storage resource", "resource", name, "error", err)
		}
	})
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/statesync/internal/api"
	"github.com/stacklok/statesync/internal/app/storage"
	"github.com/stacklok/statesync/internal/config"
	"github.com/stacklok/statesync/internal/service"
	"github.com/stacklok/statesync/internal/telemetry"
	"github.com/stacklok/statesync/pkg/events"
	"github.com/stacklok/statesync/pkg/memstore"
	"github.com/stacklok/statesync/pkg/persist"
	"github.com/stacklok/statesync/pkg/statetree"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 40 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 45 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	persistTracerName = "github.com/stacklok/statesync/persist"
)

// SyncAppOptions is a function that configures the sync app builder
type SyncAppOptions func(*syncAppConfig) error

// syncAppConfig collects the components and settings NewSyncApp builds from.
// Injected components take precedence over the ones derived from config.
type syncAppConfig struct {
	config *config.Config

	storageFactory storage.Factory

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
	flushTimeout   time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...SyncAppOptions) (*syncAppConfig, error) {
	cfg := &syncAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
		flushTimeout:   api.DefaultFlushTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// NewSyncApp builds the engine, the service and the HTTP server from the options
func NewSyncApp(
	ctx context.Context,
	opts ...SyncAppOptions,
) (*SyncApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.storageFactory == nil {
		var factoryOpts []storage.FactoryOption
		if cfg.tracerProvider != nil {
			factoryOpts = append(factoryOpts, storage.WithTracer(cfg.tracerProvider.Tracer(persistTracerName)))
		}
		cfg.storageFactory, err = storage.NewStorageFactory(cfg.config, factoryOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}

	// Ensure cleanup happens on error
	var cleanupNeeded = true
	defer func() {
		if cleanupNeeded {
			cfg.storageFactory.Cleanup()
		}
	}()

	components, err := buildSyncComponents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	httpServer, err := buildHTTPServer(ctx, cfg, components.SyncService)
	if err != nil {
		components.Bus.Close()
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)

	cleanupNeeded = false

	return &SyncApp{
		config:         cfg.config,
		components:     components,
		httpServer:     httpServer,
		storageFactory: cfg.storageFactory,
		flushTimeout:   cfg.flushTimeout,
		ctx:            appCtx,
		cancelFunc:     cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares, replacing the defaults
func WithMiddlewares(mw ...func(http.Handler) http.Handler) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithFlushTimeout bounds how long a flush may block, both for API requests
// and for the final flush on shutdown
func WithFlushTimeout(d time.Duration) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if d <= 0 {
			return fmt.Errorf("flush timeout must be positive, got %s", d)
		}
		cfg.flushTimeout = d
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for engine and HTTP metrics
func WithMeterProvider(mp metric.MeterProvider) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for engine and HTTP spans
func WithTracerProvider(tp trace.TracerProvider) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler mounts h on /metrics
func WithMetricsHandler(h http.Handler) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// buildState creates the in-memory state from the slice defaults and returns
// it with the slice key to path mapping
func buildState(cfg *config.Config) (*memstore.Store, map[string]string) {
	defaults := make(map[string]statetree.Slice, len(cfg.Slices))
	paths := make(map[string]string, len(cfg.Slices))
	for _, sc := range cfg.Slices {
		defaults[sc.GetPath()] = statetree.Slice(sc.Default)
		paths[sc.Key] = sc.GetPath()
	}
	return memstore.New(defaults), paths
}

// engineOptions translates the configuration into engine options
func engineOptions(cfg *config.Config) ([]persist.Option, error) {
	debounce, err := cfg.GetPersistDebounceTime()
	if err != nil {
		return nil, err
	}

	opts := []persist.Option{
		persist.WithLocalStorageKey(cfg.LocalStorageKey),
		persist.WithDebounce(debounce),
	}
	for _, sc := range cfg.Slices {
		sel := memstore.Select(sc.GetPath())
		if sc.Persist {
			opts = append(opts, persist.WithPersistSlice(sc.Key, sel))
		}
		if sc.Rehydrate {
			opts = append(opts, persist.WithRehydrateSlice(sc.Key, sel))
		}
	}
	return opts, nil
}

// buildSyncComponents builds the state, both storage tiers, the engine and the service
func buildSyncComponents(
	ctx context.Context,
	b *syncAppConfig,
) (*AppComponents, error) {
	slog.Info("Initializing sync components")

	backend, err := b.storageFactory.CreateLocalBackend(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create local cache backend: %w", err)
	}
	remoteStore, err := b.storageFactory.CreateRemoteStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote store: %w", err)
	}

	state, paths := buildState(b.config)

	bus := events.NewBus()
	bus.AddReducer(service.NewStateReducer(state, paths))

	if b.meterProvider != nil {
		persistMetrics, err := telemetry.NewPersistMetrics(b.meterProvider)
		if err != nil {
			bus.Close()
			return nil, fmt.Errorf("failed to create persist metrics: %w", err)
		}
		if persistMetrics != nil {
			bus.AddReducer(persistMetrics)
			slog.Info("Persist metrics enabled")
		}
	}

	opts, err := engineOptions(b.config)
	if err != nil {
		bus.Close()
		return nil, err
	}
	opts = append(opts, persist.WithBus(bus))
	if b.tracerProvider != nil {
		opts = append(opts, persist.WithTracer(b.tracerProvider.Tracer(persistTracerName)))
	}

	engine, err := persist.New(state, backend, remoteStore, opts...)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to create persistence engine: %w", err)
	}

	svc, err := service.NewSyncService(engine, state, paths)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to create sync service: %w", err)
	}

	slog.Info("Sync components initialized successfully", "slices", len(paths))
	return &AppComponents{
		Engine:      engine,
		Bus:         bus,
		State:       state,
		SyncService: svc,
	}, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *syncAppConfig,
	svc service.SyncService,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	middlewares := b.middlewares
	if middlewares == nil {
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Metrics and tracing wrap everything else so rejected requests are seen too
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		if metricsMiddleware != nil {
			middlewares = append([]func(http.Handler) http.Handler{metricsMiddleware}, middlewares...)
			slog.Info("HTTP metrics middleware enabled")
		}
	}
	if b.tracerProvider != nil {
		middlewares = append([]func(http.Handler) http.Handler{telemetry.TracingMiddleware(b.tracerProvider)}, middlewares...)
	}

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(middlewares...),
		api.WithFlushTimeout(b.flushTimeout),
	}
	if b.metricsHandler != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(b.metricsHandler))
	}
	router := api.NewServer(svc, serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}

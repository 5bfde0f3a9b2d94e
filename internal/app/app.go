// Package app provides application lifecycle management for the sync server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stacklok/statesync/internal/app/storage"
	"github.com/stacklok/statesync/internal/config"
)

// SyncApp encapsulates all components needed to run the sync server.
// It provides lifecycle management and graceful shutdown capabilities.
type SyncApp struct {
	config         *config.Config
	components     *AppComponents
	httpServer     *http.Server
	storageFactory storage.Factory
	flushTimeout   time.Duration

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
	started    atomic.Bool
	stopOnce   sync.Once
	stopErr    error
}

// Start starts the engine, rehydrates in the background and serves HTTP.
// This method blocks until the HTTP server stops or encounters an error.
func (app *SyncApp) Start() error {
	if err := app.components.Engine.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start persistence engine: %w", err)
	}
	app.started.Store(true)

	go func() {
		if err := app.components.SyncService.Rehydrate(app.ctx, false); err != nil {
			slog.Error("Initial rehydrate failed", "error", err)
		}
	}()

	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop flushes pending changes within the flush timeout, stops the engine and
// shuts the HTTP server down within timeout. Calling Stop more than once is safe.
func (app *SyncApp) Stop(timeout time.Duration) error {
	app.stopOnce.Do(func() {
		app.stopErr = app.stop(timeout)
	})
	return app.stopErr
}

func (app *SyncApp) stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	// Stop accepting requests before the final flush so no change slips in after it
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	serverErr := app.httpServer.Shutdown(shutdownCtx)

	if app.started.Load() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), app.flushTimeout)
		if err := app.components.SyncService.Flush(flushCtx); err != nil {
			slog.Warn("Final flush did not complete", "error", err)
		}
		flushCancel()
	}

	if err := app.components.Engine.Stop(); err != nil {
		slog.Error("Failed to stop persistence engine", "error", err)
	}
	app.components.Bus.Close()

	if app.cancelFunc != nil {
		app.cancelFunc()
	}
	if app.storageFactory != nil {
		app.storageFactory.Cleanup()
	}

	if serverErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", serverErr)
	}
	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *SyncApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *SyncApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// GetComponents returns the application components
func (app *SyncApp) GetComponents() *AppComponents {
	return app.components
}

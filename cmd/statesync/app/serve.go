package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	syncapp "github.com/stacklok/statesync/internal/app"
	"github.com/stacklok/statesync/internal/config"
	"github.com/stacklok/statesync/internal/telemetry"
)

const defaultGracefulTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sync server",
		Long: `Start the sync server. It rehydrates the configured slices from the local
cache and the remote store, then persists every change to both.

The server requires a configuration file (--config) that specifies the slices,
the local cache backend and the remote store.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", ":8080", "Address to listen on")
	cmd.Flags().String("config", "", "Path to configuration file (YAML or HuJSON, required)")
	return cmd
}

// loadConfig reads the configuration named by the --config flag or STATESYNC_CONFIG
// and returns it with the viper instance holding the other flags
func loadConfig(cmd *cobra.Command, flags ...string) (*config.Config, *viper.Viper, error) {
	v, err := newViper(cmd, append([]string{"config"}, flags...)...)
	if err != nil {
		return nil, nil, err
	}
	configPath := v.GetString("config")
	if configPath == "" {
		return nil, nil, fmt.Errorf("a configuration file is required (--config)")
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"slices", len(cfg.Slices),
		"local_cache", cfg.LocalCache.GetDriver(),
		"remote", cfg.Remote.Type)
	return cfg, v, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := loadConfig(cmd, "address")
	if err != nil {
		return err
	}
	address := v.GetString("address")

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()
	otel.SetTracerProvider(tel.TracerProvider())
	otel.SetMeterProvider(tel.MeterProvider())

	// The engine must outlive the signal so Stop can still flush
	syncApp, err := syncapp.NewSyncApp(context.WithoutCancel(ctx),
		syncapp.WithConfig(cfg),
		syncapp.WithAddress(address),
		syncapp.WithMeterProvider(tel.MeterProvider()),
		syncapp.WithTracerProvider(tel.TracerProvider()),
		syncapp.WithMetricsHandler(tel.MetricsHandler()),
	)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- syncApp.Start()
	}()

	select {
	case err := <-errChan:
		if stopErr := syncApp.Stop(defaultGracefulTimeout); stopErr != nil {
			slog.Error("Failed to stop application", "error", stopErr)
		}
		return err
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	if err := syncApp.Stop(defaultGracefulTimeout); err != nil {
		return err
	}
	return <-errChan
}

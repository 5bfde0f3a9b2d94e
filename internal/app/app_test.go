package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/statesync/pkg/statetree"
)

const (
	waitTimeout = 5 * time.Second
	pollEvery   = 20 * time.Millisecond
)

// freeAddress returns a loopback address with a port that was free a moment ago
func freeAddress(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	return addr
}

func createTestApp(t *testing.T, factory *memoryFactory) *SyncApp {
	t.Helper()
	app, err := NewSyncApp(context.Background(),
		WithConfig(createValidTestConfig()),
		WithStorageFactory(factory),
		WithAddress(freeAddress(t)),
		WithFlushTimeout(waitTimeout),
	)
	require.NoError(t, err)
	return app
}

func startApp(t *testing.T, app *SyncApp) <-chan error {
	t.Helper()
	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()
	return errChan
}

func waitStopped(t *testing.T, errChan <-chan error) {
	t.Helper()
	select {
	case startErr := <-errChan:
		require.NoError(t, startErr)
	case <-time.After(waitTimeout):
		t.Fatal("Start() did not return after Stop()")
	}
}

func newClient() *http.Client {
	return &http.Client{
		Timeout:   waitTimeout,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
}

func TestSyncApp_StartRehydratesAndServes(t *testing.T) {
	t.Parallel()

	factory := newMemoryFactory(statetree.Envelope{
		"settings": {"themeName": {Value: "dark"}},
	})
	app := createTestApp(t, factory)
	errChan := startApp(t, app)
	client := newClient()
	base := "http://" + app.GetHTTPServer().Addr

	require.Eventually(t, func() bool {
		resp, err := client.Get(base + "/readiness")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, waitTimeout, pollEvery, "server becomes ready after the initial rehydrate")

	resp, err := client.Get(base + "/v1/slices/settings")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var slice statetree.Slice
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&slice))
	assert.Equal(t, statetree.Slice{"themeName": "dark"}, slice)

	require.NoError(t, app.Stop(waitTimeout))
	waitStopped(t, errChan)
	assert.Equal(t, 1, factory.cleanups)
}

func TestSyncApp_StopFlushesPendingChanges(t *testing.T) {
	t.Parallel()

	factory := newMemoryFactory(nil)
	app := createTestApp(t, factory)
	errChan := startApp(t, app)
	client := newClient()
	base := "http://" + app.GetHTTPServer().Addr

	require.Eventually(t, func() bool {
		return app.GetComponents().SyncService.CheckReadiness(context.Background()) == nil
	}, waitTimeout, pollEvery)

	req, err := http.NewRequest(http.MethodPatch, base+"/v1/slices/layout", bytes.NewBufferString(`{"sidebar":false}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	svc := app.GetComponents().SyncService
	require.Eventually(t, func() bool {
		return svc.Status(context.Background()).IsUpdateQueued
	}, waitTimeout, pollEvery, "the change waits for the debounce")

	require.NoError(t, app.Stop(waitTimeout))
	waitStopped(t, errChan)

	updates := factory.remote.Updates()
	require.NotEmpty(t, updates, "Stop commits the queued change")
	last := updates[len(updates)-1]
	require.Contains(t, last, "layout")
	assert.Equal(t, false, last["layout"]["sidebar"].Value)

	_, err = factory.backend.Get(context.Background(), "persist:root")
	require.NoError(t, err, "the committed state is cached locally")
}

func TestSyncApp_StopRightAfterChange(t *testing.T) {
	t.Parallel()

	factory := newMemoryFactory(nil)
	app := createTestApp(t, factory)
	errChan := startApp(t, app)
	svc := app.GetComponents().SyncService
	ctx := context.Background()

	require.Eventually(t, func() bool {
		return svc.CheckReadiness(ctx) == nil && svc.Status(ctx).IsUpdateQueued
	}, waitTimeout, pollEvery, "persistence runs with the rehydrated state queued")

	_, err := svc.PatchSlice(ctx, "settings", statetree.Slice{"themeName": "dark"})
	require.NoError(t, err)
	require.NoError(t, app.Stop(waitTimeout))
	waitStopped(t, errChan)

	updates := factory.remote.Updates()
	require.NotEmpty(t, updates)
	current, err := factory.remote.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dark", current["settings"]["themeName"].Value, "the last change reaches the remote store")
	assert.True(t, app.GetComponents().Engine.Status().IsSettled(), "nothing is left queued")
}

func TestSyncApp_StopIdempotent(t *testing.T) {
	t.Parallel()

	factory := newMemoryFactory(nil)
	app := createTestApp(t, factory)
	errChan := startApp(t, app)

	require.Eventually(t, func() bool {
		return app.GetComponents().SyncService.CheckReadiness(context.Background()) == nil
	}, waitTimeout, pollEvery)

	require.NoError(t, app.Stop(waitTimeout))
	require.NoError(t, app.Stop(waitTimeout))
	waitStopped(t, errChan)
	assert.Equal(t, 1, factory.cleanups)
}

func TestSyncApp_StopWithoutStart(t *testing.T) {
	t.Parallel()

	factory := newMemoryFactory(nil)
	app := createTestApp(t, factory)

	done := make(chan error, 1)
	go func() { done <- app.Stop(waitTimeout) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Stop() blocked on an app that never started")
	}
	assert.Equal(t, 1, factory.cleanups)
}

func TestSyncApp_StartAfterStop(t *testing.T) {
	t.Parallel()

	app := createTestApp(t, newMemoryFactory(nil))
	require.NoError(t, app.Stop(waitTimeout))

	err := app.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start persistence engine")
}

func TestSyncApp_StartError_AddressInUse(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	app, err := NewSyncApp(context.Background(),
		WithConfig(createValidTestConfig()),
		WithStorageFactory(newMemoryFactory(nil)),
		WithAddress(listener.Addr().String()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(time.Second) })

	err = app.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP server failed")
}

func TestSyncApp_GetConfig(t *testing.T) {
	t.Parallel()

	app := createTestApp(t, newMemoryFactory(nil))
	t.Cleanup(func() { _ = app.Stop(time.Second) })

	assert.Equal(t, "persist:root", app.GetConfig().LocalStorageKey)
}

package app

import (
	"github.com/stacklok/statesync/internal/service"
	"github.com/stacklok/statesync/pkg/events"
	"github.com/stacklok/statesync/pkg/memstore"
	"github.com/stacklok/statesync/pkg/persist"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Engine runs rehydration, persistence and flushing
	Engine *persist.Engine

	// Bus carries the engine events; the app closes it on Stop
	Bus *events.Bus

	// State is the in-memory state the engine persists
	State *memstore.Store

	// SyncService is the API facing view of the engine
	SyncService service.SyncService
}

// Package service provides the operations exposed by the control API on top of
// the sync engine and the in-memory state.
package service

import (
	"context"
	"errors"

	"github.com/stacklok/statesync/pkg/statetree"
	"github.com/stacklok/statesync/pkg/status"
)

var (
	// ErrSliceNotFound is returned when a slice key is not registered
	ErrSliceNotFound = errors.New("slice not found")
	// ErrNotReady is returned until the first rehydrate has completed
	ErrNotReady = errors.New("state not rehydrated yet")
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go SyncService

// SyncService defines the operations on the synchronized state
type SyncService interface {
	// CheckReadiness returns nil once the state has been rehydrated
	CheckReadiness(ctx context.Context) error

	// Status returns the persistence pipeline status
	Status(ctx context.Context) status.Status

	// ListSlices returns the current value of every slice, keyed by slice key
	ListSlices(ctx context.Context) statetree.Collection

	// GetSlice returns the current value of one slice
	GetSlice(ctx context.Context, key string) (statetree.Slice, error)

	// PatchSlice sets fields of a slice and returns the new value. A nil field value deletes the field.
	PatchSlice(ctx context.Context, key string, fields statetree.Slice) (statetree.Slice, error)

	// Flush commits pending changes and waits until the pipeline is settled
	Flush(ctx context.Context) error

	// Rehydrate restores the state from the cache and the remote store
	Rehydrate(ctx context.Context, manual bool) error

	// Purge stops persistence, clears the cache and resets the state to defaults
	Purge(ctx context.Context) error
}

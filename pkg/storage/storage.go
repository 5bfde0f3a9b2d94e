// Package storage provides the key/value backends used as the local cache tier.
package storage

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_backend.go -package=mocks -source=storage.go Backend

var (
	// ErrNotFound is returned by Get when the key has no value
	ErrNotFound = errors.New("key not found")

	// ErrEmptyKey is returned when an operation is called with an empty key
	ErrEmptyKey = errors.New("storage key must not be empty")
)

// Backend is an asynchronous key/value store holding serialized documents.
type Backend interface {
	// Get returns the value stored under key, or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error
	Remove(ctx context.Context, key string) error
}

func checkKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

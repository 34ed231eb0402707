// Package backend provides key-value store abstractions for the bounded cache.
package backend

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store is an unbounded string key-value store.
// Implementations must be safe for concurrent use and should classify
// quota or space failures with ClassifyCapacity so callers can react to them.
type Store interface {
	// GetItem retrieves the value stored at key.
	// Returns ErrNotFound if the key does not exist.
	GetItem(ctx context.Context, key string) (string, error)

	// SetItem stores value at key, overwriting any existing value.
	// A failed write must leave no partial value behind.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes key.
	// Returns nil if the key does not exist (idempotent).
	RemoveItem(ctx context.Context, key string) error

	// AllKeys returns every key in the store, in no particular order.
	AllKeys(ctx context.Context) ([]string, error)

	// MultiRemove deletes all the given keys in one call.
	// Missing keys are ignored.
	MultiRemove(ctx context.Context, keys []string) error
}

// SizeAwareStore extends Store with size information.
type SizeAwareStore interface {
	Store

	// ItemSize returns the size in bytes of the value stored at key.
	// Returns ErrNotFound if the key does not exist.
	ItemSize(ctx context.Context, key string) (int64, error)
}

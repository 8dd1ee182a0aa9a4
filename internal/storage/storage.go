// Package storage provides the durable key-value store shared by the page
// and worker contexts. Writes are last-writer-wins per key; there is no
// versioning.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has never been written or was deleted.
var ErrNotFound = errors.New("storage: key not found")

// Store is the persistence surface the SDK runs on. Implementations must
// survive process restarts (the Memory store is for tests only).
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the value for key, overwriting any prior value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the keys currently set under the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Append adds an entry to the named append-only log.
	Append(ctx context.Context, log string, entry []byte) error

	// Entries returns up to limit most recent entries of the named log,
	// oldest first. limit <= 0 means all.
	Entries(ctx context.Context, log string, limit int) ([][]byte, error)

	// Close releases underlying resources.
	Close() error
}

// Package storage provides pluggable backend interfaces for state
// persistence.
package storage

import "context"

// Store is the pluggable backend interface for persistence operations.
//
// Each persistence component creates its own Store implementation with
// its own configuration (root directory, bucket name, connection).
// Keys are strings (hierarchical paths supported via "/" separators),
// values are binary data, and all operations are context-aware for
// cancellation and timeouts.
//
// Implementations:
//   - filestore.Store: local filesystem backend with atomic writes
//   - natsstore.Store: NATS JetStream KV backend
//
// Thread Safety: all Store implementations must be safe for concurrent
// use from multiple goroutines.
type Store interface {
	// Put stores binary data at the specified key, overwriting any
	// existing value.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves binary data for the specified key.
	// Returns an error wrapping errors.ErrKeyNotFound if the key does
	// not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the value at the specified key. Deleting an
	// absent key is not an error; I/O failures propagate.
	Delete(ctx context.Context, key string) error

	// List returns all keys matching the specified prefix, in
	// lexicographic order. Returns an empty slice when nothing matches.
	List(ctx context.Context, prefix string) ([]string, error)
}

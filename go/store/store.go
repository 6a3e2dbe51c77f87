// Package store defines the flat key->bytes storage abstraction that backs
// every copick project root, along with concrete adapters for in-memory,
// local-disk, and Google Cloud Storage backends.
//
// Keys are opaque slash-delimited paths. The storage layer attaches no
// meaning to them beyond prefix matching in ListKeys.
package store

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned by Get and Delete when the key is absent.
	ErrNotFound = errors.New("key not found")

	// ErrReadOnly is returned by Put and Delete on a store that does not
	// accept writes.
	ErrReadOnly = errors.New("store is read-only")

	// ErrUnavailable wraps I/O failures of the underlying backend. It is
	// distinct from ErrNotFound: absence is not a storage failure.
	ErrUnavailable = errors.New("storage unavailable")
)

// Store is a flat key->bytes store.
//
// Implementations must be safe for concurrent use. Put must be atomic per
// key: a concurrent Get of the same key observes either the complete old
// value or the complete new value, never a partial write. No ordering is
// guaranteed across distinct keys.
type Store interface {
	// Get returns the exact stored byte sequence for key, or an error
	// wrapping ErrNotFound if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, overwriting unconditionally. When Put
	// returns nil, a subsequent Get of the same key sees the new value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Returns an error wrapping ErrNotFound if the key
	// is absent.
	Delete(ctx context.Context, key string) error

	// ListKeys returns every key with the given prefix, sorted. Ordering
	// carries no meaning but is deterministic within one call.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

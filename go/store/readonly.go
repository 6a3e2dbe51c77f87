package store

import (
	"context"

	"github.com/pkg/errors"
)

// readOnly wraps a Store and rejects all writes with ErrReadOnly. Base
// project roots are always mounted behind this wrapper so that no code path
// can mutate the original dataset.
type readOnly struct {
	inner Store
}

// ReadOnly returns a read-only view of s.
func ReadOnly(s Store) Store {
	return &readOnly{inner: s}
}

// Get implements Store.
func (r *readOnly) Get(ctx context.Context, key string) ([]byte, error) {
	return r.inner.Get(ctx, key)
}

// Put implements Store.
func (r *readOnly) Put(ctx context.Context, key string, value []byte) error {
	return errors.Wrap(ErrReadOnly, key)
}

// Delete implements Store.
func (r *readOnly) Delete(ctx context.Context, key string) error {
	return errors.Wrap(ErrReadOnly, key)
}

// ListKeys implements Store.
func (r *readOnly) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return r.inner.ListKeys(ctx, prefix)
}

// Package overlay merges a read-only base store with a writable overlay
// store into a single logical store with copy-on-write semantics.
//
// Every write lands in the overlay; the base is never mutated. A deleted key
// is recorded as a tombstone artifact in the overlay, so a deletion shadows a
// base value across process restarts even though the overlay holds no
// positive content for the key. Each key is therefore in one of three
// states: absent, tombstoned, or present-with-value.
package overlay

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/copick/copick-server-go/go/store"
)

// tombstoneSuffix marks overlay entries that record a deletion. Keys ending
// in this suffix are reserved; the API layer never produces them.
const tombstoneSuffix = ".__tombstone__"

// tombstoneKey returns the overlay key that records a deletion of key.
func tombstoneKey(key string) string {
	return key + tombstoneSuffix
}

// isTombstone returns true if the overlay key records a deletion.
func isTombstone(key string) bool {
	return strings.HasSuffix(key, tombstoneSuffix)
}

// Overlay implements store.Store over a (base, overlay) pair with shadowing.
// It holds no state of its own; all resolution happens per call.
type Overlay struct {
	base store.Store
	over store.Store
}

// New returns an Overlay over the given base and overlay stores. The base is
// wrapped read-only regardless of the capabilities of the underlying store.
func New(base, over store.Store) *Overlay {
	return &Overlay{
		base: store.ReadOnly(base),
		over: over,
	}
}

// hasTombstone reports whether the overlay records a deletion of key.
// Storage failures are surfaced; absence of the marker is not an error.
func (o *Overlay) hasTombstone(ctx context.Context, key string) (bool, error) {
	_, err := o.over.Get(ctx, tombstoneKey(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Get implements store.Store. A tombstone shadows any base value; an overlay
// value shadows the base; otherwise the base is consulted. The overlay is
// never written by a Get, so a failed or cancelled base read cannot leave the
// overlay inconsistent.
func (o *Overlay) Get(ctx context.Context, key string) ([]byte, error) {
	deleted, err := o.hasTombstone(ctx, key)
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, errors.Wrap(store.ErrNotFound, key)
	}
	b, err := o.over.Get(ctx, key)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return o.base.Get(ctx, key)
}

// Put implements store.Store. The value goes to the overlay only, and any
// existing tombstone for the key is cleared so the new value is visible.
func (o *Overlay) Put(ctx context.Context, key string, value []byte) error {
	if isTombstone(key) {
		return errors.Errorf("key %q uses the reserved tombstone suffix", key)
	}
	if err := o.over.Put(ctx, key, value); err != nil {
		return err
	}
	if err := o.over.Delete(ctx, tombstoneKey(key)); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// Delete implements store.Store. If the key is present in either store a
// tombstone is recorded in the overlay and any overlay value is removed; the
// base is untouched. Deleting a key absent from both stores (or already
// tombstoned) returns store.ErrNotFound.
func (o *Overlay) Delete(ctx context.Context, key string) error {
	deleted, err := o.hasTombstone(ctx, key)
	if err != nil {
		return err
	}
	if deleted {
		return errors.Wrap(store.ErrNotFound, key)
	}

	inOverlay := true
	if err := o.over.Delete(ctx, key); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		inOverlay = false
	}
	if !inOverlay {
		if _, err := o.base.Get(ctx, key); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errors.Wrap(store.ErrNotFound, key)
			}
			return err
		}
	}
	return o.over.Put(ctx, tombstoneKey(key), []byte{})
}

// ListKeys implements store.Store. The result is the union of base and
// overlay keys under prefix, minus tombstoned keys and the tombstone markers
// themselves, sorted and deduplicated.
func (o *Overlay) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	baseKeys, err := o.base.ListKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	overKeys, err := o.over.ListKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	union := map[string]bool{}
	for _, key := range baseKeys {
		union[key] = true
	}
	deleted := map[string]bool{}
	for _, key := range overKeys {
		if isTombstone(key) {
			deleted[strings.TrimSuffix(key, tombstoneSuffix)] = true
			continue
		}
		union[key] = true
	}

	ret := make([]string, 0, len(union))
	for key := range union {
		if !deleted[key] {
			ret = append(ret, key)
		}
	}
	sort.Strings(ret)
	return ret, nil
}

// Assert Overlay implements store.Store.
var _ store.Store = (*Overlay)(nil)

package store

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// FileStore is a Store backed by a local directory. A key "a/b/c" is stored
// at {root}/a/b/c, so the on-disk layout mirrors the key namespace directly
// and survives process restarts.
type FileStore struct {
	root string
}

// NewFileStore returns a FileStore rooted at root, creating the directory if
// it does not exist.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("root directory must not be empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "creating root %s: %s", root, err)
	}
	return &FileStore{
		root: root,
	}, nil
}

// keyPath maps a key to its absolute file path, rejecting keys that would
// escape the root directory.
func (f *FileStore) keyPath(key string) (string, error) {
	cleaned := path.Clean("/" + key)
	if cleaned == "/" {
		return "", errors.Errorf("invalid key: %q", key)
	}
	return filepath.Join(f.root, filepath.FromSlash(cleaned[1:])), nil
}

// Get implements Store.
func (f *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filename, err := f.keyPath(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "reading %s: %s", key, err)
	}
	return b, nil
}

// Put implements Store. The value is written to a temp file in the
// destination directory and renamed into place, so concurrent readers of the
// same key never observe a torn write. Concurrent writers to the same key
// race; the last rename to complete wins.
func (f *FileStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filename, err := f.keyPath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(ErrUnavailable, "creating %s: %s", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return errors.Wrapf(ErrUnavailable, "creating temp file for %s: %s", key, err)
	}
	_, writeErr := tmp.Write(value)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(ErrUnavailable, "writing %s", key)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(ErrUnavailable, "writing %s: %s", key, err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(ErrUnavailable, "writing %s: %s", key, err)
	}
	return nil
}

// Delete implements Store.
func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filename, err := f.keyPath(key)
	if err != nil {
		return err
	}
	err = os.Remove(filename)
	if os.IsNotExist(err) {
		return errors.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return errors.Wrapf(ErrUnavailable, "deleting %s: %s", key, err)
	}
	return nil
}

// ListKeys implements Store. Only the directory subtree that can contain the
// prefix is walked.
func (f *FileStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Walk from the deepest directory fully contained in the prefix, e.g.
	// prefix "run1/me" walks {root}/run1.
	walkDir := f.root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir, err := f.keyPath(prefix[:i])
		if err == nil {
			walkDir = dir
		}
	}
	ret := []string{}
	err := filepath.WalkDir(walkDir, func(p string, d fs.DirEntry, err error) error {
		if os.IsNotExist(err) {
			// The prefix directory doesn't exist; nothing to list.
			return filepath.SkipAll
		}
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			ret = append(ret, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "listing %s: %s", prefix, err)
	}
	sort.Strings(ret)
	return ret, nil
}

// Root returns the directory the store is rooted at.
func (f *FileStore) Root() string {
	return f.root
}

// Assert FileStore implements Store.
var _ Store = (*FileStore)(nil)

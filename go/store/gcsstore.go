package store

import (
	"context"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
)

// GCSStore is a Store backed by a Google Cloud Storage bucket, used for
// remote base roots such as the cryoET data portal buckets. All keys are
// stored under an optional object-name prefix.
//
// Reads and listings may be slow; every operation honors ctx cancellation so
// a disconnected client does not keep a bucket read alive.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore returns a GCSStore for the given bucket. prefix may be empty;
// otherwise it is treated as a directory-like object-name prefix.
func NewGCSStore(client *storage.Client, bucket, prefix string) *GCSStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &GCSStore{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// object returns the full object name for key.
func (g *GCSStore) object(key string) string {
	return g.prefix + key
}

// Get implements Store.
func (g *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := g.client.Bucket(g.bucket).Object(g.object(key)).NewReader(ctx)
	if err == storage.ErrObjectNotExist {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "reading gs://%s/%s: %s", g.bucket, g.object(key), err)
	}
	defer func() {
		_ = r.Close()
	}()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "reading gs://%s/%s: %s", g.bucket, g.object(key), err)
	}
	return b, nil
}

// Put implements Store. GCS object writes are atomic: the object becomes
// visible only once the writer is closed successfully.
func (g *GCSStore) Put(ctx context.Context, key string, value []byte) error {
	w := g.client.Bucket(g.bucket).Object(g.object(key)).NewWriter(ctx)
	if _, err := w.Write(value); err != nil {
		return errors.Wrapf(ErrUnavailable, "writing gs://%s/%s: %s", g.bucket, g.object(key), err)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(ErrUnavailable, "writing gs://%s/%s: %s", g.bucket, g.object(key), err)
	}
	return nil
}

// Delete implements Store.
func (g *GCSStore) Delete(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(g.object(key)).Delete(ctx)
	if err == storage.ErrObjectNotExist {
		return errors.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return errors.Wrapf(ErrUnavailable, "deleting gs://%s/%s: %s", g.bucket, g.object(key), err)
	}
	return nil
}

// ListKeys implements Store.
func (g *GCSStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	q := &storage.Query{Prefix: g.prefix + prefix}
	it := g.client.Bucket(g.bucket).Objects(ctx, q)
	ret := []string{}
	for {
		obj, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(ErrUnavailable, "listing gs://%s/%s: %s", g.bucket, g.prefix+prefix, err)
		}
		ret = append(ret, strings.TrimPrefix(obj.Name, g.prefix))
	}
	sort.Strings(ret)
	return ret, nil
}

// Assert GCSStore implements Store.
var _ Store = (*GCSStore)(nil)

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copick/copick-server-go/go/api"
	"github.com/copick/copick-server-go/go/config"
	"github.com/copick/copick-server-go/go/project"
	"github.com/copick/copick-server-go/go/store"
)

// setupForTest starts a server with one writable project named "p" and
// returns the base store for seeding, plus a connected Client.
func setupForTest(t *testing.T) (*store.FileStore, *Client) {
	baseRoot := t.TempDir()
	base, err := store.NewFileStore(baseRoot)
	require.NoError(t, err)

	cfg, err := config.Load([]byte(fmt.Sprintf(`{
		"projects": [{"name": "p", "base": {"kind": "file", "root": %q},
		              "overlay": {"root": %q}}]
	}`, baseRoot, t.TempDir())))
	require.NoError(t, err)
	router, err := project.NewRouter(context.Background(), cfg, nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	api.New(router).AddHandlers(r)
	testServer := httptest.NewServer(r)
	t.Cleanup(testServer.Close)

	c, err := New(testServer.URL)
	require.NoError(t, err)
	return base, c
}

func TestNew_InvalidURL_ReturnsError(t *testing.T) {
	_, err := New("not-a-valid-url\n")
	require.Error(t, err)
	_, err = New("no-scheme")
	require.Error(t, err)
}

func TestPutThenGet_RoundTrips(t *testing.T) {
	_, c := setupForTest(t)
	ctx := context.Background()
	value := []byte{0, 1, 2, 0xff}
	require.NoError(t, c.Put(ctx, "p", "run1/chunk_0_0", value))
	got, err := c.Get(ctx, "p", "run1/chunk_0_0")
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestGet_MissingKey_ReturnsNotFoundSentinel(t *testing.T) {
	_, c := setupForTest(t)
	_, err := c.Get(context.Background(), "p", "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetRange_ReturnsRequestedSlice(t *testing.T) {
	base, c := setupForTest(t)
	ctx := context.Background()
	require.NoError(t, base.Put(ctx, "run1/chunk", []byte("0123456789")))

	got, err := c.GetRange(ctx, "p", "run1/chunk", 2, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), got)
}

func TestGetRange_BeyondValue_ReturnsRangeSentinel(t *testing.T) {
	base, c := setupForTest(t)
	ctx := context.Background()
	require.NoError(t, base.Put(ctx, "run1/chunk", []byte("0123")))

	_, err := c.GetRange(ctx, "p", "run1/chunk", 10, 20)
	require.ErrorIs(t, err, ErrRangeNotSatisfiable)
}

func TestGetRange_EmptyInterval_ReturnsError(t *testing.T) {
	_, c := setupForTest(t)
	_, err := c.GetRange(context.Background(), "p", "k", 5, 5)
	require.Error(t, err)
}

func TestDelete_ThenGet_ReturnsNotFound(t *testing.T) {
	_, c := setupForTest(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "p", "k", []byte("v")))
	require.NoError(t, c.Delete(ctx, "p", "k"))
	_, err := c.Get(ctx, "p", "k")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPut_MalformedZarray_ReturnsMalformedSentinel(t *testing.T) {
	_, c := setupForTest(t)
	err := c.Put(context.Background(), "p", "a.zarr/.zarray", []byte("not json"))
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestList_ReturnsImmediateChildren(t *testing.T) {
	base, c := setupForTest(t)
	ctx := context.Background()
	require.NoError(t, base.Put(ctx, "run1/meta.json", []byte("{}")))
	require.NoError(t, base.Put(ctx, "run1/Tomograms/a.zarr/.zarray", []byte("{}")))

	l, err := c.List(ctx, "p", "run1")
	require.NoError(t, err)
	assert.Equal(t, "run1/", l.Prefix)
	assert.ElementsMatch(t, []string{"meta.json", "Tomograms/"}, l.Names)
}

func TestProjects_ReturnsServedProjects(t *testing.T) {
	_, c := setupForTest(t)
	names, err := c.Projects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"p"}, names)
}

func TestCreateSegmentation_MetadataOnly_ArrayExistsEmpty(t *testing.T) {
	_, c := setupForTest(t)
	ctx := context.Background()

	prefix, err := c.CreateSegmentation(ctx, CreateSegmentationRequest{
		Project:    "p",
		Run:        "10440",
		VoxelSize:  10.0,
		UserID:     "u1",
		SessionID:  "s1",
		Name:       "membrane",
		Multilabel: true,
		Shape:      []int64{64, 64, 64},
		ChunkShape: []int64{32, 32, 32},
	})
	require.NoError(t, err)
	assert.Equal(t, "10440/Segmentations/10.000_u1_s1_membrane-multilabel.zarr", prefix)

	// Exactly the metadata key exists, no chunks.
	l, err := c.List(ctx, "p", prefix)
	require.NoError(t, err)
	assert.Equal(t, []string{".zarray"}, l.Names)
}

func TestCreateSegmentation_WithChunks_UploadsAll(t *testing.T) {
	_, c := setupForTest(t)
	ctx := context.Background()

	prefix, err := c.CreateSegmentation(ctx, CreateSegmentationRequest{
		Project:    "p",
		Run:        "10440",
		VoxelSize:  7.84,
		UserID:     "u1",
		SessionID:  "0",
		Name:       "ribosome",
		Shape:      []int64{64, 64, 64},
		ChunkShape: []int64{32, 32, 32},
		Chunks: []Chunk{
			{Coords: []int64{0, 0, 0}, Data: []byte{1, 2, 3}},
			{Coords: []int64{0, 0, 1}, Data: []byte{4, 5, 6}},
		},
	})
	require.NoError(t, err)

	got, err := c.Get(ctx, "p", prefix+"/0/0/1")
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5, 6}, got)
}

func TestCreateSegmentation_MissingFields_ReturnsError(t *testing.T) {
	_, c := setupForTest(t)
	_, err := c.CreateSegmentation(context.Background(), CreateSegmentationRequest{
		Project: "p",
		Run:     "10440",
	})
	require.Error(t, err)
}

func TestCreateSegmentation_BadShape_ReportsMetadataStep(t *testing.T) {
	_, c := setupForTest(t)
	_, err := c.CreateSegmentation(context.Background(), CreateSegmentationRequest{
		Project:    "p",
		Run:        "10440",
		VoxelSize:  10.0,
		UserID:     "u1",
		SessionID:  "s1",
		Name:       "membrane",
		Shape:      []int64{64, 64},
		ChunkShape: []int64{32},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata")
}

func TestDo_StorageUnavailable_IsRetried(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"kind":"storage_unavailable","message":"flaky"}`))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(ts.Close)

	c, err := New(ts.URL)
	require.NoError(t, err)
	got, err := c.Get(context.Background(), "p", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDo_NotFound_IsNotRetried(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"kind":"not_found","message":"nope"}`))
	}))
	t.Cleanup(ts.Close)

	c, err := New(ts.URL)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "p", "k")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

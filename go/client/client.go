// Package client is a Go client for the copick chunk protocol REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/copick/copick-server-go/go/store"
	"github.com/copick/copick-server-go/go/zarrmeta"
)

// maxConcurrentChunkUploads bounds the parallelism of CreateSegmentation.
const maxConcurrentChunkUploads = 8

// Client-side sentinel errors for protocol error kinds that have no
// counterpart in the store package.
var (
	// ErrMalformedPayload is returned when the server rejects a write as
	// structurally invalid.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrRangeNotSatisfiable is returned when a requested byte range lies
	// outside the stored value.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)

// Client talks to a copick server.
type Client struct {
	// baseURL holds the base scheme, host, and port that all requests
	// should go to.
	baseURL *url.URL

	httpClient *http.Client
}

// New returns a new Client. host is the base scheme, host, and port of the
// server, e.g. "http://localhost:8000".
func New(host string) (*Client, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, errors.Wrap(err, "parsing host")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("host %q must include a scheme and host", host)
	}
	return &Client{
		baseURL:    u,
		httpClient: &http.Client{},
	}, nil
}

// keyURL returns the absolute URL for a key within a project.
func (c *Client) keyURL(project, key string) string {
	u := *c.baseURL
	u.Path = "/" + project + "/" + key
	return u.String()
}

// errorBody mirrors the server's JSON error response.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// checkResponse converts a non-2xx response into an error carrying the
// machine-readable kind reported by the server.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)
	var kindErr error
	switch body.Kind {
	case "not_found":
		kindErr = store.ErrNotFound
	case "read_only":
		kindErr = store.ErrReadOnly
	case "storage_unavailable":
		kindErr = store.ErrUnavailable
	case "malformed_payload":
		kindErr = ErrMalformedPayload
	case "range_not_satisfiable":
		kindErr = ErrRangeNotSatisfiable
	default:
		return errors.Errorf("request failed: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return errors.Wrapf(kindErr, "%s", body.Message)
}

// isRetryable reports whether the request should be retried. Only storage
// unavailability and transport failures are worth retrying; everything else
// is a terminal answer from the server.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrReadOnly) ||
		errors.Is(err, ErrMalformedPayload) || errors.Is(err, ErrRangeNotSatisfiable) {
		return false
	}
	return true
}

// do performs the request, retrying retryable failures with exponential
// backoff until ctx is cancelled or the backoff gives up. The returned body
// is fully read and the response closed.
func (c *Client) do(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, *http.Response, error) {
	var ret []byte
	var lastResp *http.Response
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	attempt := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "creating request"))
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errors.Wrap(err, "sending request")
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		lastResp = resp
		if err := checkResponse(resp); err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		ret, err = io.ReadAll(resp.Body)
		if err != nil {
			return errors.Wrap(err, "reading response body")
		}
		return nil
	}
	if err := backoff.Retry(attempt, backoff.WithContext(bo, ctx)); err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, lastResp, permanent.Err
		}
		return nil, lastResp, err
	}
	return ret, lastResp, nil
}

// Get returns the full value stored under key.
func (c *Client) Get(ctx context.Context, project, key string) ([]byte, error) {
	b, _, err := c.do(ctx, http.MethodGet, c.keyURL(project, key), nil, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s/%s", project, key)
	}
	return b, nil
}

// GetRange returns the half-open byte interval [start, end) of the value
// stored under key.
func (c *Client) GetRange(ctx context.Context, project, key string, start, end int64) ([]byte, error) {
	if end <= start {
		return nil, errors.Errorf("invalid range [%d, %d)", start, end)
	}
	headers := map[string]string{
		// HTTP ranges name the last byte inclusively.
		"Range": fmt.Sprintf("bytes=%d-%d", start, end-1),
	}
	b, _, err := c.do(ctx, http.MethodGet, c.keyURL(project, key), nil, headers)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s/%s [%d, %d)", project, key, start, end)
	}
	return b, nil
}

// Put writes value under key.
func (c *Client) Put(ctx context.Context, project, key string, value []byte) error {
	if _, _, err := c.do(ctx, http.MethodPut, c.keyURL(project, key), value, nil); err != nil {
		return errors.Wrapf(err, "writing %s/%s", project, key)
	}
	return nil
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, project, key string) error {
	if _, _, err := c.do(ctx, http.MethodDelete, c.keyURL(project, key), nil, nil); err != nil {
		return errors.Wrapf(err, "deleting %s/%s", project, key)
	}
	return nil
}

// Listing is one level of the key hierarchy. Names ending in "/" are groups
// with further structure beneath them.
type Listing struct {
	Prefix string   `json:"prefix"`
	Names  []string `json:"names"`
}

// List returns the immediate children under prefix.
func (c *Client) List(ctx context.Context, project, prefix string) (Listing, error) {
	var ret Listing
	b, _, err := c.do(ctx, http.MethodGet, c.keyURL(project, prefix)+"?list", nil, nil)
	if err != nil {
		return ret, errors.Wrapf(err, "listing %s/%s", project, prefix)
	}
	if err := json.Unmarshal(b, &ret); err != nil {
		return ret, errors.Wrap(err, "decoding listing")
	}
	return ret, nil
}

// Projects returns the names of all projects served by the server.
func (c *Client) Projects(ctx context.Context) ([]string, error) {
	u := *c.baseURL
	u.Path = "/"
	b, _, err := c.do(ctx, http.MethodGet, u.String(), nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "listing projects")
	}
	var ret []string
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, errors.Wrap(err, "decoding project list")
	}
	return ret, nil
}

// Chunk is one chunk of a segmentation volume, addressed by its coordinates
// in chunk space.
type Chunk struct {
	Coords []int64
	Data   []byte
}

// CreateSegmentationRequest describes a new segmentation array.
type CreateSegmentationRequest struct {
	Project    string
	Run        string
	VoxelSize  float64
	UserID     string
	SessionID  string
	Name       string
	Multilabel bool

	// Shape and ChunkShape are the voxel dimensions of the array and of one
	// chunk.
	Shape      []int64
	ChunkShape []int64

	// Chunks may be empty: a segmentation with only its metadata written is
	// a valid, empty array.
	Chunks []Chunk
}

// CreateSegmentation creates a new segmentation array: it writes the array
// metadata document first, then uploads any chunks concurrently. The two
// steps are not transactional; once the metadata write succeeds the array
// exists, and a failure while uploading chunks leaves a valid partial array
// behind. Errors name the step that failed.
//
// Returns the key prefix of the created array.
func (c *Client) CreateSegmentation(ctx context.Context, req CreateSegmentationRequest) (string, error) {
	if req.Project == "" || req.Run == "" || req.UserID == "" || req.SessionID == "" || req.Name == "" {
		return "", errors.New("project, run, user ID, session ID and name are all required")
	}
	prefix := zarrmeta.SegmentationPath(req.Run, req.VoxelSize, req.UserID, req.SessionID, req.Name, req.Multilabel)
	meta := zarrmeta.NewSegmentationMeta(req.Shape, req.ChunkShape, req.Multilabel)
	if err := meta.Validate(); err != nil {
		return "", errors.Wrap(err, "building segmentation metadata")
	}
	encoded, err := meta.Encode()
	if err != nil {
		return "", err
	}

	// Step 1: the metadata document. The array exists from here on.
	metaKey := prefix + "/" + zarrmeta.ArraySuffix
	if err := c.Put(ctx, req.Project, metaKey, encoded); err != nil {
		return "", errors.Wrap(err, "writing segmentation metadata")
	}

	// Step 2: chunks, lazily and independently.
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentChunkUploads)
	for _, chunk := range req.Chunks {
		chunk := chunk
		eg.Go(func() error {
			key := zarrmeta.ChunkKey(prefix, chunk.Coords, meta.DimensionSeparator)
			if err := c.Put(egCtx, req.Project, key, chunk.Data); err != nil {
				return errors.Wrapf(err, "writing chunk %v", chunk.Coords)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return prefix, err
	}
	return prefix, nil
}

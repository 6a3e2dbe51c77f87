// Package api implements the REST API that exposes copick projects as a
// chunked key->bytes protocol.
//
//	GET    /                         -> JSON list of project names.
//	GET    /{project}/{key...}       -> stored bytes; honors Range and
//	                                    If-None-Match; 206 for partial reads.
//	GET    /{project}/{prefix...}?list  JSON listing of immediate children.
//	HEAD   /{project}/{key...}       -> like GET without a body.
//	PUT    /{project}/{key...}       -> write; metadata documents validated.
//	DELETE /{project}/{key...}       -> delete; tombstones shadow the base.
//
// Every handler is stateless; a project's store is resolved per request.
package api

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/copick/copick-server-go/go/project"
	"github.com/copick/copick-server-go/go/store"
	"github.com/copick/copick-server-go/go/zarrmeta"
)

// maxBodySize bounds PUT payloads. Chunks of reasonable shape are far below
// this; it exists to stop a runaway client from exhausting server memory.
const maxBodySize = 1 << 30 // 1 GiB

// Machine-readable error kinds carried in the JSON error body.
const (
	kindNotFound            = "not_found"
	kindReadOnly            = "read_only"
	kindMalformedPayload    = "malformed_payload"
	kindStorageUnavailable  = "storage_unavailable"
	kindRangeNotSatisfiable = "range_not_satisfiable"
	kindInternal            = "internal"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "copick_server_requests_total",
	Help: "Number of chunk protocol requests, by endpoint.",
}, []string{"endpoint"})

// errorBody is the JSON payload of every error response.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Api supplies the handlers for the chunk protocol REST API.
type Api struct {
	router *project.Router
}

// New returns a new Api instance over the given project router.
func New(router *project.Router) *Api {
	return &Api{
		router: router,
	}
}

// AddHandlers hooks the chunk protocol up to the given chi router.
func (a *Api) AddHandlers(r chi.Router) {
	r.Get("/", a.projectsHandler)
	r.MethodFunc("GET", "/{project}/*", a.getHandler)
	r.MethodFunc("HEAD", "/{project}/*", a.getHandler)
	r.MethodFunc("PUT", "/{project}/*", a.putHandler)
	r.MethodFunc("DELETE", "/{project}/*", a.deleteHandler)
}

// reportError maps an internal error to a status code and machine-readable
// kind and writes the JSON error response.
func reportError(w http.ResponseWriter, err error, msg string) {
	kind := kindInternal
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound) || errors.Is(err, project.ErrUnknownProject):
		kind = kindNotFound
		status = http.StatusNotFound
	case errors.Is(err, store.ErrReadOnly):
		kind = kindReadOnly
		status = http.StatusForbidden
	case errors.Is(err, store.ErrUnavailable):
		kind = kindStorageUnavailable
		status = http.StatusServiceUnavailable
	}
	reportErrorWithKind(w, err, msg, kind, status)
}

func reportErrorWithKind(w http.ResponseWriter, err error, msg string, kind string, status int) {
	if status >= 500 {
		logrus.Errorf("%s: %s", msg, err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Kind:    kind,
		Message: fmt.Sprintf("%s: %s", msg, err),
	})
}

// writeJSON writes body as a JSON encoded HTTP response and logs failures.
func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("Failed to write JSON response: %s", err)
	}
}

// resolve extracts the project and key from the request path. The key may be
// empty (listing the project root). Returns false if the project is unknown,
// in which case the error has already been reported.
func (a *Api) resolve(w http.ResponseWriter, r *http.Request) (*project.Project, string, bool) {
	name := chi.URLParam(r, "project")
	p, err := a.router.Lookup(name)
	if err != nil {
		reportError(w, err, "Unknown project")
		return nil, "", false
	}
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	return p, key, true
}

// projectsHandler returns the names of all served projects.
func (a *Api) projectsHandler(w http.ResponseWriter, r *http.Request) {
	requestsTotal.WithLabelValues("projects").Inc()
	writeJSON(w, a.router.Names())
}

// getHandler serves reads, listings and HEAD probes.
func (a *Api) getHandler(w http.ResponseWriter, r *http.Request) {
	requestsTotal.WithLabelValues("get").Inc()
	p, key, ok := a.resolve(w, r)
	if !ok {
		return
	}

	if _, listing := r.URL.Query()["list"]; listing || key == "" || strings.HasSuffix(key, "/") {
		a.serveListing(w, r, p, key)
		return
	}

	value, err := p.Store.Get(r.Context(), key)
	if err != nil {
		reportError(w, err, "Failed to read key")
		return
	}

	etag := fmt.Sprintf("%q", fmt.Sprintf("%x", md5.Sum(value)))
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", zarrmeta.ContentType(key))

	status := http.StatusOK
	body := value
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		start, end, err := parseRange(rangeHeader, int64(len(value)))
		if err != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", len(value)))
			reportErrorWithKind(w, err, "Unsatisfiable range", kindRangeNotSatisfiable, http.StatusRequestedRangeNotSatisfiable)
			return
		}
		body = value[start:end]
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, len(value)))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil {
		logrus.Errorf("Failed to write response for %s: %s", key, err)
	}
}

// listing is the JSON response of a listing request.
type listing struct {
	Prefix string   `json:"prefix"`
	Names  []string `json:"names"`
}

// serveListing returns the immediate children under the given prefix. A
// child with further structure beneath it is reported with a trailing slash.
func (a *Api) serveListing(w http.ResponseWriter, r *http.Request, p *project.Project, prefix string) {
	requestsTotal.WithLabelValues("list").Inc()
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	keys, err := p.Store.ListKeys(r.Context(), prefix)
	if err != nil {
		reportError(w, err, "Failed to list keys")
		return
	}

	seen := map[string]bool{}
	names := []string{}
	for _, key := range keys {
		rest := strings.TrimPrefix(key, prefix)
		name, _, isGroup := strings.Cut(rest, "/")
		if isGroup {
			name += "/"
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	writeJSON(w, listing{
		Prefix: prefix,
		Names:  names,
	})
}

// putHandler serves writes. Metadata documents are validated before they are
// stored; chunk keys accept arbitrary opaque bytes.
func (a *Api) putHandler(w http.ResponseWriter, r *http.Request) {
	requestsTotal.WithLabelValues("put").Inc()
	p, key, ok := a.resolve(w, r)
	if !ok {
		return
	}
	if key == "" {
		reportErrorWithKind(w, errors.New("empty key"), "A key is required", kindMalformedPayload, http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		reportErrorWithKind(w, err, "Failed to read request body", kindMalformedPayload, http.StatusBadRequest)
		return
	}

	if zarrmeta.IsMetadataKey(key) {
		if err := zarrmeta.ValidateDocument(key, body); err != nil {
			reportErrorWithKind(w, err, "Invalid metadata document", kindMalformedPayload, http.StatusBadRequest)
			return
		}
	}

	// Existence check only decides the response code; the write itself is a
	// plain last-write-wins overwrite.
	_, getErr := p.Store.Get(r.Context(), key)
	created := errors.Is(getErr, store.ErrNotFound)

	if err := p.Store.Put(r.Context(), key, body); err != nil {
		reportError(w, err, "Failed to write key")
		return
	}
	if created {
		w.WriteHeader(http.StatusCreated)
	}
}

// deleteHandler serves deletions.
func (a *Api) deleteHandler(w http.ResponseWriter, r *http.Request) {
	requestsTotal.WithLabelValues("delete").Inc()
	p, key, ok := a.resolve(w, r)
	if !ok {
		return
	}
	if err := p.Store.Delete(r.Context(), key); err != nil {
		reportError(w, err, "Failed to delete key")
		return
	}
}

// parseRange parses a single-range "bytes=..." header against a value of the
// given length, returning a half-open [start, end) interval clamped to the
// value. Multi-range requests and ranges starting at or beyond the end of
// the value are rejected.
func parseRange(header string, length int64) (int64, int64, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, errors.Errorf("unsupported range unit in %q", header)
	}
	if strings.Contains(spec, ",") {
		return 0, 0, errors.Errorf("multiple ranges are not supported: %q", header)
	}
	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, errors.Errorf("malformed range %q", header)
	}

	if first == "" {
		// Suffix range: last n bytes.
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, errors.Errorf("malformed range %q", header)
		}
		if n > length {
			n = length
		}
		return length - n, length, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errors.Errorf("malformed range %q", header)
	}
	if start >= length {
		return 0, 0, errors.Errorf("range start %d beyond length %d", start, length)
	}
	end := length
	if last != "" {
		// HTTP ranges are inclusive of the last byte.
		lastByte, err := strconv.ParseInt(last, 10, 64)
		if err != nil || lastByte < start {
			return 0, 0, errors.Errorf("malformed range %q", header)
		}
		if lastByte+1 < end {
			end = lastByte + 1
		}
	}
	return start, end, nil
}

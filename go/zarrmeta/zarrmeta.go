// Package zarrmeta handles the structured documents and naming conventions
// of the served array store: zarr v2 array metadata, chunk key naming, and
// the copick segmentation namespace.
//
// The storage layer treats all of these as opaque bytes; this package is the
// only place that parses them, at the write boundary.
package zarrmeta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Suffixes of keys that hold structured JSON documents rather than opaque
// chunk bytes.
const (
	ArraySuffix = ".zarray"
	GroupSuffix = ".zgroup"
	AttrsSuffix = ".zattrs"
)

// ArrayMeta is a zarr v2 array metadata document (the ".zarray" file). The
// server validates these on write; everything else passes through untouched.
type ArrayMeta struct {
	ZarrFormat         int             `json:"zarr_format"`
	Shape              []int64         `json:"shape"`
	Chunks             []int64         `json:"chunks"`
	DType              string          `json:"dtype"`
	Compressor         json.RawMessage `json:"compressor"`
	FillValue          json.RawMessage `json:"fill_value"`
	Order              string          `json:"order"`
	Filters            json.RawMessage `json:"filters"`
	DimensionSeparator string          `json:"dimension_separator,omitempty"`
}

// ParseArrayMeta decodes and validates an array metadata document.
func ParseArrayMeta(b []byte) (ArrayMeta, error) {
	var ret ArrayMeta
	if len(b) == 0 {
		return ret, errors.New("empty metadata document")
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&ret); err != nil {
		return ret, errors.Wrap(err, "decoding array metadata")
	}
	if err := ret.Validate(); err != nil {
		return ret, err
	}
	return ret, nil
}

// Validate returns an error describing the first structural problem found.
func (a ArrayMeta) Validate() error {
	if a.ZarrFormat != 2 {
		return errors.Errorf("unsupported zarr_format: %d", a.ZarrFormat)
	}
	if len(a.Shape) == 0 {
		return errors.New("shape must not be empty")
	}
	if len(a.Chunks) != len(a.Shape) {
		return errors.Errorf("chunks rank %d does not match shape rank %d", len(a.Chunks), len(a.Shape))
	}
	for i, n := range a.Shape {
		if n < 0 {
			return errors.Errorf("shape[%d] is negative", i)
		}
	}
	for i, n := range a.Chunks {
		if n <= 0 {
			return errors.Errorf("chunks[%d] must be positive", i)
		}
	}
	if a.DType == "" {
		return errors.New("dtype must be set")
	}
	if a.Order != "C" && a.Order != "F" {
		return errors.Errorf("unknown order: %q", a.Order)
	}
	if a.DimensionSeparator != "" && a.DimensionSeparator != "." && a.DimensionSeparator != "/" {
		return errors.Errorf("unknown dimension_separator: %q", a.DimensionSeparator)
	}
	return nil
}

// Encode serializes the document as JSON.
func (a ArrayMeta) Encode() ([]byte, error) {
	b, err := json.MarshalIndent(a, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding array metadata")
	}
	return b, nil
}

// IsMetadataKey returns true if the key holds a structured JSON document, as
// opposed to opaque chunk bytes.
func IsMetadataKey(key string) bool {
	return strings.HasSuffix(key, ArraySuffix) ||
		strings.HasSuffix(key, GroupSuffix) ||
		strings.HasSuffix(key, AttrsSuffix) ||
		strings.HasSuffix(key, ".json")
}

// ContentType returns the MIME type to serve for the given key.
func ContentType(key string) string {
	if IsMetadataKey(key) {
		return "application/json"
	}
	return "application/octet-stream"
}

// ValidateDocument validates the payload for a metadata key. ".zarray" keys
// must be a structurally valid ArrayMeta; the other document kinds only need
// to be well-formed JSON.
func ValidateDocument(key string, b []byte) error {
	if strings.HasSuffix(key, ArraySuffix) {
		_, err := ParseArrayMeta(b)
		return err
	}
	if len(b) == 0 {
		return errors.New("empty metadata document")
	}
	if !json.Valid(b) {
		return errors.New("metadata document is not valid JSON")
	}
	return nil
}

// ChunkKey returns the key of the chunk at the given coordinates, relative
// to the array prefix, e.g. ChunkKey("a.zarr", []int64{0, 1, 2}, ".") ->
// "a.zarr/0.1.2".
func ChunkKey(arrayPrefix string, coords []int64, separator string) string {
	if separator == "" {
		separator = "."
	}
	parts := make([]string, 0, len(coords))
	for _, c := range coords {
		parts = append(parts, strconv.FormatInt(c, 10))
	}
	return arrayPrefix + "/" + strings.Join(parts, separator)
}

// SegmentationName returns the conventional file name of a segmentation
// array: "{voxel_size:.3f}_{user}_{session}_{name}[-multilabel].zarr".
func SegmentationName(voxelSize float64, userID, sessionID, name string, multilabel bool) string {
	if multilabel {
		name += "-multilabel"
	}
	return fmt.Sprintf("%.3f_%s_%s_%s.zarr", voxelSize, userID, sessionID, name)
}

// SegmentationPath returns the key prefix of a segmentation array within a
// project, namespaced by run.
func SegmentationPath(run string, voxelSize float64, userID, sessionID, name string, multilabel bool) string {
	return run + "/Segmentations/" + SegmentationName(voxelSize, userID, sessionID, name, multilabel)
}

// NewSegmentationMeta builds the array metadata document for a new
// segmentation. Multilabel segmentations store label IDs as uint64,
// single-label masks as uint8. The array exists, with zero populated chunks,
// as soon as this document is written.
func NewSegmentationMeta(shape, chunks []int64, multilabel bool) ArrayMeta {
	dtype := "|u1"
	if multilabel {
		dtype = "<u8"
	}
	return ArrayMeta{
		ZarrFormat:         2,
		Shape:              shape,
		Chunks:             chunks,
		DType:              dtype,
		Compressor:         json.RawMessage("null"),
		FillValue:          json.RawMessage("0"),
		Order:              "C",
		Filters:            json.RawMessage("null"),
		DimensionSeparator: "/",
	}
}

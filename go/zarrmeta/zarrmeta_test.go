package zarrmeta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validArray = `{
    "zarr_format": 2,
    "shape": [64, 64, 64],
    "chunks": [32, 32, 32],
    "dtype": "|u1",
    "compressor": null,
    "fill_value": 0,
    "order": "C",
    "filters": null
}`

func TestParseArrayMeta_ValidDocument_Success(t *testing.T) {
	meta, err := ParseArrayMeta([]byte(validArray))
	require.NoError(t, err)
	assert.Equal(t, []int64{64, 64, 64}, meta.Shape)
	assert.Equal(t, []int64{32, 32, 32}, meta.Chunks)
	assert.Equal(t, "|u1", meta.DType)
}

func TestParseArrayMeta_EmptyBody_ReturnsError(t *testing.T) {
	_, err := ParseArrayMeta(nil)
	require.Error(t, err)
}

func TestParseArrayMeta_RankMismatch_ReturnsError(t *testing.T) {
	_, err := ParseArrayMeta([]byte(`{"zarr_format":2,"shape":[10,10],"chunks":[10],"dtype":"|u1","order":"C"}`))
	require.Error(t, err)
}

func TestParseArrayMeta_WrongZarrFormat_ReturnsError(t *testing.T) {
	_, err := ParseArrayMeta([]byte(`{"zarr_format":3,"shape":[10],"chunks":[10],"dtype":"|u1","order":"C"}`))
	require.Error(t, err)
}

func TestValidateDocument_NonZarrayJSON_OnlyNeedsToBeValidJSON(t *testing.T) {
	require.NoError(t, ValidateDocument("run1/.zattrs", []byte(`{"anything": [1, 2]}`)))
	require.Error(t, ValidateDocument("run1/.zattrs", []byte(`{"broken"`)))
	require.Error(t, ValidateDocument("run1/.zattrs", nil))
}

func TestIsMetadataKey_KnownSuffixes(t *testing.T) {
	assert.True(t, IsMetadataKey("a/b/.zarray"))
	assert.True(t, IsMetadataKey("a/b/.zgroup"))
	assert.True(t, IsMetadataKey("a/b/.zattrs"))
	assert.True(t, IsMetadataKey("run1/meta.json"))
	assert.False(t, IsMetadataKey("a/b/0.0.0"))
}

func TestContentType_ChunkVsMetadata(t *testing.T) {
	assert.Equal(t, "application/json", ContentType("a/.zarray"))
	assert.Equal(t, "application/octet-stream", ContentType("a/0.0.0"))
}

func TestChunkKey_Separators(t *testing.T) {
	assert.Equal(t, "a.zarr/0.1.2", ChunkKey("a.zarr", []int64{0, 1, 2}, "."))
	assert.Equal(t, "a.zarr/0/1/2", ChunkKey("a.zarr", []int64{0, 1, 2}, "/"))
	assert.Equal(t, "a.zarr/3.4", ChunkKey("a.zarr", []int64{3, 4}, ""))
}

func TestSegmentationPath_MatchesNamingConvention(t *testing.T) {
	got := SegmentationPath("10440", 10.0, "u1", "s1", "membrane", true)
	assert.Equal(t, "10440/Segmentations/10.000_u1_s1_membrane-multilabel.zarr", got)

	got = SegmentationPath("10440", 7.84, "u1", "0", "ribosome", false)
	assert.Equal(t, "10440/Segmentations/7.840_u1_0_ribosome.zarr", got)
}

func TestNewSegmentationMeta_DTypeFollowsMultilabel(t *testing.T) {
	meta := NewSegmentationMeta([]int64{64, 64, 64}, []int64{32, 32, 32}, false)
	require.NoError(t, meta.Validate())
	assert.Equal(t, "|u1", meta.DType)

	meta = NewSegmentationMeta([]int64{64, 64, 64}, []int64{32, 32, 32}, true)
	require.NoError(t, meta.Validate())
	assert.Equal(t, "<u8", meta.DType)

	// Round-trips through its own encoder and parser.
	b, err := meta.Encode()
	require.NoError(t, err)
	parsed, err := ParseArrayMeta(b)
	require.NoError(t, err)
	assert.Equal(t, meta.Shape, parsed.Shape)
}
